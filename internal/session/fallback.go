package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// FallbackStore uses primary and falls back to secondary when primary fails
// with an infrastructure error. Lookup misses and version conflicts are
// answers, not failures, and are returned as-is.
type FallbackStore struct {
	primary   Store
	secondary Store
}

// NewFallbackStore creates a store that degrades from primary to secondary.
func NewFallbackStore(primary, secondary Store) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

func isAnswer(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict)
}

// Create implements Store.
func (s *FallbackStore) Create(ctx context.Context, sess *models.SessionContext) error {
	err := s.primary.Create(ctx, sess)
	if isAnswer(err) {
		return err
	}
	slog.Warn("FallbackStore.Create: primary failed, using fallback", "error", err, "session_id", sess.ID)
	return s.secondary.Create(ctx, sess)
}

// Get implements Store. A miss on primary is also looked up on secondary so
// sessions created during an outage stay reachable.
func (s *FallbackStore) Get(ctx context.Context, id string) (*models.SessionContext, error) {
	sess, err := s.primary.Get(ctx, id)
	if err == nil && sess != nil {
		return sess, nil
	}
	if err != nil {
		slog.Warn("FallbackStore.Get: primary failed, using fallback", "error", err, "session_id", id)
	}
	return s.secondary.Get(ctx, id)
}

// Update implements Store.
func (s *FallbackStore) Update(ctx context.Context, sess *models.SessionContext) error {
	err := s.primary.Update(ctx, sess)
	if errors.Is(err, ErrNotFound) {
		return s.secondary.Update(ctx, sess)
	}
	if isAnswer(err) {
		return err
	}
	slog.Warn("FallbackStore.Update: primary failed, using fallback", "error", err, "session_id", sess.ID)
	return s.secondary.Update(ctx, sess)
}

// Delete implements Store. The session is removed from both stores.
func (s *FallbackStore) Delete(ctx context.Context, id string) error {
	perr := s.primary.Delete(ctx, id)
	serr := s.secondary.Delete(ctx, id)
	if perr != nil {
		slog.Warn("FallbackStore.Delete: primary failed", "error", perr, "session_id", id)
		return serr
	}
	return nil
}

// Close implements Store.
func (s *FallbackStore) Close() error {
	return errors.Join(s.primary.Close(), s.secondary.Close())
}
