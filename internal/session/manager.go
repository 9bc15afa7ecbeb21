package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// maxUpdateAttempts bounds retries of a read-modify-write on version conflicts.
const maxUpdateAttempts = 3

// ErrMissingToken is returned when Login is called without an access token.
var ErrMissingToken = errors.New("access token is required")

// Manager owns the session lifecycle on top of a Store.
type Manager struct {
	store Store
}

// NewManager creates a session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Login creates a session for the given credentials.
func (m *Manager) Login(ctx context.Context, accessToken, refreshToken, role string) (*models.SessionContext, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingToken
	}
	sess := &models.SessionContext{
		ID:           uuid.NewString(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserRole:     role,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("Manager.Login: session created", "session_id", sess.ID, "role", role, "refresh_token_set", refreshToken != "")
	return sess, nil
}

// Get returns the session or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*models.SessionContext, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// SelectWorkspace records the current workspace of the session.
func (m *Manager) SelectWorkspace(ctx context.Context, id, workspaceID string) (*models.SessionContext, error) {
	return m.mutate(ctx, id, func(s *models.SessionContext) {
		s.WorkspaceID = workspaceID
	})
}

// UpdateTokens persists refreshed credentials carried by sess.
func (m *Manager) UpdateTokens(ctx context.Context, sess *models.SessionContext) error {
	access, refresh := sess.AccessToken, sess.RefreshToken
	stored, err := m.mutate(ctx, sess.ID, func(s *models.SessionContext) {
		s.AccessToken = access
		s.RefreshToken = refresh
	})
	if err != nil {
		return err
	}
	sess.Version = stored.Version
	sess.UpdatedAt = stored.UpdatedAt
	return nil
}

// Logout deletes the session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("Manager.Logout: session deleted", "session_id", id)
	return nil
}

// mutate applies fn to the stored session, retrying on version conflicts.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*models.SessionContext)) (*models.SessionContext, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		sess, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		fn(sess)
		err = m.store.Update(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
		lastErr = err
		slog.Debug("Manager.mutate: version conflict, retrying", "session_id", id, "attempt", attempt+1)
	}
	return nil, lastErr
}
