// Package session stores the explicit per-user session context: selected
// workspace and auth credentials. A session is created at login, updated on
// workspace selection and token refresh, and deleted at logout.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when an update races a concurrent update.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store defines session storage operations.
type Store interface {
	// Create stores a new session with Version set to 1.
	Create(ctx context.Context, sess *models.SessionContext) error

	// Get retrieves a session by ID. Returns nil, nil when not found.
	Get(ctx context.Context, id string) (*models.SessionContext, error)

	// Update stores sess if its Version matches the stored one, then
	// increments Version and UpdatedAt. Returns ErrVersionConflict on a
	// mismatch and ErrNotFound when the session does not exist.
	Update(ctx context.Context, sess *models.SessionContext) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}
