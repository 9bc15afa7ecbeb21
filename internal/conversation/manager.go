package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// DefaultTTL is how long an untouched conversation stays open.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned for unknown, expired, or foreign conversations.
var ErrNotFound = errors.New("conversation not found")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Loader    TemplateLoader
	Generator Generator
	// Sessions resolves the owning session when an accepted template is saved.
	Sessions SessionSource
	// Options are applied to every conversation before its session option.
	Options []Option
	TTL     time.Duration
	Now     func() time.Time
}

type managedConversation struct {
	conv      *Conversation
	sessionID string
	expiresAt time.Time
}

// Manager is the registry of live conversations, one per page visit.
type Manager struct {
	loader    TemplateLoader
	generator Generator
	sessions  SessionSource
	options   []Option
	ttl       time.Duration
	now       func() time.Time

	mu            sync.Mutex
	conversations map[string]*managedConversation
}

// NewManager creates a conversation registry.
func NewManager(cfg ManagerConfig) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		loader:        cfg.Loader,
		generator:     cfg.Generator,
		sessions:      cfg.Sessions,
		options:       cfg.Options,
		ttl:           ttl,
		now:           now,
		conversations: make(map[string]*managedConversation),
	}
}

// Open starts a conversation for the session and initializes it. The
// conversation is registered even when the load fails so the page can render
// the not-ready state; the load error is returned alongside.
//
// sess is only used for the initial fetch. Later saves look the session up
// again by id so they see tokens rotated by other requests.
func (m *Manager) Open(ctx context.Context, sess *models.SessionContext, workspaceID, templateID string) (string, *Conversation, error) {
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	opts := append([]Option{}, m.options...)
	if m.sessions != nil {
		opts = append(opts, WithSessionSource(m.sessions, sessionID))
	}
	conv := New(m.loader, m.generator, opts...)
	initErr := conv.Initialize(ctx, sess, workspaceID, templateID)

	id := uuid.NewString()

	now := m.now()
	m.mu.Lock()
	m.cleanupLocked(now)
	m.conversations[id] = &managedConversation{conv: conv, sessionID: sessionID, expiresAt: now.Add(m.ttl)}
	m.mu.Unlock()

	slog.Debug("Manager.Open: conversation opened", "conversation_id", id, "workspace_id", workspaceID, "template_id", templateID, "ready", initErr == nil)
	return id, conv, initErr
}

// Get returns the live conversation id owned by sessionID and extends its lifetime.
func (m *Manager) Get(id, sessionID string) (*Conversation, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(now)
	entry, ok := m.conversations[id]
	if !ok || entry.sessionID != sessionID {
		return nil, ErrNotFound
	}
	entry.expiresAt = now.Add(m.ttl)
	return entry.conv, nil
}

// Close discards a conversation.
func (m *Manager) Close(id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.conversations[id]
	if !ok || entry.sessionID != sessionID {
		return ErrNotFound
	}
	delete(m.conversations, id)
	slog.Debug("Manager.Close: conversation closed", "conversation_id", id)
	return nil
}

// CloseSession discards every conversation owned by sessionID.
func (m *Manager) CloseSession(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, entry := range m.conversations {
		if entry.sessionID == sessionID {
			delete(m.conversations, id)
			n++
		}
	}
	return n
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(m.now())
	return len(m.conversations)
}

// Sweep discards expired conversations and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(m.now())
}

func (m *Manager) cleanupLocked(now time.Time) int {
	n := 0
	for id, entry := range m.conversations {
		if now.After(entry.expiresAt) {
			delete(m.conversations, id)
			n++
		}
	}
	return n
}
