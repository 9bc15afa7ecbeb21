package session

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

type memoryEntry struct {
	sess      models.SessionContext
	expiresAt time.Time
}

// MemoryStore implements Store with an in-process map. Entries expire after
// the TTL without access.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memoryEntry
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]*memoryEntry)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, sess *models.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.Version = 1
	s.sessions[sess.ID] = &memoryEntry{sess: *sess, expiresAt: now.Add(s.ttl)}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	now := s.now()
	if now.After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, nil
	}
	entry.expiresAt = now.Add(s.ttl)
	copied := entry.sess
	return &copied, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, sess *models.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sess.ID]
	now := s.now()
	if !ok || now.After(entry.expiresAt) {
		return ErrNotFound
	}
	if entry.sess.Version != sess.Version {
		return ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = now
	entry.sess = *sess
	entry.expiresAt = now.Add(s.ttl)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*memoryEntry)
	return nil
}
