package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// storeContract runs the behavior every Store must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	sess := &models.SessionContext{ID: "contract-" + time.Now().Format("150405.000000"), AccessToken: "a1"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("expected version 1, got %d", sess.Version)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil || got == nil || got.AccessToken != "a1" {
		t.Fatalf("Get: %+v, %v", got, err)
	}

	got.WorkspaceID = "ws-1"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	stale := *sess
	stale.WorkspaceID = "ws-stale"
	if err := store.Update(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	missing := &models.SessionContext{ID: "missing", Version: 1}
	if err := store.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := store.Get(ctx, sess.ID); err != nil || got != nil {
		t.Errorf("expected nil after delete, got %+v, %v", got, err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	sess := &models.SessionContext{ID: "s1"}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	now = now.Add(30 * time.Second)
	if got, _ := store.Get(context.Background(), "s1"); got == nil {
		t.Fatal("expected session before TTL")
	}
	now = now.Add(45 * time.Second)
	if got, _ := store.Get(context.Background(), "s1"); got == nil {
		t.Fatal("read should have refreshed the TTL")
	}
	now = now.Add(2 * time.Minute)
	if got, _ := store.Get(context.Background(), "s1"); got != nil {
		t.Errorf("expected expiry, got %+v", got)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	sess := &models.SessionContext{ID: "s1", AccessToken: "a"}
	_ = store.Create(context.Background(), sess)
	sess.AccessToken = "mutated"
	got, _ := store.Get(context.Background(), "s1")
	if got.AccessToken != "a" {
		t.Errorf("store aliased caller memory: %q", got.AccessToken)
	}
}

func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skipf("REDIS_URL not set, skipping Redis session store test")
	}
	store, err := NewRedisStoreFromURL(context.Background(), url, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStoreFromURL: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

// failingStore fails every call with an infrastructure error.
type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) Create(context.Context, *models.SessionContext) error { return errDown }
func (failingStore) Get(context.Context, string) (*models.SessionContext, error) {
	return nil, errDown
}
func (failingStore) Update(context.Context, *models.SessionContext) error { return errDown }
func (failingStore) Delete(context.Context, string) error                 { return errDown }
func (failingStore) Close() error                                         { return nil }

func TestFallbackStore_DegradesToSecondary(t *testing.T) {
	secondary := NewMemoryStore(time.Hour)
	storeContract(t, NewFallbackStore(failingStore{}, secondary))
}

func TestFallbackStore_PrefersPrimary(t *testing.T) {
	primary := NewMemoryStore(time.Hour)
	secondary := NewMemoryStore(time.Hour)
	store := NewFallbackStore(primary, secondary)

	sess := &models.SessionContext{ID: "s1"}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := primary.Get(context.Background(), "s1"); got == nil {
		t.Error("session should be in primary")
	}
	if got, _ := secondary.Get(context.Background(), "s1"); got != nil {
		t.Error("session should not be in secondary")
	}
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour))

	if _, err := m.Login(ctx, " ", "r", "USER"); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}

	sess, err := m.Login(ctx, "access", "refresh", "USER")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.ID == "" || !sess.Authenticated() {
		t.Fatalf("unexpected session %+v", sess)
	}

	updated, err := m.SelectWorkspace(ctx, sess.ID, "ws-9")
	if err != nil {
		t.Fatalf("SelectWorkspace: %v", err)
	}
	if updated.WorkspaceID != "ws-9" {
		t.Errorf("workspace not set: %+v", updated)
	}

	// A stale copy, as held by a request that refreshed tokens.
	sess.AccessToken = "access-2"
	sess.RefreshToken = "refresh-2"
	if err := m.UpdateTokens(ctx, sess); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "access-2" || got.RefreshToken != "refresh-2" || got.WorkspaceID != "ws-9" {
		t.Errorf("unexpected stored session %+v", got)
	}

	if err := m.Logout(ctx, sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after logout, got %v", err)
	}
	if _, err := m.SelectWorkspace(ctx, sess.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
