package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	info, ok := ParseInfo(string(content))
	if !ok || info.PID != os.Getpid() {
		t.Errorf("lock file should name this process, got %q", content)
	}
	if time.Since(info.Started) > time.Minute {
		t.Errorf("unexpected start time %v", info.Started)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if !strings.Contains(lockErr.Holder, "running") {
		t.Errorf("holder should describe this process, got %q", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), lockErr.LockPath) {
		t.Errorf("error should name the lock file: %s", err)
	}

	// The failed attempt must not wipe the holder's info.
	content, _ := os.ReadFile(first.Path())
	if _, ok := ParseInfo(string(content)); !ok {
		t.Errorf("holder info lost: %q", content)
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireLock_StaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := Info{PID: 999999, Started: time.Now().Add(-time.Hour)}.String()
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(stale), 0644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("stale file without a lock should be taken over: %v", err)
	}
	defer lock.Release()
	content, _ := os.ReadFile(lock.Path())
	if info, _ := ParseInfo(string(content)); info.PID != os.Getpid() {
		t.Errorf("expected our PID after takeover, got %d", info.PID)
	}
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		content string
		pid     int
		ok      bool
	}{
		{"pid=42\nstarted=2026-01-02T03:04:05Z\n", 42, true},
		{"pid=7\n", 7, true},
		{"garbage", 0, false},
		{"pid=abc\n", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		info, ok := ParseInfo(tt.content)
		if ok != tt.ok || info.PID != tt.pid {
			t.Errorf("ParseInfo(%q) = %+v, %v; want pid %d, %v", tt.content, info, ok, tt.pid, tt.ok)
		}
	}
}
