package maintain

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSemaphoreExcludes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "maintenance.lock")
	a := NewFileSemaphore(path)
	b := NewFileSemaphore(path)

	if err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err == nil {
		t.Fatal("second Acquire succeeded while the lock was held")
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestFileSemaphoreReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()
	s := NewFileSemaphore(filepath.Join(t.TempDir(), "maintenance.lock"))
	if err := s.Release(); err != nil {
		t.Fatalf("Release on an unheld semaphore: %v", err)
	}
}
