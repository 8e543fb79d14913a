package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	release, err := m.Acquire(ctx, "txn-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "txn-1", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire: got %v, want ErrLocked", err)
	}
	if _, err := m.Acquire(ctx, "txn-2", time.Minute); err != nil {
		t.Errorf("other key: %v", err)
	}

	release()
	release()

	if _, err := m.Acquire(ctx, "txn-1", time.Minute); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	stale, err := m.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	clock = clock.Add(2 * time.Second)
	fresh, err := m.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}

	// Releasing the expired holder must not free the new one.
	stale()
	if _, err := m.Acquire(ctx, "k", time.Second); !errors.Is(err, ErrLocked) {
		t.Errorf("got %v, want ErrLocked", err)
	}
	fresh()
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMemory().Acquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
