// Package lock serializes work on a key, such as verifying one vendor
// transaction, across goroutines or processes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = errors.New("lock: already held")

// Locker acquires exclusive, expiring locks on keys.
type Locker interface {
	// Acquire takes the lock on key for at most ttl. The returned release
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]uint64
	exp   map[string]time.Time
	token uint64
	now   func() time.Time
}

// NewMemory creates a process-local locker.
func NewMemory() *Memory {
	return &Memory{
		held: make(map[string]uint64),
		exp:  make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok && m.now().Before(m.exp[key]) {
		return nil, ErrLocked
	}

	m.token++
	token := m.token
	m.held[key] = token
	m.exp[key] = m.now().Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// An expired lock may have been re-acquired by someone else.
			if m.held[key] == token {
				delete(m.held, key)
				delete(m.exp, key)
			}
		})
	}, nil
}

var _ Locker = (*Memory)(nil)
