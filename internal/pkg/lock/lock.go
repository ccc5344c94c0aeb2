// Package lock provides per-member in-process locks. They serialise a
// member's own requests at the transport edge; balance correctness comes
// from database row locks and unique keys, not from this package.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock cannot be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// keyMutex is a one-slot semaphore with a reference count so idle keys can
// be dropped from the map.
type keyMutex struct {
	ch   chan struct{}
	refs int
}

// KeyedLock provides one lock per string key.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyMutex)}
}

func (kl *KeyedLock) acquireRef(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{ch: make(chan struct{}, 1)}
		kl.locks[key] = m
	}
	m.refs++
	return m
}

func (kl *KeyedLock) releaseRef(key string, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for key.
func (kl *KeyedLock) Lock(key string) {
	m := kl.acquireRef(key)
	m.ch <- struct{}{}
}

// Unlock releases the lock for key. Unlocking a key that is not locked is a no-op.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-m.ch:
		kl.releaseRef(key, m)
	default:
	}
}

// TryLock attempts to acquire the lock without blocking.
func (kl *KeyedLock) TryLock(key string) bool {
	m := kl.acquireRef(key)
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		kl.releaseRef(key, m)
		return false
	}
}

// LockContext waits for the lock until ctx is done or timeout elapses.
// Returns ErrLockTimeout on timeout and ctx.Err() on cancellation.
func (kl *KeyedLock) LockContext(ctx context.Context, key string, timeout time.Duration) error {
	m := kl.acquireRef(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		kl.releaseRef(key, m)
		return ErrLockTimeout
	case <-ctx.Done():
		kl.releaseRef(key, m)
		return ctx.Err()
	}
}

// WithLock executes fn while holding the lock for key.
func (kl *KeyedLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the lock for key, giving up
// after timeout.
func (kl *KeyedLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if err := kl.LockContext(ctx, key, timeout); err != nil {
		return err
	}
	defer kl.Unlock(key)
	return fn()
}

// IsLocked reports whether key is currently held.
// This is a point-in-time check and may change immediately after.
func (kl *KeyedLock) IsLocked(key string) bool {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	return ok && len(m.ch) == 1
}

// Len returns the number of keys currently tracked.
func (kl *KeyedLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
