// Package lock provides keyed locking for concurrent balance and stake operations.
// A KeyLock serializes work per key (a user id for ledger writes, a session id
// for escrow bookkeeping) without a global bottleneck.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key stays held past the caller's timeout.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyLock provides per-key locking. Entries are dropped once no goroutine
// holds or waits for them, so long-running processes do not accumulate keys.
type KeyLock[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyMutex
}

// UserLock is the per-user lock used around ledger operations.
type UserLock = KeyLock[int64]

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{locks: make(map[K]*keyMutex)}
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return NewKeyLock[int64]()
}

// acquire returns the mutex for key with its reference count bumped.
func (kl *KeyLock[K]) acquire(key K) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refCount++
	return m
}

// release drops one reference and forgets the key when unused.
func (kl *KeyLock[K]) release(key K, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refCount--
	if m.refCount == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for a key.
func (kl *KeyLock[K]) Lock(key K) {
	kl.acquire(key).mu.Lock()
}

// Unlock releases the lock for a key.
func (kl *KeyLock[K]) Unlock(key K) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	m.mu.Unlock()
	kl.release(key, m)
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyLock[K]) TryLock(key K) bool {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		return true
	}
	kl.release(key, m)
	return false
}

// lockWithTimeout waits for the lock until the timeout or ctx expires.
func (kl *KeyLock[K]) lockWithTimeout(ctx context.Context, key K, timeout time.Duration) bool {
	m := kl.acquire(key)

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine still owns a reference; hand the mutex back
		// as soon as it gets it.
		go func() {
			<-done
			m.mu.Unlock()
			kl.release(key, m)
		}()
		return false
	}
}

// WithLock executes fn while holding the key's lock.
func (kl *KeyLock[K]) WithLock(key K, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the key's lock, giving up with
// ErrLockTimeout if the lock is not acquired within timeout.
func (kl *KeyLock[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if !kl.lockWithTimeout(ctx, key, timeout) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func (kl *KeyLock[K]) tracked() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
