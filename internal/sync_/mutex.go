package sync_

import "sync"

// Mutexed guards a value so it can only be reached while holding the lock.
type Mutexed[T any] struct {
	mu    sync.Mutex
	value T
}

func NewMutexed[T any](value T) *Mutexed[T] {
	return &Mutexed[T]{value: value}
}

// Locked runs f with the lock held. The pointer must not escape f.
func (m *Mutexed[T]) Locked(f func(*T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(&m.value)
}

// RWMutexed is Mutexed for values that are read far more often than written.
type RWMutexed[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewRWMutexed[T any](value T) *RWMutexed[T] {
	return &RWMutexed[T]{value: value}
}

func (m *RWMutexed[T]) Locked(f func(*T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(&m.value)
}

// RLocked runs f holding only the read lock, so f must not modify the value.
func (m *RWMutexed[T]) RLocked(f func(*T) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f(&m.value)
}
