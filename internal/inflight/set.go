// Package inflight guards against duplicate concurrent handling of the same
// key (a job id). The memory set lives for the process lifetime only; the
// Redis set extends the guard across instances. Neither is a durability
// guarantee: callers keep their own persistent idempotency check.
package inflight

import (
	"context"
	"sync"
)

// Set supports atomic add-if-absent semantics
type Set interface {
	// Acquire adds key and reports true, or reports false if key is already held
	Acquire(ctx context.Context, key string) (bool, error)
	// Release removes key
	Release(ctx context.Context, key string) error
}

// MemorySet is a mutex-guarded in-process Set
type MemorySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemorySet returns an empty MemorySet
func NewMemorySet() *MemorySet {
	return &MemorySet{keys: make(map[string]struct{})}
}

// Acquire implements Set
func (s *MemorySet) Acquire(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.keys[key]; held {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

// Release implements Set
func (s *MemorySet) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// Len returns the number of held keys
func (s *MemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
