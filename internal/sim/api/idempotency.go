package api

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is an in-process idempotency cache. Good enough
// for the single-instance simulator; production would use Redis.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

type idempotencyEntry struct {
	response  []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]idempotencyEntry)}
}

// Get returns the cached response for a key, if present and unexpired.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.response, true, nil
}

// Set caches a response under a key for ttl.
func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idempotencyEntry{
		response:  response,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
