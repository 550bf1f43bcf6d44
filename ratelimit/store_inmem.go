package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemStore implements Store with process-local state. It mirrors the Redis
// script semantics exactly so limiter behavior can be unit tested without a
// running Redis. Suitable for single-node deployments and tests only.
type InMemStore struct {
	mu      sync.Mutex
	windows map[string][]int64 // unix milliseconds, ascending
}

// NewInMemStore builds an empty in-memory store.
func NewInMemStore() *InMemStore {
	return &InMemStore{windows: make(map[string][]int64)}
}

// Probe evicts, counts, and conditionally records the new timestamp under a
// single lock.
func (s *InMemStore) Probe(_ context.Context, key string, now time.Time, window time.Duration, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.UnixMilli() - window.Milliseconds()
	entries := s.windows[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	count := len(kept)
	if count < max {
		kept = append(kept, now.UnixMilli())
	}
	if len(kept) == 0 {
		delete(s.windows, key)
	} else {
		s.windows[key] = kept
	}
	return count, nil
}
