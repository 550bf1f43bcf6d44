// Package inmem provides an in-memory objstore.Store for tests.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Store keeps uploaded objects in a map keyed by "bucket/path".
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New builds an empty store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Upload stores a copy of the object and returns a synthetic URL.
func (s *Store) Upload(_ context.Context, bucket, path string, data []byte, _ string) (string, error) {
	if bucket == "" || path == "" {
		return "", errors.New("bucket and path are required")
	}
	if len(data) == 0 {
		return "", errors.New("object data is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucket + "/" + path
	s.objects[key] = append([]byte(nil), data...)
	return fmt.Sprintf("mem://%s", key), nil
}

// Download returns a copy of the stored object.
func (s *Store) Download(_ context.Context, bucket, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[bucket+"/"+path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, path)
	}
	return append([]byte(nil), data...), nil
}

// Get returns a stored object, for tests.
func (s *Store) Get(bucket, path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[bucket+"/"+path]
	return data, ok
}
