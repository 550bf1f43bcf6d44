// Package inmem provides an in-memory profile.Store for tests and single-node
// development.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fitcoach-ai/fitcoach/profile"
)

// Store implements profile.Store with process-local state.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]profile.Profile
}

// New builds an empty store.
func New() *Store {
	return &Store{profiles: make(map[string]profile.Profile)}
}

// Get returns a copy of the user's profile or profile.ErrNotFound.
func (s *Store) Get(_ context.Context, userID string) (*profile.Profile, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	out := p
	if p.Nutrition != nil {
		n := *p.Nutrition
		out.Nutrition = &n
	}
	return &out, nil
}

// UserIDs lists every user with a profile, in sorted order.
func (s *Store) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Upsert stores a copy of the profile.
func (s *Store) Upsert(_ context.Context, p *profile.Profile) error {
	if p == nil || p.UserID == "" {
		return errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	stored.UpdatedAt = time.Now().UTC()
	if p.Nutrition != nil {
		n := *p.Nutrition
		stored.Nutrition = &n
	}
	s.profiles[p.UserID] = stored
	return nil
}
