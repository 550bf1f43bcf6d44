// Package inmem implements recommend.Store in memory for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fitcoach-ai/fitcoach/recommend"
)

// Store implements recommend.Store with in-process maps.
type Store struct {
	mu       sync.Mutex
	nextID   int
	recs     map[string]*recommend.Recommendation
	programs []recommend.Program
	events   []recommend.Event
}

// New returns an empty store.
func New() *Store {
	return &Store{recs: make(map[string]*recommend.Recommendation)}
}

func (s *Store) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// InsertRecommendation persists the recommendation and returns its id.
func (s *Store) InsertRecommendation(_ context.Context, r *recommend.Recommendation) (string, error) {
	if r.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id("rec")
	clone := *r
	s.recs[r.ID] = &clone
	return r.ID, nil
}

// GetRecommendation returns the recommendation or recommend.ErrNotFound.
func (s *Store) GetRecommendation(_ context.Context, id string) (*recommend.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, recommend.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

// UpdateStatus transitions a recommendation, refusing terminal rows.
func (s *Store) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return recommend.ErrNotFound
	}
	if recommend.Terminal(r.Status) {
		return recommend.ErrTerminalStatus
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ForDate returns the user's recommendations for the UTC day, ordered by
// recommendation time.
func (s *Store) ForDate(_ context.Context, userID string, day time.Time) ([]recommend.Recommendation, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recommend.Recommendation
	for _, r := range s.recs {
		at := r.RecommendationDate.UTC()
		if r.UserID == userID && !at.Before(start) && at.Before(end) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecommendationTime.Before(out[j].RecommendationTime)
	})
	return out, nil
}

// ExpirePast marks non-terminal recommendations past expiry as expired.
func (s *Store) ExpirePast(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.recs {
		if !recommend.Terminal(r.Status) && r.ExpiresAt.Before(now) {
			r.Status = recommend.StatusExpired
			r.UpdatedAt = now.UTC()
			n++
		}
	}
	return n, nil
}

// InsertProgram persists the program and returns its id. A new active
// program supersedes any previous one.
func (s *Store) InsertProgram(_ context.Context, p *recommend.Program) (string, error) {
	if p.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "active" {
		for i := range s.programs {
			if s.programs[i].UserID == p.UserID && s.programs[i].Status == "active" {
				s.programs[i].Status = "superseded"
			}
		}
	}
	p.ID = s.id("prog")
	s.programs = append(s.programs, *p)
	return p.ID, nil
}

// ActiveProgram returns the user's active program or recommend.ErrNotFound.
func (s *Store) ActiveProgram(_ context.Context, userID string) (*recommend.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.programs) - 1; i >= 0; i-- {
		if s.programs[i].UserID == userID && s.programs[i].Status == "active" {
			clone := s.programs[i]
			return &clone, nil
		}
	}
	return nil, recommend.ErrNotFound
}

// InsertEvent persists the event. Flagging it primary clears the flag on the
// user's other events.
func (s *Store) InsertEvent(_ context.Context, e *recommend.Event) (string, error) {
	if e.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.IsPrimaryGoal {
		for i := range s.events {
			if s.events[i].UserID == e.UserID {
				s.events[i].IsPrimaryGoal = false
			}
		}
	}
	e.ID = s.id("event")
	s.events = append(s.events, *e)
	return e.ID, nil
}

// UpcomingEvents returns the user's events dated within [from, to], soonest
// first.
func (s *Store) UpcomingEvents(_ context.Context, userID string, from, to time.Time) ([]recommend.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recommend.Event
	for _, e := range s.events {
		if e.UserID == userID && !e.EventDate.Before(from) && !e.EventDate.After(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventDate.Before(out[j].EventDate) })
	return out, nil
}

// Events returns a copy of all stored events, for tests.
func (s *Store) Events() []recommend.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recommend.Event(nil), s.events...)
}
