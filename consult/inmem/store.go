// Package inmem implements consult.Store in memory for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fitcoach-ai/fitcoach/consult"
)

// Store implements consult.Store with in-process slices and maps.
type Store struct {
	mu          sync.Mutex
	nextID      int
	sessions    map[string]*consult.Session
	messages    []consult.Message
	extractions []consult.Extraction
}

// New returns an empty store.
func New() *Store {
	return &Store{sessions: make(map[string]*consult.Session)}
}

func (s *Store) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// CreateSession persists a new session, enforcing one active session per
// (user, specialist) pair.
func (s *Store) CreateSession(_ context.Context, sess *consult.Session) (string, error) {
	if sess.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID == sess.UserID &&
			existing.SpecialistType == sess.SpecialistType &&
			existing.Status == consult.StatusActive {
			return "", consult.ErrActiveExists
		}
	}
	sess.ID = s.id("sess")
	clone := *sess
	s.sessions[sess.ID] = &clone
	return sess.ID, nil
}

// GetSession returns the session or consult.ErrNotFound.
func (s *Store) GetSession(_ context.Context, id string) (*consult.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, consult.ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

// ActiveSession returns the user's active session with the specialist.
func (s *Store) ActiveSession(_ context.Context, userID, specialistType string) (*consult.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.SpecialistType == specialistType && sess.Status == consult.StatusActive {
			clone := *sess
			return &clone, nil
		}
	}
	return nil, consult.ErrNotFound
}

// UpdateSession replaces the stored session.
func (s *Store) UpdateSession(_ context.Context, sess *consult.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return consult.ErrNotFound
	}
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

// AppendMessage appends to the session's ordered log.
func (s *Store) AppendMessage(_ context.Context, m *consult.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return "", consult.ErrNotFound
	}
	m.ID = s.id("msg")
	s.messages = append(s.messages, *m)
	return m.ID, nil
}

// Tail returns the session's last n messages in chronological order.
func (s *Store) Tail(_ context.Context, sessionID string, n int) ([]consult.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []consult.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			all = append(all, m)
		}
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// InsertExtraction appends an extraction row.
func (s *Store) InsertExtraction(_ context.Context, e *consult.Extraction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id("ext")
	s.extractions = append(s.extractions, *e)
	return e.ID, nil
}

// Extractions returns the session's extractions in chronological order.
func (s *Store) Extractions(_ context.Context, sessionID string) ([]consult.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []consult.Extraction
	for _, e := range s.extractions {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SessionsByUser returns the user's sessions, most recent first.
func (s *Store) SessionsByUser(_ context.Context, userID string, limit int) ([]consult.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []consult.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExtractionsByUser returns the user's extractions for a category in
// chronological order.
func (s *Store) ExtractionsByUser(_ context.Context, userID, category string, since time.Time) ([]consult.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []consult.Extraction
	for _, e := range s.extractions {
		if e.UserID != userID {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Messages returns a copy of all stored messages, for tests.
func (s *Store) Messages(sessionID string) []consult.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []consult.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}
