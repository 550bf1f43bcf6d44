// Package inmem provides an in-memory memory.Store for tests and single-node
// development. Semantics mirror the Mongo store, including the mandatory
// embedding-model filter.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fitcoach-ai/fitcoach/memory"
)

// Store implements memory.Store with process-local state.
type Store struct {
	mu   sync.RWMutex
	rows []memory.Row
	seq  int
}

// New builds an empty store.
func New() *Store {
	return &Store{}
}

// Insert persists a copy of the row and returns its assigned id.
func (s *Store) Insert(_ context.Context, row *memory.Row) (string, error) {
	if row.UserID == "" {
		return "", errors.New("user id is required")
	}
	if len(row.Vector) == 0 {
		return "", errors.New("vector is required")
	}
	if row.EmbeddingModel == "" {
		return "", errors.New("embedding model is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	stored := *row
	stored.ID = fmt.Sprintf("emb-%d", s.seq)
	stored.Vector = append([]float32(nil), row.Vector...)
	s.rows = append(s.rows, stored)
	return stored.ID, nil
}

// Search ranks matching rows by cosine similarity.
func (s *Store) Search(_ context.Context, q memory.Query) ([]memory.Match, error) {
	if q.EmbeddingModel == "" {
		return nil, memory.ErrModelRequired
	}
	if q.UserID == "" {
		return nil, errors.New("user id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []memory.Match
	for _, row := range s.rows {
		if row.UserID != q.UserID || row.EmbeddingModel != q.EmbeddingModel {
			continue
		}
		if len(q.SourceTypes) > 0 && !containsSource(q.SourceTypes, row.SourceType) {
			continue
		}
		if len(q.DataTypes) > 0 && !containsData(q.DataTypes, row.DataType) {
			continue
		}
		sim := memory.Cosine(q.Vector, row.Vector)
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, memory.Match{Row: row, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// DeleteOlderThan removes rows created before the cutoff.
func (s *Store) DeleteOlderThan(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var deleted int64
	for _, row := range s.rows {
		if row.CreatedAt.Before(cutoff) && (userID == "" || row.UserID == userID) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return deleted, nil
}

// Len reports the number of stored rows, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func containsSource(set []memory.SourceType, v memory.SourceType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsData(set []memory.DataType, v memory.DataType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
