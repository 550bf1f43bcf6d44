// Package inmem implements entry.Store in memory for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fitcoach-ai/fitcoach/entry"
)

// Store implements entry.Store with in-process maps.
type Store struct {
	mu           sync.Mutex
	nextID       int
	meals        []entry.Meal
	activities   []entry.Activity
	workouts     []entry.Workout
	notes        []entry.Note
	measurements []entry.Measurement
}

// New returns an empty store.
func New() *Store { return &Store{} }

func (s *Store) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// InsertMeal persists the meal and returns its assigned id.
func (s *Store) InsertMeal(_ context.Context, m *entry.Meal) (string, error) {
	if m.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id("meal")
	s.meals = append(s.meals, *m)
	return m.ID, nil
}

// InsertActivity persists the activity and returns its assigned id.
func (s *Store) InsertActivity(_ context.Context, a *entry.Activity) (string, error) {
	if a.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id("act")
	s.activities = append(s.activities, *a)
	return a.ID, nil
}

// InsertWorkout persists the workout and returns its assigned id.
func (s *Store) InsertWorkout(_ context.Context, w *entry.Workout) (string, error) {
	if w.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = s.id("workout")
	s.workouts = append(s.workouts, *w)
	return w.ID, nil
}

// InsertNote persists the note and returns its assigned id.
func (s *Store) InsertNote(_ context.Context, n *entry.Note) (string, error) {
	if n.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.id("note")
	s.notes = append(s.notes, *n)
	return n.ID, nil
}

// InsertMeasurement persists the measurement and returns its assigned id.
func (s *Store) InsertMeasurement(_ context.Context, m *entry.Measurement) (string, error) {
	if m.UserID == "" {
		return "", errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id("meas")
	s.measurements = append(s.measurements, *m)
	return m.ID, nil
}

// RecentWorkouts returns up to limit workouts started after since, newest
// first.
func (s *Store) RecentWorkouts(_ context.Context, userID string, since time.Time, limit int) ([]entry.Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry.Workout
	for _, w := range s.workouts {
		if w.UserID == userID && !w.StartedAt.Before(since) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentActivities returns up to limit activities of the given type started
// after since, newest first.
func (s *Store) RecentActivities(_ context.Context, userID, activityType string, since time.Time, limit int) ([]entry.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry.Activity
	for _, a := range s.activities {
		if a.UserID != userID || a.StartDate.Before(since) {
			continue
		}
		if activityType != "" && a.ActivityType != activityType {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MealsLoggedOn returns the meals logged on the given UTC calendar day.
func (s *Store) MealsLoggedOn(_ context.Context, userID string, day time.Time) ([]entry.Meal, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry.Meal
	for _, m := range s.meals {
		at := m.LoggedAt.UTC()
		if m.UserID == userID && !at.Before(start) && at.Before(end) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.Before(out[j].LoggedAt) })
	return out, nil
}

// Meals returns a copy of all stored meals, for tests.
func (s *Store) Meals() []entry.Meal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.Meal(nil), s.meals...)
}

// Notes returns a copy of all stored notes, for tests.
func (s *Store) Notes() []entry.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.Note(nil), s.notes...)
}

// Workouts returns a copy of all stored workouts, for tests.
func (s *Store) Workouts() []entry.Workout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.Workout(nil), s.workouts...)
}

// Activities returns a copy of all stored activities, for tests.
func (s *Store) Activities() []entry.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.Activity(nil), s.activities...)
}

// Measurements returns a copy of all stored measurements, for tests.
func (s *Store) Measurements() []entry.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.Measurement(nil), s.measurements...)
}
