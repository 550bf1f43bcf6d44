package recommend

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("recommend: not found")
	// ErrTerminalStatus is returned when updating a recommendation whose
	// status admits no further transitions.
	ErrTerminalStatus = errors.New("recommend: recommendation status is terminal")
)

// Store persists recommendations, programs, and events.
type Store interface {
	InsertRecommendation(ctx context.Context, r *Recommendation) (string, error)
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)

	// UpdateStatus transitions a recommendation. Terminal rows return
	// ErrTerminalStatus.
	UpdateStatus(ctx context.Context, id, status string) error

	// ForDate returns the user's recommendations whose recommendation_date
	// falls on the given UTC day, ordered by recommendation_time.
	ForDate(ctx context.Context, userID string, day time.Time) ([]Recommendation, error)

	// ExpirePast marks pending or accepted recommendations past their expiry
	// as expired and returns the number reaped.
	ExpirePast(ctx context.Context, now time.Time) (int64, error)

	// InsertProgram persists a program.
	InsertProgram(ctx context.Context, p *Program) (string, error)

	// ActiveProgram returns the user's active program or ErrNotFound.
	ActiveProgram(ctx context.Context, userID string) (*Program, error)

	// InsertEvent persists an event. Marking it the primary goal clears the
	// flag on the user's other events.
	InsertEvent(ctx context.Context, e *Event) (string, error)

	// UpcomingEvents returns the user's events dated within [from, to],
	// soonest first.
	UpcomingEvents(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
}
