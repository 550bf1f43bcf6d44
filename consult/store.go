package consult

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrNotFound is returned when no session matches.
	ErrNotFound = errors.New("consult: session not found")
	// ErrActiveExists is returned by CreateSession when the user already has
	// an active session with the same specialist.
	ErrActiveExists = errors.New("consult: active session already exists")
)

// Store persists sessions, their messages, and their extractions. Messages
// are append-only and ordered by creation time within a session.
type Store interface {
	// CreateSession persists a new active session and returns its id. At most
	// one active session per (user, specialist) pair may exist; a second
	// create returns ErrActiveExists.
	CreateSession(ctx context.Context, s *Session) (string, error)

	// GetSession returns the session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ActiveSession returns the user's active session with the specialist, or
	// ErrNotFound.
	ActiveSession(ctx context.Context, userID, specialistType string) (*Session, error)

	// UpdateSession replaces the session's mutable fields (status, stage
	// index, counters, progress, summary).
	UpdateSession(ctx context.Context, s *Session) error

	// AppendMessage appends a message to the session's ordered log.
	AppendMessage(ctx context.Context, m *Message) (string, error)

	// Tail returns the session's last n messages in chronological order. A
	// non-positive n returns the full log.
	Tail(ctx context.Context, sessionID string, n int) ([]Message, error)

	// InsertExtraction appends an extraction row.
	InsertExtraction(ctx context.Context, e *Extraction) (string, error)

	// Extractions returns the session's extractions in chronological order.
	Extractions(ctx context.Context, sessionID string) ([]Extraction, error)

	// SessionsByUser returns the user's sessions, most recent first. A zero
	// limit means no limit.
	SessionsByUser(ctx context.Context, userID string, limit int) ([]Session, error)

	// ExtractionsByUser returns the user's extractions for a category across
	// all sessions, in chronological order. Empty category matches all.
	ExtractionsByUser(ctx context.Context, userID, category string, since time.Time) ([]Extraction, error)
}
