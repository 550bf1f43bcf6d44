package memory

import (
	"context"
	"errors"
	"time"
)

// ErrModelRequired is returned by stores when a query omits the embedding
// model. Comparing vectors across model families is never safe, so the filter
// is mandatory.
var ErrModelRequired = errors.New("memory: query embedding model is required")

// Store persists embedding rows and answers similarity queries. Writes are
// append-only; DeleteOlderThan exists for retention cleanup only.
type Store interface {
	// Insert persists the row and returns its assigned id.
	Insert(ctx context.Context, row *Row) (string, error)

	// Search returns up to Limit rows ordered by descending cosine similarity,
	// excluding rows below Query.Threshold and rows stamped with a different
	// embedding model.
	Search(ctx context.Context, q Query) ([]Match, error)

	// DeleteOlderThan removes rows created before the cutoff and reports how
	// many were deleted. userID narrows the sweep; empty sweeps all users.
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}
