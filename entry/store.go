package entry

import (
	"context"
	"time"
)

// Store persists typed entries and serves the history queries enrichment and
// recommendations depend on.
type Store interface {
	InsertMeal(ctx context.Context, m *Meal) (string, error)
	InsertActivity(ctx context.Context, a *Activity) (string, error)
	InsertWorkout(ctx context.Context, w *Workout) (string, error)
	InsertNote(ctx context.Context, n *Note) (string, error)
	InsertMeasurement(ctx context.Context, m *Measurement) (string, error)

	// RecentWorkouts returns up to limit workouts started after since, newest
	// first.
	RecentWorkouts(ctx context.Context, userID string, since time.Time, limit int) ([]Workout, error)

	// RecentActivities returns up to limit activities of the given type started
	// after since, newest first. An empty activityType matches all types.
	RecentActivities(ctx context.Context, userID, activityType string, since time.Time, limit int) ([]Activity, error)

	// MealsLoggedOn returns the meals logged on the given calendar day (UTC).
	MealsLoggedOn(ctx context.Context, userID string, day time.Time) ([]Meal, error)
}
