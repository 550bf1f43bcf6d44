// Package entry implements the quick-entry pipeline: free-form user input
// (text, image, audio, PDF) is extracted, classified into a typed fitness
// entry, enriched with deterministic quality signals, and persisted.
package entry

import (
	"strings"
	"time"

	"github.com/fitcoach-ai/fitcoach/enrich"
	"github.com/fitcoach-ai/fitcoach/memory"
)

// Entry types a classification can resolve to.
const (
	TypeMeal        = "meal"
	TypeActivity    = "activity"
	TypeWorkout     = "workout"
	TypeMeasurement = "measurement"
	TypeNote        = "note"
	TypeUnknown     = "unknown"
)

// MinConfidence is the classification confidence below which an entry without
// a manual type override is stored as an unclassified note.
const MinConfidence = 0.4

type (
	// Meal is one logged meal with its nutrition totals and derived scores.
	Meal struct {
		ID              string
		UserID          string
		Name            string
		MealType        string
		Calories        float64
		ProteinG        float64
		CarbsG          float64
		FatG            float64
		FiberG          float64
		SugarG          float64
		SodiumMg        float64
		Foods           []string
		ImageURL        string
		ConfidenceScore float64

		QualityScore      float64
		MacroBalanceScore float64
		GoalAdherence     *float64
		Tags              []string

		LoggedAt time.Time
	}

	// Activity is one logged cardio or sport session.
	Activity struct {
		ID                 string
		UserID             string
		Name               string
		ActivityType       string
		SportType          string
		ElapsedTimeSeconds float64
		MovingTimeSeconds  float64
		DistanceMeters     float64
		Calories           float64
		PerceivedExertion  float64
		Mood               string
		EnergyLevel        float64
		ConfidenceScore    float64

		PerformanceScore float64
		RecoveryHours    float64

		StartDate time.Time
	}

	// Exercise is one movement within a workout.
	Exercise struct {
		Name     string
		Sets     int
		Reps     int
		WeightKg float64
	}

	// Workout is one logged resistance session.
	Workout struct {
		ID              string
		UserID          string
		Notes           string
		DurationMinutes float64
		Exercises       []Exercise
		VolumeLoad      float64
		MuscleGroups    []string
		RPE             float64
		Mood            string
		ConfidenceScore float64

		OverloadStatus string
		RecoveryHours  float64

		StartedAt   time.Time
		CompletedAt time.Time
	}

	// Note is a free-form journal entry.
	Note struct {
		ID        string
		UserID    string
		Title     string
		Content   string
		Category  string
		Sentiment *enrich.Sentiment
		Tags      []string
		CreatedAt time.Time
	}

	// Measurement is one body measurement snapshot.
	Measurement struct {
		ID           string
		UserID       string
		WeightKg     float64
		BodyFatPct   float64
		Measurements map[string]float64
		MeasuredAt   time.Time
	}
)

// SourceTypeFor maps an entry type to the embedding source type stamped on
// its vectors.
func SourceTypeFor(entryType string) memory.SourceType {
	switch entryType {
	case TypeMeal:
		return memory.SourceMeal
	case TypeActivity:
		return memory.SourceActivity
	case TypeWorkout:
		return memory.SourceWorkout
	case TypeMeasurement:
		return memory.SourceProgressPhoto
	default:
		return memory.SourceVoiceNote
	}
}

// VolumeLoad is the total tonnage of a workout: the sum of sets x reps x
// weight over all exercises.
func VolumeLoad(exercises []Exercise) float64 {
	var total float64
	for _, e := range exercises {
		total += float64(e.Sets) * float64(e.Reps) * e.WeightKg
	}
	return total
}

// muscleGroupKeywords drives the substring inference over exercise names.
// Order is fixed so derived groups are deterministic.
var muscleGroupKeywords = []struct {
	group    string
	keywords []string
}{
	{"chest", []string{"bench", "chest", "fly", "push-up", "pushup", "dip"}},
	{"legs", []string{"squat", "lunge", "leg", "calf", "deadlift", "hip thrust"}},
	{"back", []string{"row", "pull", "deadlift", "lat", "chin"}},
	{"shoulders", []string{"shoulder", "overhead", "ohp", "lateral raise", "military"}},
	{"arms", []string{"curl", "tricep", "bicep", "skullcrusher"}},
}

// MuscleGroups infers the muscle groups hit by a workout from its exercise
// names.
func MuscleGroups(exercises []Exercise) []string {
	var groups []string
	for _, mg := range muscleGroupKeywords {
		for _, e := range exercises {
			name := strings.ToLower(e.Name)
			matched := false
			for _, kw := range mg.keywords {
				if strings.Contains(name, kw) {
					groups = append(groups, mg.group)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return groups
}

// ValidType reports whether s is a persistable entry type.
func ValidType(s string) bool {
	switch s {
	case TypeMeal, TypeActivity, TypeWorkout, TypeMeasurement, TypeNote:
		return true
	}
	return false
}
