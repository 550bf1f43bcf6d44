// Package profile holds the per-user coaching profile: body measurements,
// goals, preferences, and the derived nutrition targets. Consultations write
// it back on completion; the recommendation engine reads it every day.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/fitcoach-ai/fitcoach/nutrition"
)

// ErrNotFound is returned by stores when no profile exists for the user.
var ErrNotFound = errors.New("profile: not found")

type (
	// Profile is the canonical per-user record.
	Profile struct {
		UserID       string
		Measurements Measurements
		Goals        Goals
		Preferences  Preferences
		// Nutrition is nil until a consultation (or an explicit recalculation)
		// produced targets.
		Nutrition *NutritionTargets
		UpdatedAt time.Time
	}

	// Measurements are the body metrics feeding the nutrition calculator.
	Measurements struct {
		WeightKg      float64
		HeightCm      float64
		Age           int
		BiologicalSex nutrition.Sex
		BodyFatPct    float64
	}

	// Goals capture what the user is training toward.
	Goals struct {
		PrimaryGoal       string
		TargetWeightKg    float64
		TrainingFrequency int
	}

	// Preferences constrain recommendations.
	Preferences struct {
		EquipmentAccess     string
		DietaryRestrictions []string
		PreferredActivities []string
	}

	// NutritionTargets is the output of the nutrition calculator.
	NutritionTargets struct {
		BMR          float64
		TDEE         float64
		Daily        nutrition.Macros
		CalculatedAt time.Time
	}

	// Store persists profiles.
	Store interface {
		// Get returns the user's profile or ErrNotFound.
		Get(ctx context.Context, userID string) (*Profile, error)
		// Upsert replaces the user's profile.
		Upsert(ctx context.Context, p *Profile) error
		// UserIDs lists every user with a profile. Scheduled fan-out tasks
		// use it; request paths never should.
		UserIDs(ctx context.Context) ([]string, error)
	}
)

// Complete reports whether the measurements suffice for a BMR calculation.
func (m Measurements) Complete() bool {
	return m.WeightKg > 0 && m.HeightCm > 0 && m.Age > 0 &&
		(m.BiologicalSex == nutrition.SexMale || m.BiologicalSex == nutrition.SexFemale)
}

// NormalizeGoal maps free-form goal phrasing to the calculator's goal set.
// Unknown phrasings default to maintain.
func NormalizeGoal(goal string) nutrition.Goal {
	switch goal {
	case "cut", "fat_loss", "weight_loss", "lose_weight":
		return nutrition.GoalCut
	case "bulk", "muscle_gain", "gain_muscle", "build_muscle":
		return nutrition.GoalBulk
	default:
		return nutrition.GoalMaintain
	}
}
