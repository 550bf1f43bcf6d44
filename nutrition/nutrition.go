// Package nutrition computes energy and macronutrient targets from body
// metrics. All functions are pure; the consultation engine calls them when a
// session completes with enough measurements.
package nutrition

import (
	"math"

	"github.com/fitcoach-ai/fitcoach/fault"
)

// Sex is the biological sex used by the BMR formula.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// Goal selects the calorie adjustment applied on top of TDEE.
type Goal string

const (
	GoalCut      Goal = "cut"
	GoalBulk     Goal = "bulk"
	GoalMaintain Goal = "maintain"
)

// ActivityLevel buckets weekly training volume.
type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "lightly_active"
	ActivityModerate   ActivityLevel = "moderately_active"
	ActivityVery       ActivityLevel = "very_active"
	ActivityExtreme    ActivityLevel = "extremely_active"
)

// Macros is a daily macronutrient plan. Values are whole-unit targets held as
// float64 so downstream scaling (event-phase adjustments, per-meal budgets)
// stays in one numeric domain.
type Macros struct {
	Calories float64
	ProteinG float64
	FatG     float64
	CarbsG   float64
}

// activityMultipliers per level, applied to BMR.
var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary: 1.2,
	ActivityLight:     1.375,
	ActivityModerate:  1.55,
	ActivityVery:      1.725,
	ActivityExtreme:   1.9,
}

// goalFactors scale TDEE into a calorie target.
var goalFactors = map[Goal]float64{
	GoalCut:      0.8,
	GoalBulk:     1.1,
	GoalMaintain: 1.0,
}

// proteinPerKg by goal, grams of protein per kg bodyweight. The cut value is
// highest to spare lean mass in a deficit.
var proteinPerKg = map[Goal]float64{
	GoalCut:      2.2,
	GoalBulk:     2.0,
	GoalMaintain: 1.8,
}

// defaultProteinPerKg applies when the goal is unknown.
const defaultProteinPerKg = 1.6

// fatCalorieShare is the fraction of calories allotted to fat.
const fatCalorieShare = 0.28

// BMR computes basal metabolic rate via Mifflin-St Jeor. Weight is kg, height
// cm, age years.
func BMR(weightKg, heightCm float64, ageYears int, sex Sex) (float64, error) {
	if weightKg <= 0 || weightKg > 500 {
		return 0, fault.New(fault.KindInvalidInput, "weight %v kg outside (0, 500]", weightKg)
	}
	if heightCm <= 0 || heightCm > 300 {
		return 0, fault.New(fault.KindInvalidInput, "height %v cm outside (0, 300]", heightCm)
	}
	if ageYears < 13 || ageYears > 120 {
		return 0, fault.New(fault.KindInvalidInput, "age %d outside [13, 120]", ageYears)
	}
	base := 10*weightKg + 6.25*heightCm - 5*float64(ageYears)
	switch sex {
	case SexMale:
		return base + 5, nil
	case SexFemale:
		return base - 161, nil
	default:
		return 0, fault.New(fault.KindInvalidInput, "unknown sex %q", sex)
	}
}

// ActivityFromTrainingFrequency maps weekly training days to an activity
// level.
func ActivityFromTrainingFrequency(daysPerWeek int) ActivityLevel {
	switch {
	case daysPerWeek >= 6:
		return ActivityVery
	case daysPerWeek >= 4:
		return ActivityModerate
	case daysPerWeek >= 2:
		return ActivityLight
	default:
		return ActivitySedentary
	}
}

// TDEE scales BMR by the activity multiplier, rounded to the nearest calorie.
func TDEE(bmr float64, level ActivityLevel) float64 {
	mult, ok := activityMultipliers[level]
	if !ok {
		mult = activityMultipliers[ActivitySedentary]
	}
	return math.RoundToEven(bmr * mult)
}

// Plan derives the daily macro targets from TDEE, bodyweight, and goal:
// calories = TDEE·goal factor, protein by g/kg, fat at 28% of calories,
// carbs from the calorie remainder (never negative).
func Plan(tdee, weightKg float64, goal Goal) Macros {
	factor, ok := goalFactors[goal]
	if !ok {
		factor = 1.0
	}
	// Half-to-even rounding keeps targets stable when a macro lands exactly on
	// a .5 gram boundary.
	calories := math.RoundToEven(tdee * factor)
	perKg, ok := proteinPerKg[goal]
	if !ok {
		perKg = defaultProteinPerKg
	}
	protein := math.RoundToEven(weightKg * perKg)
	fat := math.RoundToEven(calories * fatCalorieShare / 9)
	carbs := math.RoundToEven((calories - protein*4 - fat*9) / 4)
	if carbs < 0 {
		carbs = 0
	}
	return Macros{
		Calories: calories,
		ProteinG: protein,
		FatG:     fat,
		CarbsG:   carbs,
	}
}
