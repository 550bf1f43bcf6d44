// Package enrich computes the derived quality signals attached to entries at
// persistence time. All scorers are deterministic and pure; the only model
// call is note sentiment, which degrades to a keyword lexicon when the model
// is unavailable.
package enrich

import (
	"math"
	"strings"

	"github.com/fitcoach-ai/fitcoach/nutrition"
)

// Kilocalories per gram of each macronutrient.
const (
	kcalPerGramProtein = 4
	kcalPerGramCarb    = 4
	kcalPerGramFat     = 9
)

type (
	// MealNutrition holds the per-meal totals the scorers consume.
	MealNutrition struct {
		Calories float64
		ProteinG float64
		CarbsG   float64
		FatG     float64
		FiberG   float64
		SugarG   float64
		SodiumMg float64
	}

	// MealEnrichment bundles the derived meal fields.
	MealEnrichment struct {
		QualityScore      float64  `json:"quality_score"`
		MacroBalanceScore float64  `json:"macro_balance_score"`
		GoalAdherence     *float64 `json:"goal_adherence,omitempty"`
		Tags              []string `json:"tags,omitempty"`
	}
)

// EnrichMeal scores a meal. Goal adherence is only computed when daily macro
// targets are known.
func EnrichMeal(n MealNutrition, mealType string, daily *nutrition.Macros) MealEnrichment {
	e := MealEnrichment{
		QualityScore:      MealQualityScore(n),
		MacroBalanceScore: MacroBalanceScore(n),
		Tags:              MealTags(n, mealType),
	}
	if daily != nil {
		adherence := GoalAdherenceScore(n, *daily)
		e.GoalAdherence = &adherence
	}
	return e
}

// MealQualityScore rates a meal on [0,10]. The score starts at 5 and moves by
// fixed increments on protein, fiber, sugar, sodium and macro-split checks.
func MealQualityScore(n MealNutrition) float64 {
	score := 5.0
	switch {
	case n.ProteinG >= 30:
		score += 2
	case n.ProteinG >= 20:
		score++
	}
	switch {
	case n.FiberG >= 5:
		score++
	case n.FiberG >= 3:
		score += 0.5
	}
	if n.SugarG < 10 {
		score++
	} else if n.SugarG > 30 {
		score--
	}
	if n.SodiumMg >= 200 && n.SodiumMg <= 600 {
		score += 0.5
	} else if n.SodiumMg > 1500 {
		score--
	}
	if p, c, f, ok := macroPercentages(n); ok {
		if p >= 20 && p <= 40 && c >= 20 && c <= 50 && f >= 20 && f <= 35 {
			score++
		}
	}
	return clamp(score, 0, 10)
}

// MacroBalanceScore rates how close the macro split is to a 30/40/30
// protein/carb/fat target, on [0,10].
func MacroBalanceScore(n MealNutrition) float64 {
	p, c, f, ok := macroPercentages(n)
	if !ok {
		return 0
	}
	dev := (math.Abs(p-30) + math.Abs(c-40) + math.Abs(f-30)) / 3
	return clamp(10-dev/5, 0, 10)
}

// GoalAdherenceScore rates a meal against one ~3.5th of the daily macro
// targets. Each macro within ±20% of its per-meal share earns full credit,
// within ±40% half credit.
func GoalAdherenceScore(n MealNutrition, daily nutrition.Macros) float64 {
	const mealsPerDay = 3.5
	targets := []struct{ actual, target float64 }{
		{n.ProteinG, daily.ProteinG / mealsPerDay},
		{n.CarbsG, daily.CarbsG / mealsPerDay},
		{n.FatG, daily.FatG / mealsPerDay},
	}
	const perMacro = 10.0 / 3.0
	var score float64
	for _, t := range targets {
		if t.target <= 0 {
			continue
		}
		ratio := math.Abs(t.actual-t.target) / t.target
		switch {
		case ratio <= 0.2:
			score += perMacro
		case ratio <= 0.4:
			score += perMacro / 2
		}
	}
	return clamp(score, 0, 10)
}

// MealTags derives the closed tag set used for filtering and display.
func MealTags(n MealNutrition, mealType string) []string {
	var tags []string
	if mealType != "" {
		tags = append(tags, strings.ToLower(mealType))
	}
	if n.ProteinG >= 30 {
		tags = append(tags, "high_protein")
	}
	if n.FiberG >= 5 {
		tags = append(tags, "high_fiber")
	}
	if n.SugarG < 10 {
		tags = append(tags, "low_sugar")
	} else if n.SugarG > 30 {
		tags = append(tags, "high_sugar")
	}
	if n.SodiumMg > 1500 {
		tags = append(tags, "high_sodium")
	}
	if p, c, f, ok := macroPercentages(n); ok && p >= 20 && p <= 40 && c >= 20 && c <= 50 && f >= 20 && f <= 35 {
		tags = append(tags, "balanced")
	}
	return tags
}

// Progressive-overload statuses.
const (
	OverloadImproving   = "improving"
	OverloadMaintaining = "maintaining"
	OverloadDeclining   = "declining"
	OverloadAbsent      = "absent"
)

// ProgressiveOverload compares the current volume load to the mean of recent
// same-user workouts. Fewer than two history points yields "absent".
func ProgressiveOverload(currentVolumeLoad float64, historyVolumeLoads []float64) string {
	if len(historyVolumeLoads) < 2 {
		return OverloadAbsent
	}
	var sum float64
	for _, v := range historyVolumeLoads {
		sum += v
	}
	mean := sum / float64(len(historyVolumeLoads))
	if mean <= 0 {
		return OverloadAbsent
	}
	change := (currentVolumeLoad - mean) / mean
	switch {
	case change > 0.05:
		return OverloadImproving
	case change < -0.05:
		return OverloadDeclining
	default:
		return OverloadMaintaining
	}
}

// Session kinds for recovery estimation.
const (
	SessionWorkout  = "workout"
	SessionActivity = "activity"
)

// RecoveryHours estimates hours until the next hard session. Workouts start
// from 24 h, activities from 12 h; exertion, volume and breadth of muscle
// groups extend the window.
func RecoveryHours(sessionKind string, rpe, volumeLoad float64, muscleGroups int) float64 {
	hours := 12.0
	if sessionKind == SessionWorkout {
		hours = 24
	}
	switch {
	case rpe >= 9:
		hours += 24
	case rpe >= 7:
		hours += 12
	}
	switch {
	case volumeLoad > 20000:
		hours += 12
	case volumeLoad > 10000:
		hours += 6
	}
	if muscleGroups >= 3 {
		hours += 12
	}
	return hours
}

// ActivityPerformanceScore buckets the pace improvement over the user's
// recent average for the same activity type. Pace is seconds per unit
// distance, so lower is faster. Returns the neutral 5.0 when there is no
// usable history.
func ActivityPerformanceScore(currentPace float64, historicalPaces []float64) float64 {
	if currentPace <= 0 || len(historicalPaces) == 0 {
		return 5.0
	}
	var sum float64
	var n int
	for _, p := range historicalPaces {
		if p > 0 {
			sum += p
			n++
		}
	}
	if n == 0 {
		return 5.0
	}
	avg := sum / float64(n)
	improvement := (avg - currentPace) / avg * 100
	switch {
	case improvement > 10:
		return 9.0
	case improvement > 5:
		return 8.0
	case improvement > 0:
		return 7.0
	case improvement > -5:
		return 5.0
	default:
		return 3.0
	}
}

// Pace returns seconds per kilometer, or 0 when either input is unusable.
func Pace(durationSeconds, distanceMeters float64) float64 {
	if durationSeconds <= 0 || distanceMeters <= 0 {
		return 0
	}
	return durationSeconds / (distanceMeters / 1000)
}

// macroPercentages returns each macro's share of caloric content in percent.
// The denominator is the kcal implied by the macros themselves so that the
// split is self-consistent even when the stated calories disagree.
func macroPercentages(n MealNutrition) (protein, carb, fat float64, ok bool) {
	pk := n.ProteinG * kcalPerGramProtein
	ck := n.CarbsG * kcalPerGramCarb
	fk := n.FatG * kcalPerGramFat
	total := pk + ck + fk
	if total <= 0 {
		return 0, 0, 0, false
	}
	return pk / total * 100, ck / total * 100, fk / total * 100, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
