// Package pattern computes statistical priors from a user's past entries.
// The quick-entry pipeline injects these priors into the classification
// prompt so numeric estimates converge toward the user's real behavior.
// Analysis is a pure function of the retrieved rows; it never reads or writes
// storage.
package pattern

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fitcoach-ai/fitcoach/memory"
)

// minSamples is the smallest history that yields a pattern.
const minSamples = 3

// Pattern is a prior for one entry type. Fields irrelevant to the type are
// zero.
type Pattern struct {
	EntryType  string
	SampleSize int
	// Confidence grows with sample size: min(0.95, 0.5 + n/20·0.45).
	Confidence float64
	// Consistency in [0,1]: 1 − stddev/mean of the type's primary metric.
	Consistency float64

	// Activity and workout.
	DurationAvg float64
	// Activity only.
	DistanceAvg float64
	CaloriesAvg float64
	// Meal only.
	ProteinAvg float64
	// Workout only: up to five most frequent exercise names.
	CommonExercises []string
}

// Analyze derives a prior from past rows of the given source type. It returns
// nil when fewer than three usable samples exist. A sample is usable when its
// metadata carries the type's primary metric (calories for meals, duration
// for activities and workouts).
func Analyze(sourceType memory.SourceType, rows []memory.Row) *Pattern {
	switch sourceType {
	case memory.SourceMeal:
		return analyzeMeal(rows)
	case memory.SourceActivity:
		return analyzeActivity(rows)
	case memory.SourceWorkout:
		return analyzeWorkout(rows)
	default:
		return nil
	}
}

// Describe renders the pattern as prompt text for the classification call.
func (p *Pattern) Describe() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d similar past %s entries (confidence %.2f, consistency %.2f):",
		p.SampleSize, p.EntryType, p.Confidence, p.Consistency)
	switch p.EntryType {
	case "meal":
		fmt.Fprintf(&b, " typical calories %.0f, typical protein %.0fg.", p.CaloriesAvg, p.ProteinAvg)
	case "activity":
		fmt.Fprintf(&b, " typical duration %.0f min, distance %.0f m, calories %.0f.",
			p.DurationAvg, p.DistanceAvg, p.CaloriesAvg)
	case "workout":
		fmt.Fprintf(&b, " typical duration %.0f min.", p.DurationAvg)
		if len(p.CommonExercises) > 0 {
			fmt.Fprintf(&b, " Common exercises: %s.", strings.Join(p.CommonExercises, ", "))
		}
	}
	return b.String()
}

func analyzeMeal(rows []memory.Row) *Pattern {
	var calories, protein []float64
	for _, row := range rows {
		cal, ok := metaFloat(row.Metadata, "calories")
		if !ok {
			continue
		}
		calories = append(calories, cal)
		if p, ok := metaFloat(row.Metadata, "protein_g"); ok {
			protein = append(protein, p)
		}
	}
	if len(calories) < minSamples {
		return nil
	}
	return &Pattern{
		EntryType:   "meal",
		SampleSize:  len(calories),
		Confidence:  confidence(len(calories)),
		Consistency: consistency(calories),
		CaloriesAvg: mean(calories),
		ProteinAvg:  mean(protein),
	}
}

func analyzeActivity(rows []memory.Row) *Pattern {
	var durations, distances, calories []float64
	for _, row := range rows {
		dur, ok := metaFloat(row.Metadata, "duration_minutes")
		if !ok {
			continue
		}
		durations = append(durations, dur)
		if d, ok := metaFloat(row.Metadata, "distance_meters"); ok {
			distances = append(distances, d)
		}
		if c, ok := metaFloat(row.Metadata, "calories"); ok {
			calories = append(calories, c)
		}
	}
	if len(durations) < minSamples {
		return nil
	}
	return &Pattern{
		EntryType:   "activity",
		SampleSize:  len(durations),
		Confidence:  confidence(len(durations)),
		Consistency: consistency(durations),
		DurationAvg: mean(durations),
		DistanceAvg: mean(distances),
		CaloriesAvg: mean(calories),
	}
}

func analyzeWorkout(rows []memory.Row) *Pattern {
	var durations []float64
	counts := make(map[string]int)
	for _, row := range rows {
		dur, ok := metaFloat(row.Metadata, "duration_minutes")
		if !ok {
			continue
		}
		durations = append(durations, dur)
		for _, name := range metaStrings(row.Metadata, "exercises") {
			counts[strings.ToLower(name)]++
		}
	}
	if len(durations) < minSamples {
		return nil
	}
	return &Pattern{
		EntryType:       "workout",
		SampleSize:      len(durations),
		Confidence:      confidence(len(durations)),
		Consistency:     consistency(durations),
		DurationAvg:     mean(durations),
		CommonExercises: topExercises(counts, 5),
	}
}

func confidence(n int) float64 {
	return math.Min(0.95, 0.5+float64(n)/20*0.45)
}

// consistency is 1 − coefficient of variation, clamped to [0,1]. Identical
// samples score 1; a spread larger than the mean scores 0.
func consistency(samples []float64) float64 {
	m := mean(samples)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, v := range samples {
		ss += (v - m) * (v - m)
	}
	sd := math.Sqrt(ss / float64(len(samples)))
	c := 1 - sd/m
	return math.Max(0, math.Min(1, c))
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func topExercises(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// metaFloat extracts a numeric metadata value, tolerating the numeric types
// JSON decoding and BSON round-trips produce.
func metaFloat(meta map[string]any, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// metaStrings extracts a list of strings; entries that are maps contribute
// their "name" field (the shape exercises take in entry metadata).
func metaStrings(meta map[string]any, key string) []string {
	v, ok := meta[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	var out []string
	for _, item := range items {
		switch e := item.(type) {
		case string:
			out = append(out, e)
		case map[string]any:
			if name, ok := e["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}
