// Package recommend generates event-aware daily recommendations: meals sized
// to the remaining macro budget, workouts from the active program, and
// countdown reminders for upcoming events, with macros periodized around the
// event calendar.
package recommend

import (
	"math"
	"time"

	"github.com/fitcoach-ai/fitcoach/nutrition"
)

// Recommendation types.
const (
	RecMeal          = "meal"
	RecWorkout       = "workout"
	RecRest          = "rest"
	RecEventReminder = "event_reminder"
)

// Recommendation statuses. Terminal statuses are immutable.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// Training phases relative to an event.
const (
	PhasePreTraining = "pre_training"
	PhaseBuild       = "build"
	PhasePeak        = "peak"
	PhaseTaper       = "taper"
)

// Event categories grouping event types by nutrition strategy.
const (
	CategoryEndurance = "endurance"
	CategoryStrength  = "strength"
	CategoryPhysique  = "physique"
)

type (
	// Event is a dated goal the user is training toward.
	Event struct {
		ID                string
		UserID            string
		Name              string
		EventType         string
		EventDate         time.Time
		TrainingStartDate time.Time
		PeakWeekDate      time.Time
		TaperStartDate    time.Time
		IsPrimaryGoal     bool
	}

	// ProgramDay is one scheduled day of a training program.
	ProgramDay struct {
		DayIndex    int
		Name        string
		Focus       string
		Description string
	}

	// Program is a structured training block.
	Program struct {
		ID        string
		UserID    string
		Name      string
		Status    string
		StartDate time.Time
		Days      []ProgramDay
		CreatedAt time.Time
	}

	// Recommendation is one actionable suggestion for a specific day.
	Recommendation struct {
		ID                 string
		UserID             string
		Type               string
		MealType           string
		Title              string
		Description        string
		Priority           int
		Data               map[string]any
		RecommendationDate time.Time
		RecommendationTime time.Time
		ExpiresAt          time.Time
		Status             string
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}

	// Phase is one named block of a periodization template.
	Phase struct {
		Name  string
		Weeks int
		Focus string
	}

	// Template is the periodization plan for one event type.
	Template struct {
		Category          string
		TrainingWeeks     int
		TaperWeeks        int
		Phases            []Phase
		NutritionStrategy string
	}
)

// Terminal reports whether a recommendation status admits no further updates.
func Terminal(status string) bool {
	switch status {
	case StatusRejected, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// templates is the closed periodization table keyed by event type.
var templates = map[string]Template{
	"marathon": {
		Category:      CategoryEndurance,
		TrainingWeeks: 16,
		TaperWeeks:    3,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 10, Focus: "aerobic base and weekly mileage"},
			{Name: PhasePeak, Weeks: 3, Focus: "race-pace long runs"},
			{Name: PhaseTaper, Weeks: 3, Focus: "volume reduction, keep intensity"},
		},
		NutritionStrategy: "carb periodization with a pre-race load",
	},
	"half_marathon": {
		Category:      CategoryEndurance,
		TrainingWeeks: 12,
		TaperWeeks:    2,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 8, Focus: "aerobic base"},
			{Name: PhasePeak, Weeks: 2, Focus: "tempo and race pace"},
			{Name: PhaseTaper, Weeks: 2, Focus: "volume reduction"},
		},
		NutritionStrategy: "carb periodization with a pre-race load",
	},
	"triathlon": {
		Category:      CategoryEndurance,
		TrainingWeeks: 16,
		TaperWeeks:    2,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 11, Focus: "three-sport base volume"},
			{Name: PhasePeak, Weeks: 3, Focus: "brick sessions at race intensity"},
			{Name: PhaseTaper, Weeks: 2, Focus: "freshen up"},
		},
		NutritionStrategy: "carb periodization with a pre-race load",
	},
	"cycling_race": {
		Category:      CategoryEndurance,
		TrainingWeeks: 12,
		TaperWeeks:    1,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 8, Focus: "base miles and threshold"},
			{Name: PhasePeak, Weeks: 3, Focus: "race simulation"},
			{Name: PhaseTaper, Weeks: 1, Focus: "openers only"},
		},
		NutritionStrategy: "carb periodization with a pre-race load",
	},
	"powerlifting_meet": {
		Category:      CategoryStrength,
		TrainingWeeks: 12,
		TaperWeeks:    1,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 8, Focus: "volume accumulation"},
			{Name: PhasePeak, Weeks: 3, Focus: "heavy singles, openers"},
			{Name: PhaseTaper, Weeks: 1, Focus: "deload to meet day"},
		},
		NutritionStrategy: "maintenance with a light pre-meet cut",
	},
	"weightlifting_meet": {
		Category:      CategoryStrength,
		TrainingWeeks: 12,
		TaperWeeks:    1,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 8, Focus: "positional strength"},
			{Name: PhasePeak, Weeks: 3, Focus: "heavy classic lifts"},
			{Name: PhaseTaper, Weeks: 1, Focus: "deload to meet day"},
		},
		NutritionStrategy: "maintenance with a light pre-meet cut",
	},
	"physique_show": {
		Category:      CategoryPhysique,
		TrainingWeeks: 16,
		TaperWeeks:    1,
		Phases: []Phase{
			{Name: PhaseBuild, Weeks: 8, Focus: "muscle retention while dieting"},
			{Name: PhasePeak, Weeks: 7, Focus: "conditioning push"},
			{Name: PhaseTaper, Weeks: 1, Focus: "peak-week protocol"},
		},
		NutritionStrategy: "staged deficit with peak-week carb manipulation",
	},
}

// defaultTemplate covers event types outside the closed table.
var defaultTemplate = Template{
	Category:      CategoryEndurance,
	TrainingWeeks: 12,
	TaperWeeks:    2,
	Phases: []Phase{
		{Name: PhaseBuild, Weeks: 8, Focus: "general preparation"},
		{Name: PhasePeak, Weeks: 2, Focus: "event-specific work"},
		{Name: PhaseTaper, Weeks: 2, Focus: "recovery into the event"},
	},
	NutritionStrategy: "maintenance",
}

// TemplateFor returns the periodization template for the event type.
func TemplateFor(eventType string) Template {
	if t, ok := templates[eventType]; ok {
		return t
	}
	return defaultTemplate
}

// DerivePhase returns the training phase for today given the event's
// milestone dates.
func DerivePhase(e Event, today time.Time) string {
	day := truncateDay(today)
	switch {
	case !e.TaperStartDate.IsZero() && !day.Before(truncateDay(e.TaperStartDate)):
		return PhaseTaper
	case !e.PeakWeekDate.IsZero() && !day.Before(truncateDay(e.PeakWeekDate)):
		return PhasePeak
	case !e.TrainingStartDate.IsZero() && !day.Before(truncateDay(e.TrainingStartDate)):
		return PhaseBuild
	default:
		return PhasePreTraining
	}
}

// DaysUntil returns whole days between today and the event date, negative
// after the event.
func DaysUntil(e Event, today time.Time) int {
	return int(truncateDay(e.EventDate).Sub(truncateDay(today)).Hours() / 24)
}

// reminderDays is the countdown schedule for event reminders.
var reminderDays = map[int]bool{
	90: true, 60: true, 30: true, 21: true, 14: true,
	7: true, 3: true, 2: true, 1: true, 0: true,
}

// ReminderDue reports whether a countdown reminder fires at this distance.
func ReminderDue(daysUntil int) bool { return reminderDays[daysUntil] }

// ReminderPriority scales urgency with proximity to the event.
func ReminderPriority(daysUntil int) int {
	switch {
	case daysUntil <= 3:
		return 5
	case daysUntil <= 7:
		return 4
	case daysUntil <= 21:
		return 3
	default:
		return 2
	}
}

// AdjustMacros periodizes the daily macro targets around the event phase.
// The zero event leaves targets unchanged.
func AdjustMacros(daily nutrition.Macros, e Event, phase string, daysUntil int) nutrition.Macros {
	out := daily
	switch TemplateFor(e.EventType).Category {
	case CategoryEndurance:
		switch phase {
		case PhaseBuild:
			out.CarbsG = roundEven(out.CarbsG * 1.10)
		case PhasePeak:
			out.CarbsG = roundEven(out.CarbsG * 1.20)
		case PhaseTaper:
			if daysUntil >= 0 && daysUntil <= 3 {
				// Carb load overrides the taper reduction.
				out.CarbsG = roundEven(out.CarbsG * 1.5)
				out.Calories = roundEven(out.Calories * 1.10)
			} else {
				out.Calories = roundEven(out.Calories * 0.90)
			}
		}
	case CategoryStrength:
		if phase == PhaseTaper && daysUntil >= 0 && daysUntil <= 7 {
			out.Calories = roundEven(out.Calories * 0.95)
		}
	case CategoryPhysique:
		switch phase {
		case PhaseBuild:
			out.Calories = roundEven(out.Calories * 1.10)
		case PhasePeak:
			out.Calories = roundEven(out.Calories * 0.85)
			out.CarbsG = roundEven(out.CarbsG * 0.80)
		case PhaseTaper:
			if daysUntil >= 0 && daysUntil <= 2 {
				out.CarbsG = roundEven(out.CarbsG * 1.5)
			} else if daysUntil <= 7 {
				out.CarbsG = roundEven(out.CarbsG * 0.5)
			}
		}
	}
	return out
}

// Default meal slots for a day, in chronological order.
var mealSlots = []struct {
	mealType string
	hour     int
	minute   int
}{
	{"breakfast", 7, 0},
	{"lunch", 12, 0},
	{"snack", 15, 0},
	{"dinner", 18, 30},
}

// MealTime returns the default clock time for a meal type on the given day
// (UTC). Unknown meal types default to the dinner slot.
func MealTime(day time.Time, mealType string) time.Time {
	d := truncateDay(day)
	for _, slot := range mealSlots {
		if slot.mealType == mealType {
			return d.Add(time.Duration(slot.hour)*time.Hour + time.Duration(slot.minute)*time.Minute)
		}
	}
	return d.Add(18*time.Hour + 30*time.Minute)
}

// EndOfDay returns 23:59:59 UTC on the given day, the expiry instant for that
// day's recommendations.
func EndOfDay(day time.Time) time.Time {
	d := truncateDay(day)
	return d.Add(24*time.Hour - time.Second)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func roundEven(v float64) float64 { return math.RoundToEven(v) }
