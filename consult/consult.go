// Package consult runs specialist consultations: staged dialogues that
// extract structured facts from the conversation and fold them back into the
// user profile on completion.
package consult

import (
	"math"
	"sort"
	"time"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Specialist types. Each drives its own stage list, canned questions, and
// extraction categories.
const (
	SpecialistUnifiedCoach      = "unified_coach"
	SpecialistNutritionist      = "nutritionist"
	SpecialistTrainer           = "trainer"
	SpecialistPhysiotherapist   = "physiotherapist"
	SpecialistSportsPsychologst = "sports_psychologist"
)

// Extraction categories. Latest row per category wins when summarizing.
const (
	CategoryMeasurements   = "measurements"
	CategoryGoals          = "goals"
	CategoryPreferences    = "preferences"
	CategoryLifestyle      = "lifestyle"
	CategoryPsychology     = "psychology"
	CategoryHealthHistory  = "health_history"
	CategoryEatingPatterns = "eating_patterns"
)

type (
	// Session is one consultation dialogue.
	Session struct {
		ID             string
		UserID         string
		SpecialistType string
		Status         string
		StageIndex     int
		TotalMessages  int
		Progress       int
		// Summary is set when the session completes: the collapsed
		// per-category extraction data.
		Summary map[string]map[string]any
		// Title and LastMessageAt are conversation analytics maintained by a
		// background task, not by the request path.
		Title         string
		LastMessageAt time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
		CompletedAt   time.Time
	}

	// Message is one turn in a session, append-only.
	Message struct {
		ID        string
		SessionID string
		UserID    string
		Role      string
		Content   string
		CreatedAt time.Time
	}

	// Extraction is one structured fact set pulled from the dialogue.
	Extraction struct {
		ID         string
		SessionID  string
		UserID     string
		Category   string
		Data       map[string]any
		Confidence float64
		CreatedAt  time.Time
	}

	specialist struct {
		stages          []string
		initialQuestion string
		persona         string
		categories      []string
	}
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var specialists = map[string]specialist{
	SpecialistUnifiedCoach: {
		stages: []string{
			"introduction", "primary_goals", "current_state",
			"limitations_preferences", "lifestyle_factors",
			"success_metrics", "wrap_up",
		},
		initialQuestion: "Welcome! I'm your coach. To build your plan I'd like to get to know you. What brings you here, and what would you most like to change?",
		persona:         "a holistic fitness and nutrition coach running an intake consultation",
		categories: []string{
			CategoryMeasurements, CategoryGoals, CategoryPreferences,
			CategoryLifestyle, CategoryPsychology,
		},
	},
	SpecialistNutritionist: {
		stages: []string{
			"introduction", "eating_patterns", "dietary_restrictions",
			"nutrition_goals", "wrap_up",
		},
		initialQuestion: "Hi, I'm your nutritionist. Walk me through a typical day of eating, from waking up to going to bed.",
		persona:         "a registered nutritionist assessing a client's eating habits",
		categories: []string{
			CategoryMeasurements, CategoryEatingPatterns,
			CategoryPreferences, CategoryGoals,
		},
	},
	SpecialistTrainer: {
		stages: []string{
			"introduction", "training_history", "current_capacity",
			"equipment_schedule", "wrap_up",
		},
		initialQuestion: "Hey, I'm your trainer. Tell me about your training history: what have you done before, and what are you doing right now?",
		persona:         "a strength and conditioning coach assessing a new athlete",
		categories: []string{
			CategoryMeasurements, CategoryGoals, CategoryPreferences,
		},
	},
	SpecialistPhysiotherapist: {
		stages: []string{
			"introduction", "injury_history", "pain_points",
			"movement_limits", "wrap_up",
		},
		initialQuestion: "Hello, I'm your physiotherapist. Do you have any current or past injuries, pain, or movement restrictions I should know about?",
		persona:         "a physiotherapist screening for injuries and movement restrictions",
		categories: []string{
			CategoryHealthHistory, CategoryPreferences,
		},
	},
	SpecialistSportsPsychologst: {
		stages: []string{
			"introduction", "motivation", "obstacles",
			"habits_mindset", "wrap_up",
		},
		initialQuestion: "Hi there. I focus on the mental side of training. What keeps you motivated, and where do you tend to struggle?",
		persona:         "a sports psychologist exploring motivation and adherence",
		categories: []string{
			CategoryPsychology, CategoryGoals, CategoryLifestyle,
		},
	},
}

// ValidSpecialist reports whether the specialist type is known.
func ValidSpecialist(specialistType string) bool {
	_, ok := specialists[specialistType]
	return ok
}

// Stages returns the ordered stage list for the specialist, nil when unknown.
func Stages(specialistType string) []string {
	sp, ok := specialists[specialistType]
	if !ok {
		return nil
	}
	return append([]string(nil), sp.stages...)
}

// InitialQuestion returns the canned opener for the specialist.
func InitialQuestion(specialistType string) string {
	return specialists[specialistType].initialQuestion
}

// ProgressFor computes the percentage for a stage index within the
// specialist's stage list.
func ProgressFor(specialistType string, stageIndex int) int {
	sp, ok := specialists[specialistType]
	if !ok || len(sp.stages) == 0 {
		return 0
	}
	if stageIndex >= len(sp.stages) {
		stageIndex = len(sp.stages)
	}
	return int(math.Round(float64(stageIndex) / float64(len(sp.stages)) * 100))
}

// TerminalStage reports whether the stage index is the specialist's wrap-up
// stage.
func TerminalStage(specialistType string, stageIndex int) bool {
	sp, ok := specialists[specialistType]
	if !ok {
		return false
	}
	return stageIndex >= len(sp.stages)-1
}

// StageName returns the name of the stage at index, clamped to the list.
func StageName(specialistType string, stageIndex int) string {
	sp, ok := specialists[specialistType]
	if !ok || len(sp.stages) == 0 {
		return ""
	}
	if stageIndex < 0 {
		stageIndex = 0
	}
	if stageIndex >= len(sp.stages) {
		stageIndex = len(sp.stages) - 1
	}
	return sp.stages[stageIndex]
}

// Collapse folds extractions into a per-category summary, latest row wins.
// Input order must be chronological.
func Collapse(extractions []Extraction) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, ex := range extractions {
		if len(ex.Data) == 0 {
			continue
		}
		out[ex.Category] = ex.Data
	}
	return out
}

// SummaryCategories returns the collapsed summary's categories in a stable
// order.
func SummaryCategories(summary map[string]map[string]any) []string {
	cats := make([]string, 0, len(summary))
	for c := range summary {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
