package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/entry"
	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/nutrition"
	"github.com/fitcoach-ai/fitcoach/profile"
	"github.com/fitcoach-ai/fitcoach/router"
)

// nextActionGrace is how far behind now a pending recommendation may be and
// still count as the next action.
const nextActionGrace = 30 * time.Minute

type (
	// Models is the slice of the model router the planner needs.
	Models interface {
		Complete(ctx context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error)
	}

	// Entries serves the day's logged meals.
	Entries interface {
		MealsLoggedOn(ctx context.Context, userID string, day time.Time) ([]entry.Meal, error)
	}

	// Options configures the service.
	Options struct {
		// Store persists recommendations, programs, and events. Required.
		Store Store
		// Models generates meal suggestions and programs. Required.
		Models Models
		// Profiles supplies macro targets. Optional.
		Profiles profile.Store
		// Entries supplies the day's logged meals. Optional.
		Entries Entries
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Service generates and manages recommendations.
	Service struct {
		store    Store
		models   Models
		profiles profile.Store
		entries  Entries
		now      func() time.Time
	}

	mealSuggestion struct {
		MealName          string   `json:"meal_name"`
		Foods             []string `json:"foods"`
		Preparation       string   `json:"preparation"`
		EstimatedCalories float64  `json:"estimated_calories"`
		EstimatedProteinG float64  `json:"estimated_protein_g"`
	}
)

// baselineMacros sizes meal recommendations for users without computed
// targets.
var baselineMacros = nutrition.Macros{Calories: 2000, ProteinG: 120, CarbsG: 225, FatG: 62}

// New builds a Service from the provided options.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("recommend: store is required")
	}
	if opts.Models == nil {
		return nil, errors.New("recommend: models are required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    opts.Store,
		models:   opts.Models,
		profiles: opts.Profiles,
		entries:  opts.Entries,
		now:      now,
	}, nil
}

// GenerateDailyPlan builds the day's recommendations. Idempotent: categories
// already recommended for the date are not regenerated. Secondary fetches
// (profile, program, events, logged meals) failing degrade the plan; only
// persistence failures surface.
func (s *Service) GenerateDailyPlan(ctx context.Context, userID string, targetDate time.Time) ([]Recommendation, error) {
	if userID == "" {
		return nil, fault.New(fault.KindInvalidInput, "user id is required")
	}
	day := truncateDay(targetDate)

	existing, err := s.store.ForDate(ctx, userID, day)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load existing recommendations")
	}

	prof := s.loadProfile(ctx, userID)
	daily := baselineMacros
	if prof != nil && prof.Nutrition != nil {
		daily = prof.Nutrition.Daily
	}

	events := s.loadEvents(ctx, userID, day)
	primary, phase, daysUntil := primaryEvent(events, day)
	if primary != nil {
		daily = AdjustMacros(daily, *primary, phase, daysUntil)
	}

	logged := s.loadMeals(ctx, userID, day)

	var out []Recommendation
	out = append(out, s.mealRecommendations(ctx, userID, day, daily, logged, existing)...)
	if w := s.workoutRecommendation(ctx, userID, day, prof, phase, existing); w != nil {
		out = append(out, *w)
	}
	out = append(out, s.eventReminders(day, events, existing)...)

	for i := range out {
		if _, err := s.store.InsertRecommendation(ctx, &out[i]); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "persist recommendation")
		}
	}
	return out, nil
}

// SuggestNextAction returns the pending recommendation whose time is closest
// to now, ignoring ones more than the grace period in the past. Ties go to
// the higher priority. Returns fault.KindNotFound when nothing is pending.
func (s *Service) SuggestNextAction(ctx context.Context, userID string, now time.Time) (*Recommendation, error) {
	recs, err := s.store.ForDate(ctx, userID, truncateDay(now))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load recommendations")
	}
	var best *Recommendation
	var bestDist time.Duration
	for i := range recs {
		r := &recs[i]
		if r.Status != StatusPending {
			continue
		}
		if r.RecommendationTime.Before(now.Add(-nextActionGrace)) {
			continue
		}
		dist := r.RecommendationTime.Sub(now)
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist || (dist == bestDist && r.Priority > best.Priority) {
			best = r
			bestDist = dist
		}
	}
	if best == nil {
		return nil, fault.New(fault.KindNotFound, "no pending recommendation")
	}
	return best, nil
}

// RecordFeedback transitions a recommendation to accepted, rejected, or
// completed. Terminal recommendations reject further updates.
func (s *Service) RecordFeedback(ctx context.Context, id, status string) error {
	switch status {
	case StatusAccepted, StatusRejected, StatusCompleted:
	default:
		return fault.New(fault.KindInvalidInput, "invalid feedback status %q", status)
	}
	err := s.store.UpdateStatus(ctx, id, status)
	switch {
	case errors.Is(err, ErrNotFound):
		return fault.Wrap(fault.KindNotFound, err, "recommendation %s", id)
	case errors.Is(err, ErrTerminalStatus):
		return fault.Wrap(fault.KindPreconditionFailed, err, "recommendation %s", id)
	case err != nil:
		return fault.Wrap(fault.KindInternal, err, "update recommendation %s", id)
	}
	return nil
}

// CompleteMatching marks the best matching pending recommendation completed
// after the user logs a matching entry. Matching is by type, and meal type
// when given; the highest-priority earliest recommendation wins. Returns the
// completed id, or empty when nothing matched.
func (s *Service) CompleteMatching(ctx context.Context, userID, recType, mealType string, at time.Time) (string, error) {
	recs, err := s.store.ForDate(ctx, userID, truncateDay(at))
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "load recommendations")
	}
	var candidates []*Recommendation
	for i := range recs {
		r := &recs[i]
		if r.Status != StatusPending || r.Type != recType {
			continue
		}
		if mealType != "" && r.MealType != mealType {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].RecommendationTime.Before(candidates[j].RecommendationTime)
	})
	winner := candidates[0]
	if err := s.store.UpdateStatus(ctx, winner.ID, StatusCompleted); err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "complete recommendation %s", winner.ID)
	}
	return winner.ID, nil
}

// ExpireDue reaps recommendations past their expiry. Called on a schedule by
// the background worker.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePast(ctx, s.now())
	if err != nil {
		return 0, fault.Wrap(fault.KindInternal, err, "expire recommendations")
	}
	if n > 0 {
		log.Debug(ctx, log.KV{K: "msg", V: "expired recommendations"}, log.KV{K: "count", V: n})
	}
	return n, nil
}

// GenerateProgram builds a training program from consultation context and
// persists it as the user's active program.
func (s *Service) GenerateProgram(ctx context.Context, userID, background string) (*Program, error) {
	if userID == "" {
		return nil, fault.New(fault.KindInvalidInput, "user id is required")
	}
	prompt := fmt.Sprintf(`Design a weekly training program for this user. Respond with JSON only:
{"name": string, "days": [{"name": string, "focus": string, "description": string}]}

Use 7 days including rest days.

User context:
%s`, background)
	resp, err := s.models.Complete(ctx, router.TaskConfig{
		Type:         router.TaskProgramGeneration,
		RequiresJSON: true,
	}, []*model.Message{model.UserMessage(prompt)})
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "generate program")
	}
	var parsed struct {
		Name string `json:"name"`
		Days []struct {
			Name        string `json:"name"`
			Focus       string `json:"focus"`
			Description string `json:"description"`
		} `json:"days"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "decode program response")
	}
	if parsed.Name == "" || len(parsed.Days) == 0 {
		return nil, fault.New(fault.KindUpstreamUnavailable, "program response is incomplete")
	}
	p := &Program{
		UserID:    userID,
		Name:      parsed.Name,
		Status:    "active",
		StartDate: truncateDay(s.now()),
		CreatedAt: s.now().UTC(),
	}
	for i, d := range parsed.Days {
		p.Days = append(p.Days, ProgramDay{
			DayIndex:    i,
			Name:        d.Name,
			Focus:       d.Focus,
			Description: d.Description,
		})
	}
	if _, err := s.store.InsertProgram(ctx, p); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "persist program")
	}
	return p, nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) *profile.Profile {
	if s.profiles == nil {
		return nil
	}
	prof, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			log.Warn(ctx, log.KV{K: "msg", V: "profile fetch failed"}, log.KV{K: "err", V: err.Error()})
		}
		return nil
	}
	return prof
}

func (s *Service) loadEvents(ctx context.Context, userID string, day time.Time) []Event {
	events, err := s.store.UpcomingEvents(ctx, userID, day, day.AddDate(0, 0, 90))
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "event fetch failed"}, log.KV{K: "err", V: err.Error()})
		return nil
	}
	return events
}

func (s *Service) loadMeals(ctx context.Context, userID string, day time.Time) []entry.Meal {
	if s.entries == nil {
		return nil
	}
	meals, err := s.entries.MealsLoggedOn(ctx, userID, day)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "logged meal fetch failed"}, log.KV{K: "err", V: err.Error()})
		return nil
	}
	return meals
}

// primaryEvent selects the event driving periodization: the flagged primary
// goal, else the soonest upcoming event.
func primaryEvent(events []Event, day time.Time) (*Event, string, int) {
	var chosen *Event
	for i := range events {
		if events[i].IsPrimaryGoal {
			chosen = &events[i]
			break
		}
	}
	if chosen == nil && len(events) > 0 {
		chosen = &events[0]
	}
	if chosen == nil {
		return nil, "", 0
	}
	return chosen, DerivePhase(*chosen, day), DaysUntil(*chosen, day)
}

func (s *Service) mealRecommendations(ctx context.Context, userID string, day time.Time, daily nutrition.Macros, logged []entry.Meal, existing []Recommendation) []Recommendation {
	loggedTypes := make(map[string]bool)
	var consumedCal, consumedProtein float64
	for _, m := range logged {
		if m.MealType != "" {
			loggedTypes[m.MealType] = true
		}
		consumedCal += m.Calories
		consumedProtein += m.ProteinG
	}
	recommendedTypes := make(map[string]bool)
	for _, r := range existing {
		if r.Type == RecMeal && r.MealType != "" {
			recommendedTypes[r.MealType] = true
		}
	}

	remainingCal := math.Max(daily.Calories-consumedCal, 0)
	remainingProtein := math.Max(daily.ProteinG-consumedProtein, 0)

	var missing []string
	for _, slot := range mealSlots {
		if !loggedTypes[slot.mealType] && !recommendedTypes[slot.mealType] {
			missing = append(missing, slot.mealType)
		}
	}
	if len(missing) == 0 || remainingCal <= 0 {
		return nil
	}

	// Snacks take 15% of what remains; main meals split the rest evenly.
	snackCal, snackProtein := 0.0, 0.0
	mains := 0
	for _, mt := range missing {
		if mt == "snack" {
			snackCal = remainingCal * 0.15
			snackProtein = remainingProtein * 0.15
		} else {
			mains++
		}
	}
	mainCal, mainProtein := 0.0, 0.0
	if mains > 0 {
		mainCal = (remainingCal - snackCal) / float64(mains)
		mainProtein = (remainingProtein - snackProtein) / float64(mains)
	}

	var out []Recommendation
	for _, mt := range missing {
		cal, protein := mainCal, mainProtein
		if mt == "snack" {
			cal, protein = snackCal, snackProtein
		}
		suggestion := s.suggestMeal(ctx, mt, cal, protein)
		out = append(out, Recommendation{
			UserID:      userID,
			Type:        RecMeal,
			MealType:    mt,
			Title:       suggestion.MealName,
			Description: suggestion.Preparation,
			Priority:    3,
			Data: map[string]any{
				"foods":               suggestion.Foods,
				"estimated_calories":  suggestion.EstimatedCalories,
				"estimated_protein_g": suggestion.EstimatedProteinG,
				"budget_calories":     roundEven(cal),
				"budget_protein_g":    roundEven(protein),
			},
			RecommendationDate: day,
			RecommendationTime: MealTime(day, mt),
			ExpiresAt:          EndOfDay(day),
			Status:             StatusPending,
			CreatedAt:          s.now().UTC(),
			UpdatedAt:          s.now().UTC(),
		})
	}
	return out
}

// suggestMeal asks the model for a quick meal idea inside the budget,
// degrading to a generic suggestion when the call fails.
func (s *Service) suggestMeal(ctx context.Context, mealType string, calories, protein float64) mealSuggestion {
	prompt := fmt.Sprintf(`Suggest one %s around %.0f kcal with about %.0f g protein. Respond with JSON only:
{"meal_name": string, "foods": [strings], "preparation": string, "estimated_calories": number, "estimated_protein_g": number}`,
		mealType, calories, protein)
	resp, err := s.models.Complete(ctx, router.TaskConfig{
		Type:            router.TaskStructuredOutput,
		RequiresJSON:    true,
		PrioritizeSpeed: true,
	}, []*model.Message{model.UserMessage(prompt)})
	if err == nil {
		var ms mealSuggestion
		if jsonErr := json.Unmarshal([]byte(resp.Content), &ms); jsonErr == nil && ms.MealName != "" {
			return ms
		}
		err = errors.New("unusable meal suggestion response")
	}
	log.Warn(ctx, log.KV{K: "msg", V: "meal suggestion failed, using generic"},
		log.KV{K: "meal_type", V: mealType},
		log.KV{K: "err", V: err.Error()})
	return mealSuggestion{
		MealName:          fmt.Sprintf("Balanced %s", mealType),
		Foods:             []string{"lean protein", "whole grains", "vegetables"},
		Preparation:       fmt.Sprintf("Aim for roughly %.0f kcal with %.0f g protein.", calories, protein),
		EstimatedCalories: roundEven(calories),
		EstimatedProteinG: roundEven(protein),
	}
}

func (s *Service) workoutRecommendation(ctx context.Context, userID string, day time.Time, prof *profile.Profile, phase string, existing []Recommendation) *Recommendation {
	for _, r := range existing {
		if r.Type == RecWorkout || r.Type == RecRest {
			return nil
		}
	}

	program := s.loadProgram(ctx, userID)
	if program != nil && len(program.Days) > 0 {
		offset := int(truncateDay(day).Sub(truncateDay(program.StartDate)).Hours() / 24)
		if offset >= 0 {
			pd := program.Days[offset%len(program.Days)]
			return &Recommendation{
				UserID:      userID,
				Type:        RecWorkout,
				Title:       pd.Name,
				Description: strings.TrimSpace(pd.Description + phaseNote(phase)),
				Priority:    4,
				Data: map[string]any{
					"program_id": program.ID,
					"day_index":  pd.DayIndex,
					"focus":      pd.Focus,
				},
				RecommendationDate: truncateDay(day),
				RecommendationTime: truncateDay(day).Add(17 * time.Hour),
				ExpiresAt:          EndOfDay(day),
				Status:             StatusPending,
				CreatedAt:          s.now().UTC(),
				UpdatedAt:          s.now().UTC(),
			}
		}
	}

	frequency := 0
	if prof != nil {
		frequency = prof.Goals.TrainingFrequency
	}
	weekdayIdx := (int(day.Weekday()) + 6) % 7 // Monday = 0
	if weekdayIdx < frequency {
		return &Recommendation{
			UserID:             userID,
			Type:               RecWorkout,
			Title:              "Training session",
			Description:        "No program scheduled; pick a session matching your goal for today.",
			Priority:           3,
			RecommendationDate: truncateDay(day),
			RecommendationTime: truncateDay(day).Add(17 * time.Hour),
			ExpiresAt:          EndOfDay(day),
			Status:             StatusPending,
			CreatedAt:          s.now().UTC(),
			UpdatedAt:          s.now().UTC(),
		}
	}
	return &Recommendation{
		UserID:             userID,
		Type:               RecRest,
		Title:              "Rest day",
		Description:        "Recovery day. Prioritize sleep, hydration, and light movement.",
		Priority:           2,
		RecommendationDate: truncateDay(day),
		RecommendationTime: truncateDay(day).Add(9 * time.Hour),
		ExpiresAt:          EndOfDay(day),
		Status:             StatusPending,
		CreatedAt:          s.now().UTC(),
		UpdatedAt:          s.now().UTC(),
	}
}

func (s *Service) loadProgram(ctx context.Context, userID string) *Program {
	p, err := s.store.ActiveProgram(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn(ctx, log.KV{K: "msg", V: "program fetch failed"}, log.KV{K: "err", V: err.Error()})
		}
		return nil
	}
	return p
}

func phaseNote(phase string) string {
	switch phase {
	case PhaseTaper:
		return " Taper: cut volume, keep movements crisp, stop well short of failure."
	case PhasePeak:
		return " Peak phase: intensity stays high, recover hard between sessions."
	case PhaseBuild:
		return " Build phase: progressive volume week over week."
	default:
		return ""
	}
}

func (s *Service) eventReminders(day time.Time, events []Event, existing []Recommendation) []Recommendation {
	reminded := make(map[string]bool)
	for _, r := range existing {
		if r.Type != RecEventReminder {
			continue
		}
		if id, ok := r.Data["event_id"].(string); ok {
			reminded[id] = true
		}
	}
	var out []Recommendation
	for _, e := range events {
		daysUntil := DaysUntil(e, day)
		if !ReminderDue(daysUntil) || reminded[e.ID] {
			continue
		}
		out = append(out, Recommendation{
			UserID:      e.UserID,
			Type:        RecEventReminder,
			Title:       fmt.Sprintf("%s: %s", countdownMessage(daysUntil), e.Name),
			Description: reminderNote(e, day, daysUntil),
			Priority:    ReminderPriority(daysUntil),
			Data: map[string]any{
				"event_id":   e.ID,
				"event_type": e.EventType,
				"days_until": daysUntil,
			},
			RecommendationDate: truncateDay(day),
			RecommendationTime: truncateDay(day).Add(8 * time.Hour),
			ExpiresAt:          EndOfDay(day),
			Status:             StatusPending,
			CreatedAt:          s.now().UTC(),
			UpdatedAt:          s.now().UTC(),
		})
	}
	return out
}

func countdownMessage(daysUntil int) string {
	switch daysUntil {
	case 0:
		return "TODAY IS THE DAY!"
	case 1:
		return "1 day to go"
	default:
		return fmt.Sprintf("%d days to go", daysUntil)
	}
}

func reminderNote(e Event, day time.Time, daysUntil int) string {
	switch DerivePhase(e, day) {
	case PhaseTaper:
		if daysUntil == 0 {
			return "Execute your plan. Trust the training."
		}
		return "Taper phase: reduce volume and protect sleep."
	case PhasePeak:
		return "Peak phase: biggest sessions of the block, fuel accordingly."
	case PhaseBuild:
		return "Build phase: consistency beats intensity."
	default:
		return "Training block has not started yet; lock in your baseline."
	}
}
