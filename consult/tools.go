package consult

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fitcoach-ai/fitcoach/entry"
	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/profile"
	"github.com/fitcoach-ai/fitcoach/recommend"
)

type (
	// MealLog serves the day's logged meals for nutrition progress.
	MealLog interface {
		MealsLoggedOn(ctx context.Context, userID string, day time.Time) ([]entry.Meal, error)
	}

	// RecommendationReader serves the day's recommendations.
	RecommendationReader interface {
		ForDate(ctx context.Context, userID string, day time.Time) ([]recommend.Recommendation, error)
	}

	// ToolsOptions configures the coach tool surface.
	ToolsOptions struct {
		// Store reads consultation history. Required.
		Store Store
		// Profiles reads the user profile. Required.
		Profiles profile.Store
		// Recommendations reads the day's plan. Optional.
		Recommendations RecommendationReader
		// Meals reads the day's logged meals. Optional.
		Meals MealLog
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Tools is the read-only surface the chat layer exposes to the coach
	// model. Every method returns a self-describing map so results can feed a
	// tool-use response verbatim, with explicit empty states instead of
	// errors for missing data.
	Tools struct {
		store    Store
		profiles profile.Store
		recs     RecommendationReader
		meals    MealLog
		now      func() time.Time
	}
)

// NewTools builds the coach tool surface.
func NewTools(opts ToolsOptions) (*Tools, error) {
	if opts.Store == nil {
		return nil, errors.New("consult: store is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("consult: profile store is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Tools{
		store:    opts.Store,
		profiles: opts.Profiles,
		recs:     opts.Recommendations,
		meals:    opts.Meals,
		now:      now,
	}, nil
}

// UserProfileSummary returns the whole profile in one map.
func (t *Tools) UserProfileSummary(ctx context.Context, userID string) (map[string]any, error) {
	prof, err := t.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return map[string]any{"exists": false, "message": "No profile yet. A consultation will create one."}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load profile")
	}
	out := map[string]any{
		"exists": true,
		"measurements": map[string]any{
			"weight_kg":      prof.Measurements.WeightKg,
			"height_cm":      prof.Measurements.HeightCm,
			"age":            prof.Measurements.Age,
			"biological_sex": string(prof.Measurements.BiologicalSex),
			"body_fat_pct":   prof.Measurements.BodyFatPct,
		},
		"goals":       goalsMap(prof),
		"preferences": preferencesMap(prof),
		"updated_at":  prof.UpdatedAt,
	}
	if prof.Nutrition != nil {
		out["nutrition_targets"] = targetsMap(prof.Nutrition)
	}
	return out, nil
}

// UserGoals returns the user's goals.
func (t *Tools) UserGoals(ctx context.Context, userID string) (map[string]any, error) {
	prof, err := t.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return map[string]any{"exists": false, "message": "No goals recorded yet."}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load profile")
	}
	out := goalsMap(prof)
	out["exists"] = true
	return out, nil
}

// UserPreferences returns the user's preferences.
func (t *Tools) UserPreferences(ctx context.Context, userID string) (map[string]any, error) {
	prof, err := t.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return map[string]any{"exists": false, "message": "No preferences recorded yet."}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load profile")
	}
	out := preferencesMap(prof)
	out["exists"] = true
	return out, nil
}

// NutritionTargetsWithProgress returns the daily targets alongside what the
// user has logged for the date. A zero date means today.
func (t *Tools) NutritionTargetsWithProgress(ctx context.Context, userID string, date time.Time) (map[string]any, error) {
	if date.IsZero() {
		date = t.now()
	}
	prof, err := t.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) || (err == nil && prof.Nutrition == nil) {
		return map[string]any{"exists": false, "message": "No nutrition targets yet. Complete a consultation to calculate them."}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load profile")
	}

	out := map[string]any{
		"exists":  true,
		"date":    date.UTC().Format("2006-01-02"),
		"targets": targetsMap(prof.Nutrition),
	}
	if t.meals == nil {
		return out, nil
	}
	meals, err := t.meals.MealsLoggedOn(ctx, userID, date)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load logged meals")
	}
	var cal, protein, carbs, fat float64
	for _, m := range meals {
		cal += m.Calories
		protein += m.ProteinG
		carbs += m.CarbsG
		fat += m.FatG
	}
	out["consumed"] = map[string]any{
		"calories":  cal,
		"protein_g": protein,
		"carbs_g":   carbs,
		"fat_g":     fat,
		"meals":     len(meals),
	}
	out["remaining"] = map[string]any{
		"calories":  prof.Nutrition.Daily.Calories - cal,
		"protein_g": prof.Nutrition.Daily.ProteinG - protein,
	}
	return out, nil
}

// TodaysRecommendations returns the day's plan for the coach to reference.
func (t *Tools) TodaysRecommendations(ctx context.Context, userID string) (map[string]any, error) {
	if t.recs == nil {
		return map[string]any{"count": 0, "message": "Recommendations are not available."}, nil
	}
	recs, err := t.recs.ForDate(ctx, userID, t.now())
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load recommendations")
	}
	if len(recs) == 0 {
		return map[string]any{"count": 0, "message": "No recommendations generated for today yet."}, nil
	}
	items := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		items = append(items, map[string]any{
			"type":     r.Type,
			"title":    r.Title,
			"status":   r.Status,
			"priority": r.Priority,
			"time":     r.RecommendationTime.UTC().Format("15:04"),
		})
	}
	return map[string]any{"count": len(recs), "recommendations": items}, nil
}

// ConsultationHistory returns the user's sessions, most recent first.
func (t *Tools) ConsultationHistory(ctx context.Context, userID string) (map[string]any, error) {
	sessions, err := t.store.SessionsByUser(ctx, userID, 0)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load sessions")
	}
	if len(sessions) == 0 {
		return map[string]any{"count": 0, "message": "No consultations yet."}, nil
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, map[string]any{
			"session_id":      s.ID,
			"specialist_type": s.SpecialistType,
			"status":          s.Status,
			"progress":        s.Progress,
			"started_at":      s.CreatedAt,
		})
	}
	return map[string]any{"count": len(sessions), "consultations": items}, nil
}

// CompareConsultations diffs the summaries of the user's two most recent
// completed sessions.
func (t *Tools) CompareConsultations(ctx context.Context, userID string) (map[string]any, error) {
	sessions, err := t.store.SessionsByUser(ctx, userID, 0)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load sessions")
	}
	var completed []Session
	for _, s := range sessions {
		if s.Status == StatusCompleted && len(s.Summary) > 0 {
			completed = append(completed, s)
		}
	}
	if len(completed) < 2 {
		return map[string]any{"comparable": false, "message": "Fewer than two completed consultations to compare."}, nil
	}
	latest, previous := completed[0], completed[1]

	changes := make(map[string]any)
	for _, category := range SummaryCategories(latest.Summary) {
		prev := previous.Summary[category]
		diff := make(map[string]any)
		for field, v := range latest.Summary[category] {
			if prev == nil {
				diff[field] = map[string]any{"now": v}
				continue
			}
			if old, ok := prev[field]; !ok || fmt.Sprint(old) != fmt.Sprint(v) {
				diff[field] = map[string]any{"was": old, "now": v}
			}
		}
		if len(diff) > 0 {
			changes[category] = diff
		}
	}
	return map[string]any{
		"comparable":  true,
		"latest":      map[string]any{"session_id": latest.ID, "completed_at": latest.CompletedAt},
		"previous":    map[string]any{"session_id": previous.ID, "completed_at": previous.CompletedAt},
		"changes":     changes,
		"has_changes": len(changes) > 0,
	}, nil
}

// GoalEvolution tracks how a category's extracted facts changed over time
// across all of the user's sessions.
func (t *Tools) GoalEvolution(ctx context.Context, userID, category string) (map[string]any, error) {
	if category == "" {
		category = CategoryGoals
	}
	extractions, err := t.store.ExtractionsByUser(ctx, userID, category, time.Time{})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load extractions")
	}
	if len(extractions) == 0 {
		return map[string]any{"category": category, "count": 0, "message": "No extractions for this category yet."}, nil
	}
	points := make([]map[string]any, 0, len(extractions))
	for _, ex := range extractions {
		points = append(points, map[string]any{
			"at":         ex.CreatedAt,
			"session_id": ex.SessionID,
			"data":       ex.Data,
		})
	}
	return map[string]any{"category": category, "count": len(points), "evolution": points}, nil
}

// ConsultationTimeline renders the user's recent sessions as display lines.
func (t *Tools) ConsultationTimeline(ctx context.Context, userID string, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = 5
	}
	sessions, err := t.store.SessionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load sessions")
	}
	if len(sessions) == 0 {
		return map[string]any{"count": 0, "timeline": "No consultations yet."}, nil
	}
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		line := fmt.Sprintf("%s — %s (%s, %d%%)",
			s.CreatedAt.UTC().Format("2006-01-02"),
			strings.ReplaceAll(s.SpecialistType, "_", " "),
			s.Status, s.Progress)
		lines = append(lines, line)
	}
	return map[string]any{"count": len(sessions), "timeline": strings.Join(lines, "\n")}, nil
}

func goalsMap(prof *profile.Profile) map[string]any {
	return map[string]any{
		"primary_goal":       prof.Goals.PrimaryGoal,
		"target_weight_kg":   prof.Goals.TargetWeightKg,
		"training_frequency": prof.Goals.TrainingFrequency,
	}
}

func preferencesMap(prof *profile.Profile) map[string]any {
	return map[string]any{
		"equipment_access":     prof.Preferences.EquipmentAccess,
		"dietary_restrictions": prof.Preferences.DietaryRestrictions,
		"preferred_activities": prof.Preferences.PreferredActivities,
	}
}

func targetsMap(n *profile.NutritionTargets) map[string]any {
	return map[string]any{
		"bmr":           n.BMR,
		"tdee":          n.TDEE,
		"calories":      n.Daily.Calories,
		"protein_g":     n.Daily.ProteinG,
		"carbs_g":       n.Daily.CarbsG,
		"fat_g":         n.Daily.FatG,
		"calculated_at": n.CalculatedAt,
	}
}
