package consult_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/consult"
	"github.com/fitcoach-ai/fitcoach/consult/inmem"
	"github.com/fitcoach-ai/fitcoach/entry"
	entryinmem "github.com/fitcoach-ai/fitcoach/entry/inmem"
	"github.com/fitcoach-ai/fitcoach/nutrition"
	"github.com/fitcoach-ai/fitcoach/profile"
	profileinmem "github.com/fitcoach-ai/fitcoach/profile/inmem"
	"github.com/fitcoach-ai/fitcoach/recommend"
	recommendinmem "github.com/fitcoach-ai/fitcoach/recommend/inmem"
)

func newTools(t *testing.T) (*consult.Tools, *inmem.Store, *profileinmem.Store, *recommendinmem.Store, *entryinmem.Store) {
	t.Helper()
	store := inmem.New()
	profiles := profileinmem.New()
	recs := recommendinmem.New()
	entries := entryinmem.New()
	tools, err := consult.NewTools(consult.ToolsOptions{
		Store:           store,
		Profiles:        profiles,
		Recommendations: recs,
		Meals:           entries,
		Clock:           func() time.Time { return consultClock },
	})
	require.NoError(t, err)
	return tools, store, profiles, recs, entries
}

func seedProfile(t *testing.T, profiles *profileinmem.Store) {
	t.Helper()
	require.NoError(t, profiles.Upsert(context.Background(), &profile.Profile{
		UserID: "u1",
		Measurements: profile.Measurements{
			WeightKg: 80, HeightCm: 180, Age: 30, BiologicalSex: nutrition.SexMale,
		},
		Goals:       profile.Goals{PrimaryGoal: "muscle_gain", TrainingFrequency: 4},
		Preferences: profile.Preferences{EquipmentAccess: "full_gym"},
		Nutrition: &profile.NutritionTargets{
			BMR: 1780, TDEE: 2759,
			Daily: nutrition.Macros{Calories: 3035, ProteinG: 160, FatG: 94, CarbsG: 387},
		},
	}))
}

func TestUserProfileSummary(t *testing.T) {
	tools, _, profiles, _, _ := newTools(t)

	empty, err := tools.UserProfileSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, false, empty["exists"])
	assert.NotEmpty(t, empty["message"])

	seedProfile(t, profiles)
	out, err := tools.UserProfileSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, true, out["exists"])
	measurements := out["measurements"].(map[string]any)
	assert.Equal(t, 80.0, measurements["weight_kg"])
	require.Contains(t, out, "nutrition_targets")
}

func TestUserGoalsAndPreferences(t *testing.T) {
	tools, _, profiles, _, _ := newTools(t)
	seedProfile(t, profiles)

	goals, err := tools.UserGoals(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "muscle_gain", goals["primary_goal"])
	assert.Equal(t, 4, goals["training_frequency"])

	prefs, err := tools.UserPreferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "full_gym", prefs["equipment_access"])

	missing, err := tools.UserGoals(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, false, missing["exists"])
}

func TestNutritionTargetsWithProgress(t *testing.T) {
	tools, _, profiles, _, entries := newTools(t)

	empty, err := tools.NutritionTargetsWithProgress(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, false, empty["exists"])

	seedProfile(t, profiles)
	_, err = entries.InsertMeal(context.Background(), &entry.Meal{
		UserID: "u1", MealType: "breakfast", Calories: 600, ProteinG: 45,
		CarbsG: 60, FatG: 20, LoggedAt: consultClock,
	})
	require.NoError(t, err)

	out, err := tools.NutritionTargetsWithProgress(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, true, out["exists"])
	assert.Equal(t, "2025-06-02", out["date"])
	consumed := out["consumed"].(map[string]any)
	assert.Equal(t, 600.0, consumed["calories"])
	assert.Equal(t, 1, consumed["meals"])
	remaining := out["remaining"].(map[string]any)
	assert.Equal(t, 2435.0, remaining["calories"])
	assert.Equal(t, 115.0, remaining["protein_g"])
}

func TestTodaysRecommendations(t *testing.T) {
	tools, _, _, recs, _ := newTools(t)

	empty, err := tools.TodaysRecommendations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, empty["count"])

	_, err = recs.InsertRecommendation(context.Background(), &recommend.Recommendation{
		UserID: "u1", Type: recommend.RecMeal, MealType: "lunch", Title: "Chicken bowl",
		Priority: 3, RecommendationDate: consultClock,
		RecommendationTime: consultClock.Add(2 * time.Hour),
		ExpiresAt:          recommend.EndOfDay(consultClock),
		Status:             recommend.StatusPending,
	})
	require.NoError(t, err)

	out, err := tools.TodaysRecommendations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])
	items := out["recommendations"].([]map[string]any)
	assert.Equal(t, "Chicken bowl", items[0]["title"])
	assert.Equal(t, "12:00", items[0]["time"])
}

func TestConsultationHistoryAndTimeline(t *testing.T) {
	tools, store, _, _, _ := newTools(t)

	empty, err := tools.ConsultationHistory(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, empty["count"])

	for i, status := range []string{consult.StatusCompleted, consult.StatusActive} {
		_, err := store.CreateSession(context.Background(), &consult.Session{
			UserID:         "u1",
			SpecialistType: consult.SpecialistUnifiedCoach,
			Status:         status,
			Progress:       100 * i,
			CreatedAt:      consultClock.Add(time.Duration(i) * time.Hour),
			UpdatedAt:      consultClock,
		})
		require.NoError(t, err)
	}

	out, err := tools.ConsultationHistory(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
	items := out["consultations"].([]map[string]any)
	// Most recent first.
	assert.Equal(t, consult.StatusActive, items[0]["status"])

	timeline, err := tools.ConsultationTimeline(context.Background(), "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, timeline["count"])
	assert.Contains(t, timeline["timeline"], "unified coach")
}

func TestCompareConsultations(t *testing.T) {
	tools, store, _, _, _ := newTools(t)

	none, err := tools.CompareConsultations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, false, none["comparable"])

	summaries := []map[string]map[string]any{
		{consult.CategoryGoals: {"primary_goal": "weight_loss", "target_weight_kg": 78.0}},
		{consult.CategoryGoals: {"primary_goal": "muscle_gain", "target_weight_kg": 78.0}},
	}
	for i, summary := range summaries {
		id, err := store.CreateSession(context.Background(), &consult.Session{
			UserID:         "u1",
			SpecialistType: consult.SpecialistUnifiedCoach,
			Status:         consult.StatusActive,
			CreatedAt:      consultClock.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		sess, err := store.GetSession(context.Background(), id)
		require.NoError(t, err)
		sess.Status = consult.StatusCompleted
		sess.Summary = summary
		sess.CompletedAt = consultClock.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.UpdateSession(context.Background(), sess))
	}

	out, err := tools.CompareConsultations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, true, out["comparable"])
	assert.Equal(t, true, out["has_changes"])
	changes := out["changes"].(map[string]any)
	goalDiff := changes[consult.CategoryGoals].(map[string]any)
	require.Contains(t, goalDiff, "primary_goal")
	assert.NotContains(t, goalDiff, "target_weight_kg") // unchanged field
}

func TestGoalEvolution(t *testing.T) {
	tools, store, _, _, _ := newTools(t)

	empty, err := tools.GoalEvolution(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, empty["count"])
	assert.Equal(t, consult.CategoryGoals, empty["category"])

	id, err := store.CreateSession(context.Background(), &consult.Session{
		UserID: "u1", SpecialistType: consult.SpecialistUnifiedCoach,
		Status: consult.StatusActive, CreatedAt: consultClock,
	})
	require.NoError(t, err)
	for i, goal := range []string{"weight_loss", "muscle_gain"} {
		_, err := store.InsertExtraction(context.Background(), &consult.Extraction{
			SessionID: id, UserID: "u1", Category: consult.CategoryGoals,
			Data:       map[string]any{"primary_goal": goal},
			Confidence: 0.85,
			CreatedAt:  consultClock.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	out, err := tools.GoalEvolution(context.Background(), "u1", consult.CategoryGoals)
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
	points := out["evolution"].([]map[string]any)
	assert.Equal(t, "weight_loss", points[0]["data"].(map[string]any)["primary_goal"])
	assert.Equal(t, "muscle_gain", points[1]["data"].(map[string]any)["primary_goal"])
}
