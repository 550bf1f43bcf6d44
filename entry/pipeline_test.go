package entry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/entry"
	"github.com/fitcoach-ai/fitcoach/entry/inmem"
	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/nutrition"
	objinmem "github.com/fitcoach-ai/fitcoach/objstore/inmem"
	"github.com/fitcoach-ai/fitcoach/profile"
	profileinmem "github.com/fitcoach-ai/fitcoach/profile/inmem"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
	workerinmem "github.com/fitcoach-ai/fitcoach/worker/inmem"
)

type fakeModels struct {
	classification string
	classifyErr    error
	sentiment      string
	description    string
	describeErr    error
	transcript     string
	transcribeErr  error

	completeTasks   []router.TaskConfig
	completePrompts []string
}

func (f *fakeModels) Complete(_ context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error) {
	f.completeTasks = append(f.completeTasks, task)
	if len(msgs) > 0 {
		f.completePrompts = append(f.completePrompts, msgs[len(msgs)-1].Content)
	}
	if task.Type == router.TaskQuickCategorization {
		if f.sentiment == "" {
			return nil, errors.New("no sentiment configured")
		}
		return &model.Response{Content: f.sentiment}, nil
	}
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return &model.Response{Content: f.classification}, nil
}

func (f *fakeModels) Describe(context.Context, []byte, string) (string, error) {
	return f.description, f.describeErr
}

func (f *fakeModels) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, f.transcribeErr
}

type fakeEngine struct {
	tasks []worker.Task
	full  bool
}

func (f *fakeEngine) Register(string, worker.Handler) {}
func (f *fakeEngine) Enqueue(_ context.Context, task worker.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}
func (f *fakeEngine) TryEnqueue(_ context.Context, task worker.Task) bool {
	if f.full {
		return false
	}
	f.tasks = append(f.tasks, task)
	return true
}
func (f *fakeEngine) Every(context.Context, string, time.Duration, worker.Task) error { return nil }
func (f *fakeEngine) DailyAt(context.Context, string, int, int, worker.Task) error    { return nil }
func (f *fakeEngine) Start(context.Context) error                                     { return nil }
func (f *fakeEngine) Close(context.Context) error                                     { return nil }

type fakeSearcher struct {
	matches []memory.ScoredMatch
	queries []memory.SourceType
}

func (f *fakeSearcher) SearchSimilarEntries(_ context.Context, _, _ string, sourceType memory.SourceType, _ int, _, _ float64) ([]memory.ScoredMatch, error) {
	f.queries = append(f.queries, sourceType)
	return f.matches, nil
}

const mealClassification = `{
	"type": "meal",
	"confidence": 0.92,
	"data": {
		"name": "Chicken and rice",
		"meal_type": "lunch",
		"calories": 500, "protein_g": 35, "carbs_g": 40, "fat_g": 17,
		"fiber_g": 5, "sugar_g": 5, "sodium_mg": 400,
		"foods": ["chicken breast", "white rice"]
	},
	"suggestions": ["add vegetables"]
}`

func newPipeline(t *testing.T, models *fakeModels, opts ...func(*entry.Options)) (*entry.Pipeline, *inmem.Store, *fakeEngine) {
	t.Helper()
	store := inmem.New()
	engine := &fakeEngine{}
	o := entry.Options{
		Models: models,
		Store:  store,
		Tasks:  engine,
		Clock:  func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&o)
	}
	p, err := entry.NewPipeline(o)
	require.NoError(t, err)
	return p, store, engine
}

func TestPreviewClassifiesText(t *testing.T) {
	models := &fakeModels{classification: mealClassification}
	p, _, _ := newPipeline(t, models)

	cls, err := p.Preview(context.Background(), entry.Input{
		UserID: "u1",
		Text:   "chicken and rice for lunch",
	})
	require.NoError(t, err)
	assert.Equal(t, entry.TypeMeal, cls.Type)
	assert.InDelta(t, 0.92, cls.Confidence, 1e-9)
	assert.Equal(t, "Chicken and rice", cls.Data["name"])
	assert.Equal(t, []string{"add vegetables"}, cls.Suggestions)
	assert.Contains(t, cls.ExtractedText, "chicken and rice")

	require.Len(t, models.completeTasks, 1)
	assert.Equal(t, router.TaskStructuredOutput, models.completeTasks[0].Type)
	assert.True(t, models.completeTasks[0].RequiresJSON)
	assert.True(t, models.completeTasks[0].PrioritizeAccuracy)
}

func TestPreviewRequiresInput(t *testing.T) {
	p, _, _ := newPipeline(t, &fakeModels{classification: mealClassification})

	_, err := p.Preview(context.Background(), entry.Input{UserID: "u1"})
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))

	_, err = p.Preview(context.Background(), entry.Input{Text: "lunch"})
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))

	_, err = p.Preview(context.Background(), entry.Input{UserID: "u1", Text: "x", ManualType: "recipe"})
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}

func TestPreviewManualTypeOverridesClassification(t *testing.T) {
	models := &fakeModels{classification: `{"type":"note","confidence":0.3,"data":{"calories":420}}`}
	p, _, _ := newPipeline(t, models)

	cls, err := p.Preview(context.Background(), entry.Input{
		UserID:     "u1",
		Text:       "something vague",
		ManualType: entry.TypeMeal,
	})
	require.NoError(t, err)
	assert.Equal(t, entry.TypeMeal, cls.Type)
	assert.InDelta(t, 1.0, cls.Confidence, 1e-9)
	assert.True(t, cls.ManualType)
	// Extracted fields from the model survive the override.
	assert.Equal(t, float64(420), cls.Data["calories"])
}

func TestPreviewFailedBranchesUseSentinels(t *testing.T) {
	models := &fakeModels{
		classification: mealClassification,
		describeErr:    errors.New("vision down"),
		transcript:     "ran five kilometers",
	}
	p, _, _ := newPipeline(t, models)

	cls, err := p.Preview(context.Background(), entry.Input{
		UserID: "u1",
		Text:   "quick log",
		Image:  []byte{0xff},
		Audio:  []byte{0x01},
	})
	require.NoError(t, err)
	assert.Contains(t, cls.ExtractedText, "Image: FAILED")
	assert.Contains(t, cls.ExtractedText, "Audio: ran five kilometers")
}

func TestPreviewAllBranchesFailed(t *testing.T) {
	models := &fakeModels{
		classification: mealClassification,
		describeErr:    errors.New("vision down"),
	}
	p, _, _ := newPipeline(t, models)

	_, err := p.Preview(context.Background(), entry.Input{UserID: "u1", Image: []byte{0xff}})
	assert.True(t, fault.IsKind(err, fault.KindUpstreamUnavailable))
}

func TestPreviewDegradesToUnknownOnBadClassification(t *testing.T) {
	for name, models := range map[string]*fakeModels{
		"model error":      {classifyErr: errors.New("provider down")},
		"not json":         {classification: "definitely a meal"},
		"schema violation": {classification: `{"type":"recipe","confidence":2}`},
	} {
		t.Run(name, func(t *testing.T) {
			p, _, _ := newPipeline(t, models)
			cls, err := p.Preview(context.Background(), entry.Input{UserID: "u1", Text: "lunch"})
			require.NoError(t, err)
			assert.Equal(t, entry.TypeUnknown, cls.Type)
			assert.Zero(t, cls.Confidence)
		})
	}
}

func TestPreviewUsesPatternPriorForManualType(t *testing.T) {
	searcher := &fakeSearcher{}
	models := &fakeModels{classification: mealClassification}
	p, _, _ := newPipeline(t, models, func(o *entry.Options) { o.Memory = searcher })

	_, err := p.Preview(context.Background(), entry.Input{
		UserID:     "u1",
		Text:       "usual breakfast",
		ManualType: entry.TypeMeal,
	})
	require.NoError(t, err)
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, memory.SourceMeal, searcher.queries[0])

	// Without a manual type the search runs unfiltered.
	_, err = p.Preview(context.Background(), entry.Input{UserID: "u1", Text: "usual breakfast"})
	require.NoError(t, err)
	require.Len(t, searcher.queries, 2)
	assert.Equal(t, memory.SourceType(""), searcher.queries[1])
}

func TestPreviewDerivesPriorFromDominantSourceType(t *testing.T) {
	mealRow := func(cal float64) memory.ScoredMatch {
		return memory.ScoredMatch{Match: memory.Match{Row: memory.Row{
			SourceType: memory.SourceMeal,
			Metadata:   map[string]any{"calories": cal, "protein_g": 30.0},
		}}}
	}
	searcher := &fakeSearcher{matches: []memory.ScoredMatch{
		mealRow(480),
		mealRow(500),
		{Match: memory.Match{Row: memory.Row{
			SourceType: memory.SourceActivity,
			Metadata:   map[string]any{"duration_minutes": 40.0},
		}}},
		mealRow(520),
	}}
	models := &fakeModels{classification: mealClassification}
	p, _, _ := newPipeline(t, models, func(o *entry.Options) { o.Memory = searcher })

	_, err := p.Preview(context.Background(), entry.Input{UserID: "u1", Text: "usual breakfast"})
	require.NoError(t, err)
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, memory.SourceType(""), searcher.queries[0])

	// The meal rows dominate, so a meal prior reaches the classification
	// prompt with the averaged calories.
	require.NotEmpty(t, models.completePrompts)
	prompt := models.completePrompts[len(models.completePrompts)-1]
	assert.Contains(t, prompt, "3 similar past meal entries")
	assert.Contains(t, prompt, "typical calories 500")
}

func TestConfirmPersistsMealWithEnrichment(t *testing.T) {
	models := &fakeModels{classification: mealClassification}
	p, store, engine := newPipeline(t, models)

	cls, id, err := p.Process(context.Background(), entry.Input{
		UserID: "u1",
		Text:   "chicken and rice for lunch",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, entry.TypeMeal, cls.Type)

	meals := store.Meals()
	require.Len(t, meals, 1)
	m := meals[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "u1", m.UserID)
	assert.Equal(t, "lunch", m.MealType)
	assert.InDelta(t, 35, m.ProteinG, 1e-9)
	assert.InDelta(t, 10, m.QualityScore, 1e-9)
	assert.Contains(t, m.Tags, "high_protein")
	assert.Nil(t, m.GoalAdherence) // no profile store configured

	require.Len(t, engine.tasks, 1)
	assert.Equal(t, worker.TaskVectorizeEntry, engine.tasks[0].Kind)
	assert.Contains(t, string(engine.tasks[0].Payload), `"source_type":"meal"`)
	assert.Contains(t, string(engine.tasks[0].Payload), id)
}

func TestConfirmMealGoalAdherenceFromProfile(t *testing.T) {
	profiles := profileinmem.New()
	require.NoError(t, profiles.Upsert(context.Background(), &profile.Profile{
		UserID: "u1",
		Nutrition: &profile.NutritionTargets{
			Daily: nutrition.Macros{Calories: 2200, ProteinG: 175, CarbsG: 220, FatG: 70},
		},
	}))

	models := &fakeModels{classification: mealClassification}
	p, store, _ := newPipeline(t, models, func(o *entry.Options) { o.Profiles = profiles })

	_, _, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "chicken and rice"})
	require.NoError(t, err)
	meals := store.Meals()
	require.Len(t, meals, 1)
	assert.NotNil(t, meals[0].GoalAdherence)
}

func TestLowConfidenceBecomesUnclassifiedNote(t *testing.T) {
	models := &fakeModels{
		classification: `{"type":"meal","confidence":0.2,"data":{"calories":100}}`,
		sentiment:      `{"sentiment":"neutral","sentiment_score":0}`,
	}
	p, store, _ := newPipeline(t, models)

	cls, id, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "hmm food maybe"})
	require.NoError(t, err)
	assert.Equal(t, entry.TypeMeal, cls.Type) // preview reports what the model said

	assert.Empty(t, store.Meals())
	notes := store.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, id, notes[0].ID)
	assert.Contains(t, notes[0].Tags, "unclassified")
}

func TestManualTypeBypassesConfidenceGate(t *testing.T) {
	models := &fakeModels{classification: `{"type":"unknown","confidence":0.1,"data":{"calories":300}}`}
	p, store, _ := newPipeline(t, models)

	_, _, err := p.Process(context.Background(), entry.Input{
		UserID:     "u1",
		Text:       "leftovers",
		ManualType: entry.TypeMeal,
	})
	require.NoError(t, err)
	require.Len(t, store.Meals(), 1)
	assert.Empty(t, store.Notes())
}

func TestConfirmWorkoutDerivesVolumeAndGroups(t *testing.T) {
	classification := `{
		"type": "workout",
		"confidence": 0.9,
		"data": {
			"notes": "leg day",
			"duration_minutes": 60,
			"rpe": 8,
			"exercises": [
				{"name": "Squat", "sets": 5, "reps": 5, "weight_kg": 100},
				{"name": "Leg Press", "sets": 3, "reps": 10, "weight_kg": 180}
			]
		}
	}`
	models := &fakeModels{classification: classification}
	p, store, _ := newPipeline(t, models)

	_, _, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "leg day"})
	require.NoError(t, err)
	workouts := store.Workouts()
	require.Len(t, workouts, 1)
	w := workouts[0]
	assert.InDelta(t, 5*5*100+3*10*180, w.VolumeLoad, 1e-9)
	assert.Equal(t, []string{"legs"}, w.MuscleGroups)
	assert.Equal(t, "absent", w.OverloadStatus) // no history yet
	// 24 base + 12 for RPE 8; volume below the 10k bonus threshold.
	assert.InDelta(t, 36, w.RecoveryHours, 1e-9)
}

func TestConfirmActivityScoresPaceAgainstHistory(t *testing.T) {
	classification := `{
		"type": "activity",
		"confidence": 0.9,
		"data": {
			"name": "Morning run",
			"activity_type": "run",
			"moving_time_seconds": 1500,
			"distance_meters": 5000
		}
	}`
	models := &fakeModels{classification: classification}
	p, store, _ := newPipeline(t, models)

	// Seed history: two 5k runs at 6:00/km inside the lookback window.
	for range 2 {
		_, err := store.InsertActivity(context.Background(), &entry.Activity{
			UserID:            "u1",
			ActivityType:      "run",
			MovingTimeSeconds: 1800,
			DistanceMeters:    5000,
			StartDate:         time.Date(2025, 5, 25, 8, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	_, _, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "morning run"})
	require.NoError(t, err)
	activities := store.Activities()
	require.Len(t, activities, 3)
	// New run at 5:00/km is >10% faster than the 6:00/km average.
	assert.InDelta(t, 9.0, activities[2].PerformanceScore, 1e-9)
}

func TestConfirmNoteAnalyzesSentiment(t *testing.T) {
	models := &fakeModels{
		classification: `{"type":"note","confidence":0.85,"data":{"title":"Rough week","content":"feeling exhausted"}}`,
		sentiment:      `{"sentiment":"negative","sentiment_score":-0.7,"detected_themes":["energy"]}`,
	}
	p, store, _ := newPipeline(t, models)

	_, _, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "feeling exhausted"})
	require.NoError(t, err)
	notes := store.Notes()
	require.Len(t, notes, 1)
	require.NotNil(t, notes[0].Sentiment)
	assert.Equal(t, "negative", notes[0].Sentiment.Sentiment)
	assert.InDelta(t, -0.7, notes[0].Sentiment.SentimentScore, 1e-9)
}

func TestConfirmMealUploadsImage(t *testing.T) {
	objects := objinmem.New()
	models := &fakeModels{classification: mealClassification, description: "grilled chicken with rice"}
	p, store, engine := newPipeline(t, models, func(o *entry.Options) { o.Objects = objects })

	_, _, err := p.Process(context.Background(), entry.Input{
		UserID:    "u1",
		Image:     []byte{0xde, 0xad},
		ImageMime: "image/png",
	})
	require.NoError(t, err)
	meals := store.Meals()
	require.Len(t, meals, 1)
	assert.Contains(t, meals[0].ImageURL, "mem://entry-media/u1/entries/")
	assert.Contains(t, meals[0].ImageURL, ".png")

	// One text vectorization task plus one image embedding task.
	require.Len(t, engine.tasks, 2)
	assert.Equal(t, worker.TaskVectorizeEntry, engine.tasks[0].Kind)
	assert.Equal(t, worker.TaskVectorizeImage, engine.tasks[1].Kind)

	// The image task carries the storage location so the handler can re-read
	// the object.
	var payload map[string]any
	require.NoError(t, json.Unmarshal(engine.tasks[1].Payload, &payload))
	assert.Equal(t, "entry-media", payload["bucket"])
	assert.Contains(t, payload["path"], "u1/entries/")
	assert.Contains(t, payload["storage_url"], "mem://entry-media/")
	assert.Equal(t, "image/png", payload["mime_type"])
	assert.InDelta(t, 2, payload["file_size_bytes"], 1e-9)
}

func TestVectorizationDropNeverFailsRequest(t *testing.T) {
	models := &fakeModels{classification: mealClassification}
	p, store, engine := newPipeline(t, models)
	engine.full = true

	_, id, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "lunch"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.Meals(), 1)
	assert.Empty(t, engine.tasks)
}

func TestVectorizationDropSpillsToBacklog(t *testing.T) {
	backlog := workerinmem.NewBacklog()
	models := &fakeModels{classification: mealClassification}
	p, store, engine := newPipeline(t, models, func(o *entry.Options) { o.Backlog = backlog })
	engine.full = true

	_, id, err := p.Process(context.Background(), entry.Input{UserID: "u1", Text: "lunch"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.Meals(), 1)
	assert.Empty(t, engine.tasks)

	spilled, err := backlog.Pop(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, spilled, 1)
	assert.Equal(t, worker.TaskVectorizeEntry, spilled[0].Kind)
}
