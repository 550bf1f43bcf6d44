package consult_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/consult"
	"github.com/fitcoach-ai/fitcoach/consult/inmem"
	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/profile"
	profileinmem "github.com/fitcoach-ai/fitcoach/profile/inmem"
	"github.com/fitcoach-ai/fitcoach/recommend"
	"github.com/fitcoach-ai/fitcoach/router"
)

type fakeModels struct {
	extraction    string
	extractionErr error
	chat          string
	chatErr       error
	tasks         []router.TaskConfig
}

func (f *fakeModels) Complete(_ context.Context, task router.TaskConfig, _ []*model.Message) (*model.Response, error) {
	f.tasks = append(f.tasks, task)
	switch task.Type {
	case router.TaskStructuredOutput:
		if f.extractionErr != nil {
			return nil, f.extractionErr
		}
		return &model.Response{Content: f.extraction}, nil
	case router.TaskRealTimeChat:
		if f.chatErr != nil {
			return nil, f.chatErr
		}
		return &model.Response{Content: f.chat}, nil
	default:
		return nil, errors.New("unexpected task type")
	}
}

func (f *fakeModels) taskTypes() []router.TaskType {
	out := make([]router.TaskType, len(f.tasks))
	for i, task := range f.tasks {
		out[i] = task.Type
	}
	return out
}

type fakeVectorizer struct {
	inputs []memory.VectorizeInput
	texts  []string
	err    error
}

func (f *fakeVectorizer) VectorizeText(_ context.Context, in memory.VectorizeInput, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, in)
	f.texts = append(f.texts, text)
	return "row-1", nil
}

type fakePrograms struct {
	userID     string
	background string
	err        error
}

func (f *fakePrograms) GenerateProgram(_ context.Context, userID, background string) (*recommend.Program, error) {
	f.userID = userID
	f.background = background
	if f.err != nil {
		return nil, f.err
	}
	return &recommend.Program{ID: "prog-1", UserID: userID, Name: "Base block", Status: "active"}, nil
}

var consultClock = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, models *fakeModels, vec *fakeVectorizer, progs *fakePrograms) (*consult.Service, *inmem.Store, *profileinmem.Store) {
	t.Helper()
	store := inmem.New()
	profiles := profileinmem.New()
	var memOpt consult.Vectorizer
	if vec != nil {
		memOpt = vec
	}
	var progOpt consult.ProgramGenerator
	if progs != nil {
		progOpt = progs
	}
	svc, err := consult.New(consult.Options{
		Store:    store,
		Models:   models,
		Profiles: profiles,
		Memory:   memOpt,
		Programs: progOpt,
		Clock:    func() time.Time { return consultClock },
	})
	require.NoError(t, err)
	return svc, store, profiles
}

func TestStartCreatesSession(t *testing.T) {
	svc, store, _ := newService(t, &fakeModels{}, nil, nil)

	res, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, consult.StatusActive, res.Status)
	assert.Equal(t, 0, res.Progress)
	assert.Equal(t, consult.InitialQuestion(consult.SpecialistUnifiedCoach), res.Question)

	msgs := store.Messages(res.SessionID)
	require.Len(t, msgs, 1)
	assert.Equal(t, consult.RoleAssistant, msgs[0].Role)
}

func TestStartResumesActiveSession(t *testing.T) {
	svc, _, _ := newService(t, &fakeModels{}, nil, nil)

	first, err := svc.Start(context.Background(), "u1", consult.SpecialistTrainer)
	require.NoError(t, err)
	second, err := svc.Start(context.Background(), "u1", consult.SpecialistTrainer)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Question, second.Question)
}

func TestStartValidation(t *testing.T) {
	svc, _, _ := newService(t, &fakeModels{}, nil, nil)

	_, err := svc.Start(context.Background(), "", consult.SpecialistUnifiedCoach)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))

	_, err = svc.Start(context.Background(), "u1", "life_coach")
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}

func TestSendExtractsAndAsksNext(t *testing.T) {
	models := &fakeModels{
		extraction: `{"goals": {"primary_goal": "muscle_gain", "training_frequency": 4}}`,
		chat:       "How many days a week can you train?",
	}
	svc, store, _ := newService(t, models, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	res, err := svc.Send(context.Background(), start.SessionID, "I want to build muscle, I can train four days a week")
	require.NoError(t, err)
	assert.Equal(t, consult.StatusActive, res.Status)
	assert.False(t, res.IsComplete)
	assert.Equal(t, "How many days a week can you train?", res.NextQuestion)
	assert.Equal(t, 0, res.Progress) // one user message, still introduction
	require.Contains(t, res.ExtractedData, consult.CategoryGoals)
	assert.Equal(t, "muscle_gain", res.ExtractedData[consult.CategoryGoals]["primary_goal"])

	extractions, err := store.Extractions(context.Background(), start.SessionID)
	require.NoError(t, err)
	require.Len(t, extractions, 1)
	assert.Equal(t, consult.CategoryGoals, extractions[0].Category)
	assert.InDelta(t, 0.85, extractions[0].Confidence, 1e-9)

	// One extraction call, one chat call.
	assert.Equal(t, []router.TaskType{router.TaskStructuredOutput, router.TaskRealTimeChat}, models.taskTypes())

	// Initial question + user turn + next question.
	assert.Len(t, store.Messages(start.SessionID), 3)
}

func TestSendAdvancesStageEveryThirdMessage(t *testing.T) {
	models := &fakeModels{extraction: `{}`, chat: "Noted. What else?"}
	svc, _, _ := newService(t, models, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	var res *consult.SendResult
	for i := 0; i < 3; i++ {
		res, err = svc.Send(context.Background(), start.SessionID, "more detail")
		require.NoError(t, err)
	}
	// Third user message advances introduction -> primary_goals: 1/7.
	assert.Equal(t, 14, res.Progress)

	status, err := svc.Status(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.StageIndex)
	assert.Equal(t, 3, status.TotalMessages)
}

func TestSendValidation(t *testing.T) {
	svc, store, _ := newService(t, &fakeModels{extraction: `{}`, chat: "ok"}, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), start.SessionID, "   ")
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))

	_, err = svc.Send(context.Background(), "missing", "hello")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	sess, err := store.GetSession(context.Background(), start.SessionID)
	require.NoError(t, err)
	sess.Status = consult.StatusCompleted
	require.NoError(t, store.UpdateSession(context.Background(), sess))

	_, err = svc.Send(context.Background(), start.SessionID, "hello")
	assert.True(t, fault.IsKind(err, fault.KindPreconditionFailed))
}

func TestAbandonFreesActiveSlot(t *testing.T) {
	svc, _, _ := newService(t, &fakeModels{}, nil, nil)

	start, err := svc.Start(context.Background(), "u1", consult.SpecialistTrainer)
	require.NoError(t, err)
	require.NoError(t, svc.Abandon(context.Background(), start.SessionID))

	sess, err := svc.Status(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, consult.StatusAbandoned, sess.Status)

	// Abandoning again is a no-op.
	require.NoError(t, svc.Abandon(context.Background(), start.SessionID))

	// The slot with the specialist is free, so a new session starts.
	next, err := svc.Start(context.Background(), "u1", consult.SpecialistTrainer)
	require.NoError(t, err)
	assert.False(t, next.Resumed)
	assert.NotEqual(t, start.SessionID, next.SessionID)
}

func TestAbandonValidation(t *testing.T) {
	svc, store, _ := newService(t, &fakeModels{}, nil, nil)

	err := svc.Abandon(context.Background(), "missing")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)
	sess, err := store.GetSession(context.Background(), start.SessionID)
	require.NoError(t, err)
	sess.Status = consult.StatusCompleted
	require.NoError(t, store.UpdateSession(context.Background(), sess))

	err = svc.Abandon(context.Background(), start.SessionID)
	assert.True(t, fault.IsKind(err, fault.KindPreconditionFailed))
}

func TestSendExtractionFailureDegrades(t *testing.T) {
	models := &fakeModels{extractionErr: errors.New("provider down"), chat: "Could you expand on that?"}
	svc, store, _ := newService(t, models, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistNutritionist)
	require.NoError(t, err)

	res, err := svc.Send(context.Background(), start.SessionID, "I skip breakfast most days")
	require.NoError(t, err)
	assert.Empty(t, res.ExtractedData)
	assert.Equal(t, "Could you expand on that?", res.NextQuestion)

	extractions, err := store.Extractions(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Empty(t, extractions)
}

func TestSendChatFailureUsesCannedQuestion(t *testing.T) {
	models := &fakeModels{extraction: `{}`, chatErr: errors.New("provider down")}
	svc, _, _ := newService(t, models, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	res, err := svc.Send(context.Background(), start.SessionID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Tell me more about your introduction.", res.NextQuestion)
}

func TestSendTerminalStageReturnsWrapUp(t *testing.T) {
	models := &fakeModels{extraction: `{"goals": {"primary_goal": "endurance"}}`}
	svc, store, _ := newService(t, models, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	sess, err := store.GetSession(context.Background(), start.SessionID)
	require.NoError(t, err)
	sess.StageIndex = 6 // wrap_up
	require.NoError(t, store.UpdateSession(context.Background(), sess))

	res, err := svc.Send(context.Background(), start.SessionID, "that covers it all")
	require.NoError(t, err)
	assert.Equal(t, "ready_to_complete", res.Status)
	assert.True(t, res.IsComplete)
	assert.Equal(t, 100, res.Progress)
	assert.NotEmpty(t, res.WrapUpMessage)
	assert.Contains(t, res.ExtractionSummary, consult.CategoryGoals)

	// Extraction still runs at the terminal stage; the chat model does not.
	assert.Equal(t, []router.TaskType{router.TaskStructuredOutput}, models.taskTypes())
}

// seedTerminalSession creates an active session already at wrap-up with the
// given extractions persisted.
func seedTerminalSession(t *testing.T, store *inmem.Store, userID string, extractions []consult.Extraction) string {
	t.Helper()
	id, err := store.CreateSession(context.Background(), &consult.Session{
		UserID:         userID,
		SpecialistType: consult.SpecialistUnifiedCoach,
		Status:         consult.StatusActive,
		StageIndex:     6,
		CreatedAt:      consultClock,
		UpdatedAt:      consultClock,
	})
	require.NoError(t, err)
	for i := range extractions {
		extractions[i].SessionID = id
		extractions[i].UserID = userID
		_, err := store.InsertExtraction(context.Background(), &extractions[i])
		require.NoError(t, err)
	}
	return id
}

func TestCompleteWritesBackProfile(t *testing.T) {
	vec := &fakeVectorizer{}
	svc, store, profiles := newService(t, &fakeModels{}, vec, nil)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryMeasurements, Data: map[string]any{
			"weight_kg": 80.0, "height_cm": 180.0, "age": 30.0, "biological_sex": "male",
		}, Confidence: 0.85, CreatedAt: consultClock},
		{Category: consult.CategoryGoals, Data: map[string]any{
			"primary_goal": "muscle_gain", "training_frequency": 4.0,
		}, Confidence: 0.85, CreatedAt: consultClock},
		{Category: consult.CategoryPreferences, Data: map[string]any{
			"equipment_access": "full_gym",
		}, Confidence: 0.85, CreatedAt: consultClock},
	})

	res, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, consult.StatusCompleted, res.Status)
	assert.Contains(t, res.Summary, consult.CategoryMeasurements)

	prof, err := profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, 80, prof.Measurements.WeightKg, 1e-9)
	assert.Equal(t, 30, prof.Measurements.Age)
	assert.Equal(t, "muscle_gain", prof.Goals.PrimaryGoal)
	assert.Equal(t, 4, prof.Goals.TrainingFrequency)
	assert.Equal(t, "full_gym", prof.Preferences.EquipmentAccess)

	// Complete measurements trigger the nutrition calculator: Mifflin-St Jeor
	// at 80kg/180cm/30y male, moderately active, bulk goal.
	require.NotNil(t, prof.Nutrition)
	assert.InDelta(t, 1780, prof.Nutrition.BMR, 1e-9)
	assert.InDelta(t, 2759, prof.Nutrition.TDEE, 1e-9)
	assert.InDelta(t, 3035, prof.Nutrition.Daily.Calories, 1e-9)
	assert.InDelta(t, 160, prof.Nutrition.Daily.ProteinG, 1e-9)

	// Three categories plus the full summary were vectorized.
	require.Len(t, vec.texts, 4)
	for _, in := range vec.inputs {
		assert.Equal(t, memory.SourceConsultation, in.SourceType)
		assert.Equal(t, id, in.SourceID)
	}

	sess, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, consult.StatusCompleted, sess.Status)
	assert.Equal(t, 100, sess.Progress)
	assert.NotEmpty(t, sess.Summary)
}

func TestCompleteLatestExtractionWins(t *testing.T) {
	svc, store, profiles := newService(t, &fakeModels{}, nil, nil)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "weight_loss"}, CreatedAt: consultClock},
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "endurance"}, CreatedAt: consultClock.Add(time.Minute)},
	})

	res, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, "endurance", res.Summary[consult.CategoryGoals]["primary_goal"])

	prof, err := profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "endurance", prof.Goals.PrimaryGoal)
	// No measurements extracted, so no targets were calculated.
	assert.Nil(t, prof.Nutrition)
}

func TestCompleteIsIdempotent(t *testing.T) {
	vec := &fakeVectorizer{}
	svc, store, _ := newService(t, &fakeModels{}, vec, nil)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "endurance"}, CreatedAt: consultClock},
	})

	first, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)
	vectorized := len(vec.texts)

	second, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Len(t, vec.texts, vectorized, "idempotent completion must not re-vectorize")
}

func TestCompleteWrongStage(t *testing.T) {
	svc, _, _ := newService(t, &fakeModels{extraction: `{}`, chat: "ok"}, nil, nil)
	start, err := svc.Start(context.Background(), "u1", consult.SpecialistUnifiedCoach)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), start.SessionID, false)
	assert.True(t, fault.IsKind(err, fault.KindPreconditionFailed))
}

func TestCompleteUnknownSession(t *testing.T) {
	svc, _, _ := newService(t, &fakeModels{}, nil, nil)
	_, err := svc.Complete(context.Background(), "missing", false)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestCompleteGeneratesProgram(t *testing.T) {
	progs := &fakePrograms{}
	svc, store, _ := newService(t, &fakeModels{}, nil, progs)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "endurance"}, CreatedAt: consultClock},
	})

	res, err := svc.Complete(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, "prog-1", res.ProgramID)
	assert.Equal(t, "u1", progs.userID)
	assert.Contains(t, progs.background, "endurance")
}

func TestCompleteProgramFailureIsNotFatal(t *testing.T) {
	progs := &fakePrograms{err: errors.New("provider down")}
	svc, store, _ := newService(t, &fakeModels{}, nil, progs)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "endurance"}, CreatedAt: consultClock},
	})

	res, err := svc.Complete(context.Background(), id, true)
	require.NoError(t, err)
	assert.Empty(t, res.ProgramID)
	assert.Equal(t, consult.StatusCompleted, res.Status)
}

func TestCompleteVectorizeFailureIsSwallowed(t *testing.T) {
	vec := &fakeVectorizer{err: errors.New("embedding provider down")}
	svc, store, _ := newService(t, &fakeModels{}, vec, nil)
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryGoals, Data: map[string]any{"primary_goal": "endurance"}, CreatedAt: consultClock},
	})

	res, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, consult.StatusCompleted, res.Status)
}

func TestCompletePreservesExistingProfileFields(t *testing.T) {
	svc, store, profiles := newService(t, &fakeModels{}, nil, nil)
	require.NoError(t, profiles.Upsert(context.Background(), &profile.Profile{
		UserID:       "u1",
		Measurements: profile.Measurements{WeightKg: 75, HeightCm: 178},
		Goals:        profile.Goals{PrimaryGoal: "weight_loss", TrainingFrequency: 5},
	}))
	id := seedTerminalSession(t, store, "u1", []consult.Extraction{
		{Category: consult.CategoryMeasurements, Data: map[string]any{"weight_kg": 73.5}, CreatedAt: consultClock},
	})

	_, err := svc.Complete(context.Background(), id, false)
	require.NoError(t, err)

	prof, err := profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, 73.5, prof.Measurements.WeightKg, 1e-9) // updated
	assert.InDelta(t, 178, prof.Measurements.HeightCm, 1e-9)  // preserved
	assert.Equal(t, "weight_loss", prof.Goals.PrimaryGoal)    // preserved
}
