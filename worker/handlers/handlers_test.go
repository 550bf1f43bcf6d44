package handlers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/consult"
	consultinmem "github.com/fitcoach-ai/fitcoach/consult/inmem"
	"github.com/fitcoach-ai/fitcoach/entry"
	entryinmem "github.com/fitcoach-ai/fitcoach/entry/inmem"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	objinmem "github.com/fitcoach-ai/fitcoach/objstore/inmem"
	profileinmem "github.com/fitcoach-ai/fitcoach/profile/inmem"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
	"github.com/fitcoach-ai/fitcoach/worker/handlers"
	workerinmem "github.com/fitcoach-ai/fitcoach/worker/inmem"
)

var handlerClock = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type fakeVectorizer struct {
	inputs []memory.VectorizeInput
	texts  []string
	images [][]byte
	stored []memory.ImageStorage
	err    error
}

func (f *fakeVectorizer) VectorizeText(_ context.Context, in memory.VectorizeInput, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, in)
	f.texts = append(f.texts, text)
	return "emb-1", nil
}

func (f *fakeVectorizer) VectorizeImage(_ context.Context, in memory.VectorizeInput, image []byte, storage memory.ImageStorage, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, in)
	f.images = append(f.images, image)
	f.stored = append(f.stored, storage)
	return "emb-1", nil
}

type fakeEmbeddings struct {
	userID string
	cutoff time.Time
	n      int64
}

func (f *fakeEmbeddings) DeleteOlderThan(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	f.userID = userID
	f.cutoff = cutoff
	return f.n, nil
}

type fakeRecommender struct {
	calls int
	err   error
}

func (f *fakeRecommender) ExpireDue(context.Context) (int64, error) {
	f.calls++
	return 3, f.err
}

type fakeModels struct {
	response string
	err      error
	tasks    []router.TaskConfig
}

func (f *fakeModels) Complete(_ context.Context, task router.TaskConfig, _ []*model.Message) (*model.Response, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Content: f.response}, nil
}

type fakeUsers struct {
	ids []string
	err error
}

func (f *fakeUsers) ActiveUserIDs(context.Context) ([]string, error) { return f.ids, f.err }

type fakeEngine struct {
	tasks []worker.Task
	err   error
}

func (f *fakeEngine) Register(string, worker.Handler) {}
func (f *fakeEngine) Enqueue(_ context.Context, task worker.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}
func (f *fakeEngine) TryEnqueue(_ context.Context, task worker.Task) bool {
	f.tasks = append(f.tasks, task)
	return true
}
func (f *fakeEngine) Every(context.Context, string, time.Duration, worker.Task) error { return nil }
func (f *fakeEngine) DailyAt(context.Context, string, int, int, worker.Task) error    { return nil }
func (f *fakeEngine) Start(context.Context) error                                     { return nil }
func (f *fakeEngine) Close(context.Context) error                                     { return nil }

type deps struct {
	vec     *fakeVectorizer
	conv    *consultinmem.Store
	entries *entryinmem.Store
	objects *objinmem.Store
	emb     *fakeEmbeddings
	recs    *fakeRecommender
	models  *fakeModels
	users   *fakeUsers
	backlog *workerinmem.Backlog
	engine  *fakeEngine
}

func newHandlers(t *testing.T, opts ...func(*handlers.Options)) (*handlers.Handlers, *deps) {
	t.Helper()
	d := &deps{
		vec:     &fakeVectorizer{},
		conv:    consultinmem.New(),
		entries: entryinmem.New(),
		objects: objinmem.New(),
		emb:     &fakeEmbeddings{n: 5},
		recs:    &fakeRecommender{},
		models:  &fakeModels{response: "User wants to build endurance for a fall marathon."},
		users:   &fakeUsers{},
		backlog: workerinmem.NewBacklog(),
		engine:  &fakeEngine{},
	}
	o := handlers.Options{
		Vectorizer:      d.vec,
		Conversations:   d.conv,
		Entries:         d.entries,
		Profiles:        profileinmem.New(),
		Objects:         d.objects,
		Embeddings:      d.emb,
		Recommendations: d.recs,
		Models:          d.models,
		Users:           d.users,
		Backlog:         d.backlog,
		Clock:           func() time.Time { return handlerClock },
	}
	for _, opt := range opts {
		opt(&o)
	}
	h, err := handlers.New(o)
	require.NoError(t, err)
	h.Register(d.engine)
	return h, d
}

func mustTask(t *testing.T, kind string, payload any) worker.Task {
	t.Helper()
	task, err := worker.NewTask(kind, payload)
	require.NoError(t, err)
	return task
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := handlers.New(handlers.Options{})
	assert.Error(t, err)
}

func TestVectorizeEntry(t *testing.T) {
	h, d := newHandlers(t)
	task := mustTask(t, worker.TaskVectorizeEntry, map[string]any{
		"user_id":     "u1",
		"source_type": "meal",
		"source_id":   "meal-1",
		"text":        "chicken and rice for lunch",
		"confidence":  0.92,
		"metadata":    map[string]any{"entry_type": "meal"},
	})

	require.NoError(t, h.VectorizeEntry(context.Background(), task))
	require.Len(t, d.vec.inputs, 1)
	assert.Equal(t, "u1", d.vec.inputs[0].UserID)
	assert.Equal(t, memory.SourceMeal, d.vec.inputs[0].SourceType)
	assert.Equal(t, "meal-1", d.vec.inputs[0].SourceID)
	assert.InDelta(t, 0.92, d.vec.inputs[0].Confidence, 1e-9)
	assert.Equal(t, "chicken and rice for lunch", d.vec.texts[0])
}

func TestVectorizeEntryPropagatesFailure(t *testing.T) {
	h, d := newHandlers(t)
	d.vec.err = errors.New("embedder down")
	task := mustTask(t, worker.TaskVectorizeEntry, map[string]any{"user_id": "u1", "text": "x"})
	assert.Error(t, h.VectorizeEntry(context.Background(), task))
}

func TestVectorizeImageDownloadsAndEmbeds(t *testing.T) {
	h, d := newHandlers(t)
	_, err := d.objects.Upload(context.Background(), "entry-media", "u1/entries/a.png", []byte{0xde, 0xad}, "image/png")
	require.NoError(t, err)

	task := mustTask(t, worker.TaskVectorizeImage, map[string]any{
		"user_id":         "u1",
		"source_type":     "meal",
		"source_id":       "meal-1",
		"bucket":          "entry-media",
		"path":            "u1/entries/a.png",
		"storage_url":     "mem://entry-media/u1/entries/a.png",
		"file_size_bytes": 2,
		"mime_type":       "image/png",
		"description":     "grilled chicken",
	})
	require.NoError(t, h.VectorizeImage(context.Background(), task))
	require.Len(t, d.vec.images, 1)
	assert.Equal(t, []byte{0xde, 0xad}, d.vec.images[0])
	assert.Equal(t, "entry-media", d.vec.stored[0].Bucket)
	assert.Equal(t, "u1/entries/a.png", d.vec.stored[0].FileName)
	assert.Equal(t, int64(2), d.vec.stored[0].FileSizeBytes)
	assert.Equal(t, "image/png", d.vec.stored[0].MimeType)
}

func TestVectorizeImageMissingObject(t *testing.T) {
	h, _ := newHandlers(t)
	task := mustTask(t, worker.TaskVectorizeImage, map[string]any{
		"bucket": "entry-media", "path": "u1/entries/missing.png",
	})
	assert.Error(t, h.VectorizeImage(context.Background(), task))
}

func TestVectorizeMessage(t *testing.T) {
	h, d := newHandlers(t)
	task := mustTask(t, worker.TaskVectorizeMessage, map[string]any{
		"user_id": "u1", "session_id": "sess-1", "text": "I run three times a week",
	})
	require.NoError(t, h.VectorizeMessage(context.Background(), task))
	require.Len(t, d.vec.inputs, 1)
	assert.Equal(t, memory.SourceConsultation, d.vec.inputs[0].SourceType)
	assert.Equal(t, "sess-1", d.vec.inputs[0].SourceID)
}

func TestBatchVectorizeMessages(t *testing.T) {
	h, d := newHandlers(t)
	task := mustTask(t, worker.TaskBatchVectorizeMessages, map[string]any{
		"user_id": "u1", "session_id": "sess-1",
		"texts": []string{"first", "second", "third"},
	})
	require.NoError(t, h.BatchVectorizeMessages(context.Background(), task))
	assert.Equal(t, []string{"first", "second", "third"}, d.vec.texts)
}

func seedSession(t *testing.T, store *consultinmem.Store, userTurns int) string {
	t.Helper()
	id, err := store.CreateSession(context.Background(), &consult.Session{
		UserID:         "u1",
		SpecialistType: consult.SpecialistUnifiedCoach,
		Status:         consult.StatusActive,
		CreatedAt:      handlerClock,
		UpdatedAt:      handlerClock,
	})
	require.NoError(t, err)
	for i := range userTurns {
		at := handlerClock.Add(time.Duration(i) * time.Minute)
		_, err := store.AppendMessage(context.Background(), &consult.Message{
			SessionID: id, UserID: "u1", Role: consult.RoleAssistant,
			Content: "What brings you here?", CreatedAt: at,
		})
		require.NoError(t, err)
		_, err = store.AppendMessage(context.Background(), &consult.Message{
			SessionID: id, UserID: "u1", Role: consult.RoleUser,
			Content: "I want to run a marathon this fall. Training four days a week.",
			CreatedAt: at.Add(30 * time.Second),
		})
		require.NoError(t, err)
	}
	return id
}

func TestUpdateConversationAnalytics(t *testing.T) {
	h, d := newHandlers(t)
	id := seedSession(t, d.conv, 2)

	task := mustTask(t, worker.TaskUpdateConversationAnalytics, map[string]any{"session_id": id})
	require.NoError(t, h.UpdateConversationAnalytics(context.Background(), task))

	sess, err := d.conv.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "I want to run a marathon this fall", sess.Title)
	assert.Equal(t, handlerClock.Add(time.Minute+30*time.Second), sess.LastMessageAt)
}

func TestUpdateConversationAnalyticsUnknownSession(t *testing.T) {
	h, _ := newHandlers(t)
	task := mustTask(t, worker.TaskUpdateConversationAnalytics, map[string]any{"session_id": "nope"})
	assert.NoError(t, h.UpdateConversationAnalytics(context.Background(), task))
}

func TestSummarizeConversationSkipsShortSessions(t *testing.T) {
	h, d := newHandlers(t)
	id := seedSession(t, d.conv, 5) // 10 messages, below the threshold

	task := mustTask(t, worker.TaskSummarizeConversation, map[string]any{"session_id": id})
	require.NoError(t, h.SummarizeConversation(context.Background(), task))
	assert.Empty(t, d.models.tasks)

	extractions, err := d.conv.Extractions(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, extractions)
}

func TestSummarizeConversationStoresSummary(t *testing.T) {
	h, d := newHandlers(t)
	id := seedSession(t, d.conv, 12) // 24 messages

	task := mustTask(t, worker.TaskSummarizeConversation, map[string]any{"session_id": id})
	require.NoError(t, h.SummarizeConversation(context.Background(), task))

	require.Len(t, d.models.tasks, 1)
	assert.Equal(t, router.TaskLongContext, d.models.tasks[0].Type)

	extractions, err := d.conv.Extractions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, extractions, 1)
	assert.Equal(t, "conversation_summary", extractions[0].Category)
	assert.Equal(t, "User wants to build endurance for a fall marathon.", extractions[0].Data["summary"])
}

func TestWarmUserCacheNeverFails(t *testing.T) {
	h, _ := newHandlers(t)
	task := mustTask(t, worker.TaskWarmUserCache, map[string]any{"user_id": "unknown"})
	assert.NoError(t, h.WarmUserCache(context.Background(), task))
}

func TestCleanupOldEmbeddings(t *testing.T) {
	h, d := newHandlers(t)
	task := mustTask(t, worker.TaskCleanupOldEmbeddings, map[string]any{"user_id": "u1", "days": 30})
	require.NoError(t, h.CleanupOldEmbeddings(context.Background(), task))
	assert.Equal(t, "u1", d.emb.userID)
	assert.Equal(t, handlerClock.AddDate(0, 0, -30), d.emb.cutoff)
}

func TestCleanupOldEmbeddingsDefaultWindow(t *testing.T) {
	h, d := newHandlers(t)
	require.NoError(t, h.CleanupOldEmbeddings(context.Background(), worker.Task{Kind: worker.TaskCleanupOldEmbeddings}))
	assert.Empty(t, d.emb.userID)
	assert.Equal(t, handlerClock.AddDate(0, 0, -365), d.emb.cutoff)
}

func TestExpireRecommendations(t *testing.T) {
	h, d := newHandlers(t)
	require.NoError(t, h.ExpireRecommendations(context.Background(), worker.Task{Kind: worker.TaskExpireRecommendations}))
	assert.Equal(t, 1, d.recs.calls)
}

func TestGenerateSummariesWithoutUserSource(t *testing.T) {
	h, d := newHandlers(t, func(o *handlers.Options) { o.Users = nil })
	require.NoError(t, h.GenerateSummaries(context.Background(), worker.Task{Kind: worker.TaskGenerateSummaries}))
	assert.Empty(t, d.vec.texts)
}

func TestGenerateSummariesBuildsDigests(t *testing.T) {
	h, d := newHandlers(t)
	d.users.ids = []string{"u1"}
	_, err := d.entries.InsertWorkout(context.Background(), &entry.Workout{
		UserID: "u1", VolumeLoad: 4200,
		StartedAt: handlerClock.AddDate(0, 0, -2), CompletedAt: handlerClock.AddDate(0, 0, -2),
	})
	require.NoError(t, err)
	_, err = d.entries.InsertMeal(context.Background(), &entry.Meal{
		UserID: "u1", Calories: 700, LoggedAt: handlerClock.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	require.NoError(t, h.GenerateSummaries(context.Background(), worker.Task{Kind: worker.TaskGenerateSummaries}))

	// One digest per window.
	require.Len(t, d.vec.texts, 2)
	for _, in := range d.vec.inputs {
		assert.Equal(t, memory.SourceSummary, in.SourceType)
		assert.Equal(t, "u1", in.UserID)
	}
	assert.Contains(t, d.vec.texts[0], "Last 7 days")
	assert.Contains(t, d.vec.texts[0], "1 workouts with 4200 kg total volume")
	assert.Contains(t, d.vec.texts[0], "1 meals logged averaging 100 kcal per day")
	assert.Contains(t, d.vec.texts[1], "Last 30 days")
}

func TestGenerateSummariesSkipsEmptyUsers(t *testing.T) {
	h, d := newHandlers(t)
	d.users.ids = []string{"idle"}
	require.NoError(t, h.GenerateSummaries(context.Background(), worker.Task{Kind: worker.TaskGenerateSummaries}))
	assert.Empty(t, d.vec.texts)
}

func TestProcessEmbeddingsDrainsBacklog(t *testing.T) {
	h, d := newHandlers(t)
	for range 3 {
		require.NoError(t, d.backlog.Push(context.Background(), mustTask(t, worker.TaskVectorizeEntry, map[string]any{"user_id": "u1", "text": "x"})))
	}

	require.NoError(t, h.ProcessEmbeddings(context.Background(), worker.Task{Kind: worker.TaskProcessEmbeddings}))
	assert.Len(t, d.engine.tasks, 3)
	assert.Equal(t, 0, d.backlog.Len())
}

func TestProcessEmbeddingsRequeuesOnEngineFailure(t *testing.T) {
	h, d := newHandlers(t)
	d.engine.err = errors.New("engine closed")
	require.NoError(t, d.backlog.Push(context.Background(), mustTask(t, worker.TaskVectorizeEntry, map[string]any{"user_id": "u1", "text": "x"})))

	assert.Error(t, h.ProcessEmbeddings(context.Background(), worker.Task{Kind: worker.TaskProcessEmbeddings}))
	assert.Equal(t, 1, d.backlog.Len())
}
