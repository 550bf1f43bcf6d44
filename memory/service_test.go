package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/memory/inmem"
	"github.com/fitcoach-ai/fitcoach/model"
)

// fakeEmbedder maps known strings to fixed vectors so similarity ordering is
// deterministic.
type fakeEmbedder struct {
	modelID string
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) {
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) ModelID() string { return f.modelID }

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func newService(t *testing.T, store memory.Store, clock func() time.Time) *memory.Service {
	t.Helper()
	svc, err := memory.New(memory.Options{
		Store:         store,
		TextEmbedder:  &fakeEmbedder{modelID: "test-model"},
		ImageEmbedder: &fakeEmbedder{modelID: "test-image-model"},
		Transcriber:   &fakeTranscriber{text: "ran five kilometers"},
		Clock:         clock,
	})
	require.NoError(t, err)
	return svc
}

func TestVectorizeTextStoresRow(t *testing.T) {
	store := inmem.New()
	svc := newService(t, store, nil)

	id, err := svc.VectorizeText(context.Background(), memory.VectorizeInput{
		UserID:     "u1",
		SourceType: memory.SourceMeal,
		SourceID:   "meal-1",
		Confidence: 0.9,
	}, "chicken salad with rice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, store.Len())

	matches, err := store.Search(context.Background(), memory.Query{
		UserID:         "u1",
		Vector:         []float32{1, 0, 0},
		EmbeddingModel: "test-model",
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, memory.DataText, matches[0].Row.DataType)
	assert.Equal(t, "chicken salad with rice", matches[0].Row.ContentText)
	assert.Equal(t, "test-model", matches[0].Row.EmbeddingModel)
}

func TestVectorizeAudioStoresTranscript(t *testing.T) {
	store := inmem.New()
	svc := newService(t, store, nil)

	_, err := svc.VectorizeAudio(context.Background(), memory.VectorizeInput{
		UserID:     "u1",
		SourceType: memory.SourceVoiceNote,
	}, []byte("audio-bytes"), "mp3")
	require.NoError(t, err)

	matches, err := store.Search(context.Background(), memory.Query{
		UserID:         "u1",
		Vector:         []float32{1, 0, 0},
		EmbeddingModel: "test-model",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, memory.DataAudio, matches[0].Row.DataType)
	assert.Equal(t, "ran five kilometers", matches[0].Row.ContentText)
}

func TestVectorizeAudioTranscriberFailure(t *testing.T) {
	svc, err := memory.New(memory.Options{
		Store:        inmem.New(),
		TextEmbedder: &fakeEmbedder{modelID: "test-model"},
		Transcriber:  &fakeTranscriber{err: errors.New("stt down")},
	})
	require.NoError(t, err)

	_, err = svc.VectorizeAudio(context.Background(), memory.VectorizeInput{UserID: "u1"}, []byte("x"), "mp3")
	require.Error(t, err)
	assert.Equal(t, fault.KindUpstreamUnavailable, fault.KindOf(err))
}

func TestSearchRefusesCrossModelComparison(t *testing.T) {
	store := inmem.New()
	_, err := store.Insert(context.Background(), &memory.Row{
		UserID:         "u1",
		DataType:       memory.DataText,
		Vector:         []float32{1, 0, 0},
		EmbeddingModel: "other-model",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	// Same user, different model family: no candidates.
	matches, err := store.Search(context.Background(), memory.Query{
		UserID:         "u1",
		Vector:         []float32{1, 0, 0},
		EmbeddingModel: "test-model",
	})
	require.NoError(t, err)
	assert.Empty(t, matches)

	// A query without a model is rejected outright.
	_, err = store.Search(context.Background(), memory.Query{UserID: "u1", Vector: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, memory.ErrModelRequired)
}

func TestSearchSimilarEntriesBlendsRecency(t *testing.T) {
	store := inmem.New()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, err := memory.New(memory.Options{
		Store: store,
		TextEmbedder: &fakeEmbedder{
			modelID: "test-model",
			vectors: map[string][]float32{
				"query": {1, 0, 0},
			},
		},
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	// Older row is a perfect match; fresh row is slightly off-axis.
	insert := func(vec []float32, age time.Duration, id string) {
		_, err := store.Insert(context.Background(), &memory.Row{
			UserID:         "u1",
			DataType:       memory.DataText,
			SourceType:     memory.SourceMeal,
			SourceID:       id,
			Vector:         vec,
			EmbeddingModel: "test-model",
			CreatedAt:      now.Add(-age),
		})
		require.NoError(t, err)
	}
	insert([]float32{1, 0, 0}, 90*24*time.Hour, "old-exact")
	insert([]float32{0.9, 0.4359, 0}, time.Hour, "fresh-close")

	// Pure similarity: the exact match wins.
	got, err := svc.SearchSimilarEntries(context.Background(), "u1", "query", memory.SourceMeal, 2, 0, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "old-exact", got[0].Row.SourceID)

	// Heavy recency weighting promotes the fresh row: its recency is ~1 while
	// the 90-day-old row has decayed to 0.125.
	got, err = svc.SearchSimilarEntries(context.Background(), "u1", "query", memory.SourceMeal, 2, 0.9, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh-close", got[0].Row.SourceID)
}

func TestSearchSimilarEntriesValidatesRecencyWeight(t *testing.T) {
	svc := newService(t, inmem.New(), nil)
	_, err := svc.SearchSimilarEntries(context.Background(), "u1", "query", "", 5, 1.5, 0)
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, memory.Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, memory.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, memory.Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, memory.Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, memory.Cosine([]float32{0, 0}, []float32{0, 0}))
}

func TestRecencyHalvesEvery30Days(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 1.0, memory.Recency(now, now), 1e-9)
	assert.InDelta(t, 0.5, memory.Recency(now.Add(-30*24*time.Hour), now), 1e-9)
	assert.InDelta(t, 0.25, memory.Recency(now.Add(-60*24*time.Hour), now), 1e-9)
	// Future timestamps clamp to age zero.
	assert.InDelta(t, 1.0, memory.Recency(now.Add(time.Hour), now), 1e-9)
}

var _ model.Embedder = (*fakeEmbedder)(nil)
