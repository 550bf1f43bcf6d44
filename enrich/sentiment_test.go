package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/router"
)

type fakeCompleter struct {
	content string
	err     error
	tasks   []router.TaskConfig
}

func (f *fakeCompleter) Complete(_ context.Context, task router.TaskConfig, _ []*model.Message) (*model.Response, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Content: f.content}, nil
}

func TestAnalyzeNoteUsesModel(t *testing.T) {
	fc := &fakeCompleter{content: `{
		"sentiment": "positive",
		"sentiment_score": 0.8,
		"detected_themes": ["energy"],
		"related_goals": ["muscle_gain"],
		"action_items": ["add a rest day"]
	}`}
	a := NewSentimentAnalyzer(fc)

	s := a.AnalyzeNote(context.Background(), "Felt amazing today, hit a new squat PR")
	assert.Equal(t, SentimentPositive, s.Sentiment)
	assert.InDelta(t, 0.8, s.SentimentScore, 1e-9)
	assert.Equal(t, []string{"energy"}, s.DetectedThemes)

	require.Len(t, fc.tasks, 1)
	assert.Equal(t, router.TaskQuickCategorization, fc.tasks[0].Type)
	assert.True(t, fc.tasks[0].RequiresJSON)
}

func TestAnalyzeNoteClampsScore(t *testing.T) {
	fc := &fakeCompleter{content: `{"sentiment":"negative","sentiment_score":-3}`}
	a := NewSentimentAnalyzer(fc)
	s := a.AnalyzeNote(context.Background(), "rough week")
	assert.Equal(t, SentimentNegative, s.Sentiment)
	assert.InDelta(t, -1, s.SentimentScore, 1e-9)
}

func TestAnalyzeNoteFallsBackOnModelError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("provider down")}
	a := NewSentimentAnalyzer(fc)
	s := a.AnalyzeNote(context.Background(), "Felt strong and motivated, great session")
	assert.Equal(t, SentimentPositive, s.Sentiment)
	assert.Positive(t, s.SentimentScore)
}

func TestAnalyzeNoteFallsBackOnMalformedJSON(t *testing.T) {
	fc := &fakeCompleter{content: "I'd rate this note as pretty positive overall!"}
	a := NewSentimentAnalyzer(fc)
	s := a.AnalyzeNote(context.Background(), "so tired and sore, skipped the gym")
	assert.Equal(t, SentimentNegative, s.Sentiment)
}

func TestAnalyzeNoteFallsBackOnBadLabel(t *testing.T) {
	fc := &fakeCompleter{content: `{"sentiment":"ecstatic","sentiment_score":0.9}`}
	a := NewSentimentAnalyzer(fc)
	s := a.AnalyzeNote(context.Background(), "plain note")
	assert.Equal(t, SentimentNeutral, s.Sentiment)
}

func TestLexiconSentiment(t *testing.T) {
	s := LexiconSentiment("Slept badly and felt exhausted. I need to fix my sleep schedule. Still struggled through a run for my marathon plan.")
	assert.Equal(t, SentimentNegative, s.Sentiment)
	assert.Negative(t, s.SentimentScore)
	assert.Contains(t, s.DetectedThemes, "sleep")
	assert.Contains(t, s.DetectedThemes, "energy")
	assert.Contains(t, s.RelatedGoals, "endurance")
	require.Len(t, s.ActionItems, 1)
	assert.Contains(t, s.ActionItems[0], "need to")

	s = LexiconSentiment("Great session, felt strong and motivated!")
	assert.Equal(t, SentimentPositive, s.Sentiment)

	s = LexiconSentiment("Logged a walk.")
	assert.Equal(t, SentimentNeutral, s.Sentiment)
	assert.Zero(t, s.SentimentScore)
}
