package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/router"
)

type (
	// Sentiment is the note analysis result. The same shape is produced by the
	// model path and the lexicon fallback.
	Sentiment struct {
		Sentiment      string   `json:"sentiment"`
		SentimentScore float64  `json:"sentiment_score"`
		DetectedThemes []string `json:"detected_themes"`
		RelatedGoals   []string `json:"related_goals"`
		ActionItems    []string `json:"action_items"`
	}

	// Completer is the slice of the model router note analysis needs.
	Completer interface {
		Complete(ctx context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error)
	}

	// SentimentAnalyzer classifies note sentiment via the model router.
	SentimentAnalyzer struct {
		completer Completer
	}
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

const sentimentPrompt = `Analyze this fitness journal note. Respond with JSON only:
{"sentiment": "positive"|"neutral"|"negative",
 "sentiment_score": number in [-1,1],
 "detected_themes": [strings],
 "related_goals": [strings],
 "action_items": [strings]}

Note:
%s`

// NewSentimentAnalyzer builds an analyzer on the given completer.
func NewSentimentAnalyzer(c Completer) *SentimentAnalyzer {
	return &SentimentAnalyzer{completer: c}
}

// AnalyzeNote classifies the note. Model failures fall back to the keyword
// lexicon so callers always get a usable result.
func (a *SentimentAnalyzer) AnalyzeNote(ctx context.Context, content string) Sentiment {
	if a != nil && a.completer != nil {
		if s, err := a.analyzeWithModel(ctx, content); err == nil {
			return s
		} else {
			log.Warn(ctx, log.KV{K: "msg", V: "note sentiment model call failed, using lexicon"},
				log.KV{K: "err", V: err.Error()})
		}
	}
	return LexiconSentiment(content)
}

func (a *SentimentAnalyzer) analyzeWithModel(ctx context.Context, content string) (Sentiment, error) {
	resp, err := a.completer.Complete(ctx, router.TaskConfig{
		Type:         router.TaskQuickCategorization,
		RequiresJSON: true,
	}, []*model.Message{
		model.UserMessage(fmt.Sprintf(sentimentPrompt, content)),
	})
	if err != nil {
		return Sentiment{}, err
	}
	var s Sentiment
	if err := json.Unmarshal([]byte(resp.Content), &s); err != nil {
		return Sentiment{}, fmt.Errorf("decode sentiment response: %w", err)
	}
	switch s.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return Sentiment{}, fmt.Errorf("unexpected sentiment label %q", s.Sentiment)
	}
	if s.SentimentScore > 1 {
		s.SentimentScore = 1
	} else if s.SentimentScore < -1 {
		s.SentimentScore = -1
	}
	return s, nil
}

var (
	positiveWords = []string{
		"great", "good", "strong", "energized", "motivated", "proud",
		"amazing", "better", "improved", "progress", "happy", "crushed",
		"pr", "best", "easy", "fresh",
	}
	negativeWords = []string{
		"tired", "exhausted", "sore", "weak", "pain", "injured", "stressed",
		"bad", "worse", "struggled", "skipped", "frustrated", "sick",
		"hard", "heavy", "unmotivated",
	}
	themeKeywords = map[string][]string{
		"sleep":      {"sleep", "slept", "rest", "insomnia", "nap"},
		"stress":     {"stress", "anxious", "anxiety", "overwhelmed", "pressure"},
		"energy":     {"energy", "energized", "tired", "exhausted", "fatigue"},
		"motivation": {"motivated", "motivation", "unmotivated", "discipline"},
		"recovery":   {"sore", "soreness", "recovery", "injured", "injury", "pain"},
		"nutrition":  {"diet", "eating", "meal", "hungry", "craving", "protein"},
	}
	goalKeywords = map[string][]string{
		"weight_loss":    {"lose weight", "weight loss", "cutting", "fat loss", "leaner"},
		"muscle_gain":    {"build muscle", "muscle", "bulking", "stronger", "strength"},
		"endurance":      {"endurance", "marathon", "race", "running", "cardio", "stamina"},
		"consistency":    {"consistency", "routine", "habit", "streak"},
		"general_health": {"health", "healthy", "wellness", "feel better"},
	}
	actionMarkers = []string{"need to", "should", "going to", "plan to", "will try", "must"}
)

// LexiconSentiment scores a note with the keyword lexicon. It is the fallback
// path when the model is unavailable and is exported so tests can pin its
// behavior directly.
func LexiconSentiment(content string) Sentiment {
	lower := strings.ToLower(content)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var pos, neg int
	for _, w := range words {
		for _, p := range positiveWords {
			if w == p {
				pos++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
			}
		}
	}
	s := Sentiment{
		Sentiment:      SentimentNeutral,
		DetectedThemes: []string{},
		RelatedGoals:   []string{},
		ActionItems:    []string{},
	}
	if pos+neg > 0 {
		s.SentimentScore = float64(pos-neg) / float64(pos+neg)
	}
	if s.SentimentScore > 0.2 {
		s.Sentiment = SentimentPositive
	} else if s.SentimentScore < -0.2 {
		s.Sentiment = SentimentNegative
	}
	for theme, keys := range themeKeywords {
		for _, k := range keys {
			if strings.Contains(lower, k) {
				s.DetectedThemes = append(s.DetectedThemes, theme)
				break
			}
		}
	}
	for goal, keys := range goalKeywords {
		for _, k := range keys {
			if strings.Contains(lower, k) {
				s.RelatedGoals = append(s.RelatedGoals, goal)
				break
			}
		}
	}
	for _, sentence := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		trimmed := strings.TrimSpace(sentence)
		lowerSentence := strings.ToLower(trimmed)
		for _, m := range actionMarkers {
			if strings.Contains(lowerSentence, m) {
				s.ActionItems = append(s.ActionItems, trimmed)
				break
			}
		}
	}
	sort.Strings(s.DetectedThemes)
	sort.Strings(s.RelatedGoals)
	return s
}
