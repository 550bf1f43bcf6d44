// Package handlers binds the background task kinds to the services that do
// the work: vectorization, conversation analytics, cache warming, retention
// sweeps and scheduled maintenance.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/consult"
	"github.com/fitcoach-ai/fitcoach/entry"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/profile"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
)

const (
	// cleanupDefaultDays is the embedding retention window when the task
	// payload does not set one.
	cleanupDefaultDays = 365
	// summarizeMinMessages is the conversation length below which no summary
	// is generated.
	summarizeMinMessages = 20
	// drainBatch is how many backlogged tasks one drain pass re-submits.
	drainBatch = 100
	// digestFetchLimit caps history reads when building user digests.
	digestFetchLimit = 100
	// maxTitleLen bounds derived conversation titles.
	maxTitleLen = 60
)

type (
	// Vectorizer is the slice of the memory service the handlers need.
	Vectorizer interface {
		VectorizeText(ctx context.Context, in memory.VectorizeInput, text string) (string, error)
		VectorizeImage(ctx context.Context, in memory.VectorizeInput, image []byte, storage memory.ImageStorage, description string) (string, error)
	}

	// Objects reads back uploaded media for image vectorization.
	Objects interface {
		Download(ctx context.Context, bucket, path string) ([]byte, error)
	}

	// Embeddings is the retention slice of the memory store.
	Embeddings interface {
		DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	}

	// Recommender expires stale recommendations.
	Recommender interface {
		ExpireDue(ctx context.Context) (int64, error)
	}

	// Models routes the conversation summarization call.
	Models interface {
		Complete(ctx context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error)
	}

	// UserSource enumerates users for fan-out tasks. Optional: without one
	// the nightly digest is a no-op.
	UserSource interface {
		ActiveUserIDs(ctx context.Context) ([]string, error)
	}

	// Options configures the handler set.
	Options struct {
		// Vectorizer embeds text and images. Required.
		Vectorizer Vectorizer
		// Conversations is the consultation store. Required.
		Conversations consult.Store
		// Entries is the typed entry store. Required.
		Entries entry.Store
		// Profiles is the user profile store. Required.
		Profiles profile.Store
		// Objects reads uploaded images. Optional; without it image
		// vectorization tasks are not registered.
		Objects Objects
		// Embeddings enables the retention sweep. Optional.
		Embeddings Embeddings
		// Recommendations enables the expiry sweep. Optional.
		Recommendations Recommender
		// Models enables conversation summarization. Optional.
		Models Models
		// Users enables the nightly digest fan-out. Optional.
		Users UserSource
		// Backlog enables the embedding queue drain. Optional.
		Backlog worker.Backlog
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Handlers owns the task implementations.
	Handlers struct {
		vec     Vectorizer
		conv    consult.Store
		entries entry.Store
		prof    profile.Store
		objects Objects
		emb     Embeddings
		recs    Recommender
		models  Models
		users   UserSource
		backlog worker.Backlog
		engine  worker.Engine
		now     func() time.Time
	}
)

// New builds the handler set from the provided options.
func New(opts Options) (*Handlers, error) {
	if opts.Vectorizer == nil {
		return nil, errors.New("handlers: vectorizer is required")
	}
	if opts.Conversations == nil {
		return nil, errors.New("handlers: conversation store is required")
	}
	if opts.Entries == nil {
		return nil, errors.New("handlers: entry store is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("handlers: profile store is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		vec:     opts.Vectorizer,
		conv:    opts.Conversations,
		entries: opts.Entries,
		prof:    opts.Profiles,
		objects: opts.Objects,
		emb:     opts.Embeddings,
		recs:    opts.Recommendations,
		models:  opts.Models,
		users:   opts.Users,
		backlog: opts.Backlog,
		now:     now,
	}, nil
}

// Register binds every task kind whose dependencies are configured.
func (h *Handlers) Register(e worker.Engine) {
	h.engine = e
	e.Register(worker.TaskVectorizeEntry, h.VectorizeEntry)
	e.Register(worker.TaskVectorizeMessage, h.VectorizeMessage)
	e.Register(worker.TaskBatchVectorizeMessages, h.BatchVectorizeMessages)
	e.Register(worker.TaskUpdateConversationAnalytics, h.UpdateConversationAnalytics)
	e.Register(worker.TaskWarmUserCache, h.WarmUserCache)
	e.Register(worker.TaskGenerateSummaries, h.GenerateSummaries)
	if h.objects != nil {
		e.Register(worker.TaskVectorizeImage, h.VectorizeImage)
	}
	if h.models != nil {
		e.Register(worker.TaskSummarizeConversation, h.SummarizeConversation)
	}
	if h.emb != nil {
		e.Register(worker.TaskCleanupOldEmbeddings, h.CleanupOldEmbeddings)
	}
	if h.recs != nil {
		e.Register(worker.TaskExpireRecommendations, h.ExpireRecommendations)
	}
	if h.backlog != nil {
		e.Register(worker.TaskProcessEmbeddings, h.ProcessEmbeddings)
	}
}

type vectorizeEntryPayload struct {
	UserID     string         `json:"user_id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
}

// VectorizeEntry embeds a persisted quick entry's extracted text.
func (h *Handlers) VectorizeEntry(ctx context.Context, task worker.Task) error {
	var p vectorizeEntryPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	_, err := h.vec.VectorizeText(ctx, memory.VectorizeInput{
		UserID:     p.UserID,
		SourceType: memory.SourceType(p.SourceType),
		SourceID:   p.SourceID,
		Metadata:   p.Metadata,
		Confidence: p.Confidence,
	}, p.Text)
	return err
}

type vectorizeImagePayload struct {
	UserID        string `json:"user_id"`
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
	Bucket        string `json:"bucket"`
	Path          string `json:"path"`
	StorageURL    string `json:"storage_url"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	MimeType      string `json:"mime_type"`
	Description   string `json:"description"`
}

// VectorizeImage re-reads an uploaded image from object storage and embeds it.
func (h *Handlers) VectorizeImage(ctx context.Context, task worker.Task) error {
	var p vectorizeImagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	data, err := h.objects.Download(ctx, p.Bucket, p.Path)
	if err != nil {
		return fmt.Errorf("download %s/%s: %w", p.Bucket, p.Path, err)
	}
	_, err = h.vec.VectorizeImage(ctx, memory.VectorizeInput{
		UserID:     p.UserID,
		SourceType: memory.SourceType(p.SourceType),
		SourceID:   p.SourceID,
	}, data, memory.ImageStorage{
		URL:           p.StorageURL,
		Bucket:        p.Bucket,
		FileName:      p.Path,
		FileSizeBytes: p.FileSizeBytes,
		MimeType:      p.MimeType,
	}, p.Description)
	return err
}

type vectorizeMessagePayload struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Texts     []string `json:"texts,omitempty"`
}

// VectorizeMessage embeds one consultation message.
func (h *Handlers) VectorizeMessage(ctx context.Context, task worker.Task) error {
	var p vectorizeMessagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	_, err := h.vec.VectorizeText(ctx, memory.VectorizeInput{
		UserID:     p.UserID,
		SourceType: memory.SourceConsultation,
		SourceID:   p.SessionID,
	}, p.Text)
	return err
}

// BatchVectorizeMessages embeds a batch of consultation messages. Failures
// past the first embedded message are logged rather than retried so the batch
// is not double-inserted.
func (h *Handlers) BatchVectorizeMessages(ctx context.Context, task worker.Task) error {
	var p vectorizeMessagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	in := memory.VectorizeInput{
		UserID:     p.UserID,
		SourceType: memory.SourceConsultation,
		SourceID:   p.SessionID,
	}
	for i, text := range p.Texts {
		if _, err := h.vec.VectorizeText(ctx, in, text); err != nil {
			if i == 0 {
				return err
			}
			log.Warn(ctx, log.KV{K: "msg", V: "batch vectorization partial failure"},
				log.KV{K: "session_id", V: p.SessionID},
				log.KV{K: "index", V: i},
				log.KV{K: "err", V: err.Error()})
			return nil
		}
	}
	return nil
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
}

// UpdateConversationAnalytics derives the session title from the first user
// message and stamps message counts and recency.
func (h *Handlers) UpdateConversationAnalytics(ctx context.Context, task worker.Task) error {
	var p sessionPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	sess, err := h.conv.GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, consult.ErrNotFound) {
			return nil
		}
		return err
	}
	msgs, err := h.conv.Tail(ctx, p.SessionID, 0)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if m.Role == consult.RoleUser {
			sess.Title = deriveTitle(m.Content)
			break
		}
	}
	// TotalMessages is the dialogue engine's own counter; leave it alone.
	sess.LastMessageAt = msgs[len(msgs)-1].CreatedAt
	sess.UpdatedAt = h.now().UTC()
	return h.conv.UpdateSession(ctx, sess)
}

// SummarizeConversation condenses long sessions into a stored summary row so
// later consultations can recall them without replaying the transcript.
func (h *Handlers) SummarizeConversation(ctx context.Context, task worker.Task) error {
	var p sessionPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	sess, err := h.conv.GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, consult.ErrNotFound) {
			return nil
		}
		return err
	}
	msgs, err := h.conv.Tail(ctx, p.SessionID, 0)
	if err != nil {
		return err
	}
	if len(msgs) <= summarizeMinMessages {
		return nil
	}
	var b strings.Builder
	b.WriteString("Summarize this coaching conversation in under 150 words. Capture the user's goals, constraints and any decisions made.\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	resp, err := h.models.Complete(ctx, router.TaskConfig{
		Type: router.TaskLongContext,
	}, []*model.Message{model.UserMessage(b.String())})
	if err != nil {
		return fmt.Errorf("summarize session %s: %w", p.SessionID, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}
	_, err = h.conv.InsertExtraction(ctx, &consult.Extraction{
		SessionID:  p.SessionID,
		UserID:     sess.UserID,
		Category:   "conversation_summary",
		Data:       map[string]any{"summary": summary, "message_count": len(msgs)},
		Confidence: 0.9,
		CreatedAt:  h.now().UTC(),
	})
	return err
}

type userPayload struct {
	UserID string `json:"user_id"`
}

// WarmUserCache prefetches the hot reads for a user so the first request
// after login hits warm stores. Best-effort by contract.
func (h *Handlers) WarmUserCache(ctx context.Context, task worker.Task) error {
	var p userPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	if _, err := h.prof.Get(ctx, p.UserID); err != nil && !errors.Is(err, profile.ErrNotFound) {
		log.Debug(ctx, log.KV{K: "msg", V: "cache warm profile read failed"},
			log.KV{K: "user_id", V: p.UserID},
			log.KV{K: "err", V: err.Error()})
	}
	now := h.now().UTC()
	if _, err := h.entries.MealsLoggedOn(ctx, p.UserID, now); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "cache warm meal read failed"},
			log.KV{K: "user_id", V: p.UserID},
			log.KV{K: "err", V: err.Error()})
	}
	if _, err := h.entries.RecentWorkouts(ctx, p.UserID, now.AddDate(0, 0, -7), 10); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "cache warm workout read failed"},
			log.KV{K: "user_id", V: p.UserID},
			log.KV{K: "err", V: err.Error()})
	}
	return nil
}

type cleanupPayload struct {
	UserID string `json:"user_id,omitempty"`
	Days   int    `json:"days,omitempty"`
}

// CleanupOldEmbeddings removes embedding rows past the retention window.
func (h *Handlers) CleanupOldEmbeddings(ctx context.Context, task worker.Task) error {
	var p cleanupPayload
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", task.Kind, err)
		}
	}
	days := p.Days
	if days <= 0 {
		days = cleanupDefaultDays
	}
	cutoff := h.now().UTC().AddDate(0, 0, -days)
	n, err := h.emb.DeleteOlderThan(ctx, p.UserID, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "old embeddings deleted"},
			log.KV{K: "count", V: n},
			log.KV{K: "cutoff", V: cutoff.Format(time.RFC3339)})
	}
	return nil
}

// ExpireRecommendations marks yesterday's pending recommendations expired.
func (h *Handlers) ExpireRecommendations(ctx context.Context, _ worker.Task) error {
	_, err := h.recs.ExpireDue(ctx)
	return err
}

// GenerateSummaries builds per-user training and nutrition digests and embeds
// them so retrieval can answer "how has my week been" style questions. A
// no-op without a configured user source.
func (h *Handlers) GenerateSummaries(ctx context.Context, _ worker.Task) error {
	if h.users == nil {
		log.Debug(ctx, log.KV{K: "msg", V: "no user source configured, skipping digests"})
		return nil
	}
	userIDs, err := h.users.ActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	for _, userID := range userIDs {
		for _, days := range []int{7, 30} {
			digest, err := h.buildDigest(ctx, userID, days)
			if err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "digest build failed"},
					log.KV{K: "user_id", V: userID},
					log.KV{K: "window_days", V: days},
					log.KV{K: "err", V: err.Error()})
				continue
			}
			if digest == "" {
				continue
			}
			if _, err := h.vec.VectorizeText(ctx, memory.VectorizeInput{
				UserID:     userID,
				SourceType: memory.SourceSummary,
				Metadata: map[string]any{
					"window_days":  days,
					"generated_at": h.now().UTC().Format(time.RFC3339),
				},
				Confidence: 1.0,
			}, digest); err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "digest vectorization failed"},
					log.KV{K: "user_id", V: userID},
					log.KV{K: "err", V: err.Error()})
			}
		}
	}
	return nil
}

// buildDigest aggregates the user's training and, for short windows,
// nutrition over the past days. Empty when nothing was logged.
func (h *Handlers) buildDigest(ctx context.Context, userID string, days int) (string, error) {
	now := h.now().UTC()
	since := now.AddDate(0, 0, -days)
	workouts, err := h.entries.RecentWorkouts(ctx, userID, since, digestFetchLimit)
	if err != nil {
		return "", err
	}
	activities, err := h.entries.RecentActivities(ctx, userID, "", since, digestFetchLimit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d days: ", days)
	empty := true
	if len(workouts) > 0 {
		var volume float64
		for _, w := range workouts {
			volume += w.VolumeLoad
		}
		fmt.Fprintf(&b, "%d workouts with %.0f kg total volume. ", len(workouts), volume)
		empty = false
	}
	if len(activities) > 0 {
		var meters, calories float64
		for _, a := range activities {
			meters += a.DistanceMeters
			calories += a.Calories
		}
		fmt.Fprintf(&b, "%d activities covering %.1f km (%.0f kcal burned). ", len(activities), meters/1000, calories)
		empty = false
	}
	if days <= 7 {
		var mealCount int
		var calories float64
		for i := range days {
			meals, err := h.entries.MealsLoggedOn(ctx, userID, now.AddDate(0, 0, -i))
			if err != nil {
				return "", err
			}
			mealCount += len(meals)
			for _, m := range meals {
				calories += m.Calories
			}
		}
		if mealCount > 0 {
			fmt.Fprintf(&b, "%d meals logged averaging %.0f kcal per day.", mealCount, calories/float64(days))
			empty = false
		}
	}
	if empty {
		return "", nil
	}
	return strings.TrimSpace(b.String()), nil
}

// ProcessEmbeddings drains the backlog of vectorization tasks the request
// path could not enqueue, re-submitting them to the engine.
func (h *Handlers) ProcessEmbeddings(ctx context.Context, _ worker.Task) error {
	if h.engine == nil {
		return errors.New("engine not registered")
	}
	for {
		tasks, err := h.backlog.Pop(ctx, drainBatch)
		if err != nil {
			return fmt.Errorf("pop backlog: %w", err)
		}
		if len(tasks) == 0 {
			return nil
		}
		for i, t := range tasks {
			if err := h.engine.Enqueue(ctx, t); err != nil {
				// Return the remainder so nothing popped is lost.
				for _, rest := range tasks[i:] {
					if pushErr := h.backlog.Push(ctx, rest); pushErr != nil {
						log.Error(ctx, pushErr, log.KV{K: "msg", V: "backlog requeue failed"},
							log.KV{K: "kind", V: rest.Kind})
					}
				}
				return err
			}
		}
	}
}

// deriveTitle truncates the first user message to a display title.
func deriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?\n"); idx > 0 {
		content = content[:idx]
	}
	if len(content) > maxTitleLen {
		content = content[:maxTitleLen]
	}
	return content
}
