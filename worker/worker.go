// Package worker defines the background task contract: fire-and-forget tasks
// emitted by the request path (vectorization, cache warming) and scheduled
// maintenance (nightly summaries, embedding queue drains, recommendation
// expiry). Engines execute registered handlers; the request path never blocks
// on task completion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Task kinds.
const (
	TaskVectorizeMessage            = "vectorize_message"
	TaskBatchVectorizeMessages      = "batch_vectorize_messages"
	TaskVectorizeEntry              = "vectorize_entry"
	TaskVectorizeImage              = "vectorize_image"
	TaskUpdateConversationAnalytics = "update_conversation_analytics"
	TaskSummarizeConversation       = "summarize_conversation"
	TaskWarmUserCache               = "warm_user_cache"
	TaskCleanupOldEmbeddings        = "cleanup_old_embeddings"
	TaskGenerateSummaries           = "generate_summaries"
	TaskProcessEmbeddings           = "process_embeddings"
	TaskExpireRecommendations       = "expire_recommendations"
)

// Execution limits shared by all engines.
const (
	// TaskTimeout bounds one handler invocation.
	TaskTimeout = 300 * time.Second
	// MaxAttempts is the total number of tries for retryable tasks.
	MaxAttempts = 3
	// RetryBackoff is the base delay between attempts; it doubles per attempt.
	RetryBackoff = 2 * time.Second
)

type (
	// Task is one unit of background work. Payload is an opaque JSON document
	// interpreted by the kind's handler.
	Task struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
		// Attempt counts executions so far; engines manage it.
		Attempt int `json:"attempt,omitempty"`
	}

	// Handler executes one task. A non-nil error triggers a retry unless the
	// kind is best-effort.
	Handler func(ctx context.Context, task Task) error

	// Engine runs tasks. Implementations must be safe for concurrent use.
	Engine interface {
		// Register binds a handler to a task kind. Must be called before Start.
		Register(kind string, h Handler)

		// Enqueue submits a task, blocking until the engine accepts it.
		Enqueue(ctx context.Context, task Task) error

		// TryEnqueue submits a task best-effort: when the queue is above its
		// high-water mark the task is dropped and false is returned.
		TryEnqueue(ctx context.Context, task Task) bool

		// Every schedules the task at a fixed interval.
		Every(ctx context.Context, name string, interval time.Duration, task Task) error

		// DailyAt schedules the task once per day at the given UTC time.
		DailyAt(ctx context.Context, name string, hour, minute int, task Task) error

		// Start begins consuming tasks.
		Start(ctx context.Context) error

		// Close drains schedules and stops workers.
		Close(ctx context.Context) error
	}

	// Backlog is a durable side-queue for tasks the request path could not
	// hand to the engine (best-effort enqueue above the high-water mark). A
	// scheduled drain re-submits them.
	Backlog interface {
		// Push appends the task to the backlog.
		Push(ctx context.Context, task Task) error

		// Pop removes and returns up to limit tasks, oldest first.
		Pop(ctx context.Context, limit int) ([]Task, error)
	}
)

// NewTask marshals payload into a Task of the given kind.
func NewTask(kind string, payload any) (Task, error) {
	if kind == "" {
		return Task{}, fmt.Errorf("worker: task kind is required")
	}
	if payload == nil {
		return Task{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("worker: marshal %s payload: %w", kind, err)
	}
	return Task{Kind: kind, Payload: raw}, nil
}

// Retryable reports whether a failed task of the given kind should be retried.
// Cache warming is best-effort: a cold cache self-heals on the next request.
func Retryable(kind string) bool {
	return kind != TaskWarmUserCache
}
