package inmem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/worker"
)

func TestEnqueueRunsHandler(t *testing.T) {
	e := New(Options{Workers: 1, QueueSize: 8})
	done := make(chan worker.Task, 1)
	e.Register("echo", func(_ context.Context, task worker.Task) error {
		done <- task
		return nil
	})
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Close(context.Background()) }()

	task, err := worker.NewTask("echo", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, e.Enqueue(context.Background(), task))

	select {
	case got := <-done:
		assert.Equal(t, "echo", got.Kind)
		assert.JSONEq(t, `{"user_id":"u1"}`, string(got.Payload))
		assert.Equal(t, 1, got.Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	e := New(Options{Workers: 1, QueueSize: 8})
	var calls atomic.Int32
	succeeded := make(chan struct{})
	e.Register(worker.TaskVectorizeEntry, func(context.Context, worker.Task) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(succeeded)
		return nil
	})
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Close(context.Background()) }()

	require.NoError(t, e.Enqueue(context.Background(), worker.Task{Kind: worker.TaskVectorizeEntry}))
	select {
	case <-succeeded:
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(30 * time.Second):
		t.Fatal("task never succeeded")
	}
}

func TestCacheWarmingIsNotRetried(t *testing.T) {
	e := New(Options{Workers: 1, QueueSize: 8})
	var calls atomic.Int32
	ran := make(chan struct{}, worker.MaxAttempts)
	e.Register(worker.TaskWarmUserCache, func(context.Context, worker.Task) error {
		calls.Add(1)
		ran <- struct{}{}
		return errors.New("cache store down")
	})
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Close(context.Background()) }()

	require.NoError(t, e.Enqueue(context.Background(), worker.Task{Kind: worker.TaskWarmUserCache}))
	<-ran
	// Give a would-be retry time to fire.
	time.Sleep(3 * worker.RetryBackoff)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTryEnqueueDropsAboveHighWater(t *testing.T) {
	// Queue of 4 with high-water 2; no consumers running.
	e := New(Options{Workers: 1, QueueSize: 4, HighWater: 2})
	e.Register("noop", func(context.Context, worker.Task) error { return nil })

	ctx := context.Background()
	assert.True(t, e.TryEnqueue(ctx, worker.Task{Kind: "noop"}))
	assert.True(t, e.TryEnqueue(ctx, worker.Task{Kind: "noop"}))
	// Depth now equals high-water: further best-effort submissions drop.
	assert.False(t, e.TryEnqueue(ctx, worker.Task{Kind: "noop"}))
	// Blocking enqueue still accepts while capacity remains.
	assert.NoError(t, e.Enqueue(ctx, worker.Task{Kind: "noop"}))
}

func TestConcurrentWorkers(t *testing.T) {
	e := New(Options{Workers: 4, QueueSize: 64})
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	e.Register("mark", func(_ context.Context, task worker.Task) error {
		mu.Lock()
		seen[string(task.Payload)] = true
		mu.Unlock()
		wg.Done()
		return nil
	})
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Close(context.Background()) }()

	for i := range 20 {
		wg.Add(1)
		task, err := worker.NewTask("mark", i)
		require.NoError(t, err)
		require.NoError(t, e.Enqueue(context.Background(), task))
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tasks not drained")
	}
	assert.Len(t, seen, 20)
}

func TestNewTaskValidation(t *testing.T) {
	_, err := worker.NewTask("", nil)
	assert.Error(t, err)

	task, err := worker.NewTask("kind-only", nil)
	require.NoError(t, err)
	assert.Empty(t, task.Payload)
}
