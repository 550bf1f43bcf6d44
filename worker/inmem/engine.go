// Package inmem runs background tasks on in-process goroutines. It is the
// single-node engine; multi-node deployments use the pulse engine so scheduled
// work fires once per cluster instead of once per process.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/worker"
)

type (
	// Options configures the engine.
	Options struct {
		// Workers is the number of consumer goroutines. Defaults to 4.
		Workers int
		// QueueSize is the task buffer capacity. Defaults to 256.
		QueueSize int
		// HighWater is the queue depth above which TryEnqueue drops tasks.
		// Defaults to 80% of QueueSize.
		HighWater int
	}

	// Engine implements worker.Engine with process-local goroutines.
	Engine struct {
		workers   int
		queue     chan worker.Task
		highWater int

		mu       sync.Mutex
		handlers map[string]worker.Handler
		started  bool

		wg     sync.WaitGroup
		cancel context.CancelFunc
	}
)

// New builds an engine from the provided options.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	high := opts.HighWater
	if high <= 0 || high > size {
		high = size * 8 / 10
	}
	return &Engine{
		workers:   workers,
		queue:     make(chan worker.Task, size),
		highWater: high,
		handlers:  make(map[string]worker.Handler),
	}
}

// Register binds a handler to a task kind.
func (e *Engine) Register(kind string, h worker.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Enqueue submits a task, blocking while the queue is full.
func (e *Engine) Enqueue(ctx context.Context, task worker.Task) error {
	if task.Kind == "" {
		return errors.New("task kind is required")
	}
	select {
	case e.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue submits a task unless the queue is above its high-water mark.
// Dropped tasks are logged; producers treat this path as best-effort.
func (e *Engine) TryEnqueue(ctx context.Context, task worker.Task) bool {
	if task.Kind == "" {
		return false
	}
	if len(e.queue) >= e.highWater {
		log.Warn(ctx, log.KV{K: "msg", V: "task queue above high-water mark, dropping task"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "depth", V: len(e.queue)})
		return false
	}
	select {
	case e.queue <- task:
		return true
	default:
		log.Warn(ctx, log.KV{K: "msg", V: "task queue full, dropping task"},
			log.KV{K: "kind", V: task.Kind})
		return false
	}
}

// Every schedules the task at a fixed interval until Close.
func (e *Engine) Every(ctx context.Context, name string, interval time.Duration, task worker.Task) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %q: interval must be positive", name)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.TryEnqueue(ctx, task)
			}
		}
	}()
	return nil
}

// DailyAt schedules the task once per day at the given UTC time until Close.
func (e *Engine) DailyAt(ctx context.Context, name string, hour, minute int, task worker.Task) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("schedule %q: invalid time %02d:%02d", name, hour, minute)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			now := time.Now().UTC()
			next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
			if !next.After(now) {
				next = next.Add(24 * time.Hour)
			}
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				e.TryEnqueue(ctx, task)
			}
		}
	}()
	return nil
}

// Start launches the consumer goroutines.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	for range e.workers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case task := <-e.queue:
					e.run(runCtx, task)
				}
			}
		}()
	}
	return nil
}

// Close stops consumers and waits for in-flight tasks.
func (e *Engine) Close(context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return nil
}

// run executes one task with the shared timeout, retrying with exponential
// backoff for retryable kinds.
func (e *Engine) run(ctx context.Context, task worker.Task) {
	e.mu.Lock()
	h, ok := e.handlers[task.Kind]
	e.mu.Unlock()
	if !ok {
		log.Error(ctx, errors.New("no handler registered"), log.KV{K: "kind", V: task.Kind})
		return
	}
	backoff := worker.RetryBackoff
	for {
		task.Attempt++
		taskCtx, cancel := context.WithTimeout(ctx, worker.TaskTimeout)
		err := h(taskCtx, task)
		cancel()
		if err == nil {
			return
		}
		log.Warn(ctx, log.KV{K: "msg", V: "task failed"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "attempt", V: task.Attempt},
			log.KV{K: "err", V: err.Error()})
		if !worker.Retryable(task.Kind) || task.Attempt >= worker.MaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
