// Package pulse runs background tasks on a Redis-backed Pulse stream so a
// cluster of nodes shares one queue, and uses Pulse pool tickers so scheduled
// work fires on exactly one node per tick.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/pool"
	"goa.design/pulse/streaming"

	"github.com/fitcoach-ai/fitcoach/worker"
)

const (
	defaultStreamName = "fitcoach:tasks"
	defaultSinkName   = "fitcoach-workers"
	defaultPoolName   = "fitcoach-schedules"
	taskEventName     = "task"
)

type (
	// Options configures the engine.
	Options struct {
		// Redis backs the stream, sink, and pool node. Required.
		Redis *redis.Client
		// StreamName overrides the shared task stream name.
		StreamName string
		// SinkName overrides the consumer group name. Nodes sharing a sink
		// split the task load.
		SinkName string
		// PoolName overrides the scheduling pool name.
		PoolName string
		// HighWater is the stream length above which TryEnqueue drops tasks.
		// Defaults to 10000.
		HighWater int64
		// PoolNodeOptions are forwarded to the Pulse pool node.
		PoolNodeOptions []pool.NodeOption
	}

	// Engine implements worker.Engine on Pulse streaming.
	Engine struct {
		rdb        *redis.Client
		streamName string
		sinkName   string
		poolName   string
		highWater  int64
		poolOpts   []pool.NodeOption

		stream *streaming.Stream
		sink   *streaming.Sink
		node   *pool.Node

		mu       sync.Mutex
		handlers map[string]worker.Handler
		tickers  []*pool.Ticker
		cancels  []context.CancelFunc

		wg sync.WaitGroup
	}
)

// New builds an engine from the provided options. The task stream is created
// eagerly so Enqueue works before Start.
func New(opts Options) (*Engine, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	streamName := opts.StreamName
	if streamName == "" {
		streamName = defaultStreamName
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = defaultSinkName
	}
	poolName := opts.PoolName
	if poolName == "" {
		poolName = defaultPoolName
	}
	highWater := opts.HighWater
	if highWater <= 0 {
		highWater = 10000
	}
	stream, err := streaming.NewStream(streamName, opts.Redis)
	if err != nil {
		return nil, fmt.Errorf("create task stream: %w", err)
	}
	return &Engine{
		rdb:        opts.Redis,
		streamName: streamName,
		sinkName:   sinkName,
		poolName:   poolName,
		highWater:  highWater,
		poolOpts:   opts.PoolNodeOptions,
		stream:     stream,
		handlers:   make(map[string]worker.Handler),
	}, nil
}

// Register binds a handler to a task kind.
func (e *Engine) Register(kind string, h worker.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Enqueue publishes the task to the shared stream.
func (e *Engine) Enqueue(ctx context.Context, task worker.Task) error {
	if task.Kind == "" {
		return errors.New("task kind is required")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := e.stream.Add(ctx, taskEventName, payload); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Kind, err)
	}
	return nil
}

// TryEnqueue publishes best-effort: tasks are dropped when the stream backlog
// exceeds the high-water mark or the publish fails.
func (e *Engine) TryEnqueue(ctx context.Context, task worker.Task) bool {
	depth, err := e.rdb.XLen(ctx, e.streamName).Result()
	if err == nil && depth >= e.highWater {
		log.Warn(ctx, log.KV{K: "msg", V: "task stream above high-water mark, dropping task"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "depth", V: depth})
		return false
	}
	if err := e.Enqueue(ctx, task); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "best-effort enqueue failed"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "err", V: err.Error()})
		return false
	}
	return true
}

// Every schedules the task on a distributed ticker: one node per tick
// enqueues it.
func (e *Engine) Every(ctx context.Context, name string, interval time.Duration, task worker.Task) error {
	if e.node == nil {
		return errors.New("engine not started")
	}
	ticker, err := e.node.NewTicker(ctx, name, interval)
	if err != nil {
		return fmt.Errorf("create ticker %q: %w", name, err)
	}
	e.runTicker(ticker, task)
	return nil
}

// DailyAt schedules the task once per UTC day on a minute-resolution
// distributed ticker gated on the target time. The gate accepts late ticks so
// a tick lost around the target minute delays the job instead of skipping
// that day's run.
func (e *Engine) DailyAt(ctx context.Context, name string, hour, minute int, task worker.Task) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("schedule %q: invalid time %02d:%02d", name, hour, minute)
	}
	if e.node == nil {
		return errors.New("engine not started")
	}
	ticker, err := e.node.NewTicker(ctx, name, time.Minute)
	if err != nil {
		return fmt.Errorf("create ticker %q: %w", name, err)
	}
	gated := task
	gate := &dailyGate{hour: hour, minute: minute}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.tickers = append(e.tickers, ticker)
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if gate.due(time.Now().UTC()) {
					e.TryEnqueue(loopCtx, gated)
				}
			}
		}
	}()
	return nil
}

// dailyGrace bounds how late a tick may still trigger the day's run. Beyond
// it the node assumes another node fired the job and stays quiet.
const dailyGrace = time.Hour

// dailyGate fires at most once per UTC day, at or after the target time.
type dailyGate struct {
	hour, minute int
	lastFired    string
}

func (g *dailyGate) due(now time.Time) bool {
	day := now.Format(time.DateOnly)
	if day == g.lastFired {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), g.hour, g.minute, 0, 0, time.UTC)
	if now.Before(target) || now.Sub(target) >= dailyGrace {
		return false
	}
	g.lastFired = day
	return true
}

// Start joins the scheduling pool and begins consuming the task stream.
func (e *Engine) Start(ctx context.Context) error {
	node, err := pool.AddNode(ctx, e.poolName, e.rdb, e.poolOpts...)
	if err != nil {
		return fmt.Errorf("join scheduling pool: %w", err)
	}
	e.node = node

	sink, err := e.stream.NewSink(ctx, e.sinkName)
	if err != nil {
		return fmt.Errorf("create task sink: %w", err)
	}
	e.sink = sink

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		events := sink.Subscribe()
		for {
			select {
			case <-loopCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.consume(loopCtx, ev)
			}
		}
	}()
	return nil
}

// Close stops tickers, the sink, and the pool node.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	for _, t := range e.tickers {
		t.Stop()
	}
	e.cancels = nil
	e.tickers = nil
	e.mu.Unlock()
	e.wg.Wait()
	if e.sink != nil {
		e.sink.Close(ctx)
	}
	if e.node != nil {
		if err := e.node.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runTicker(ticker *pool.Ticker, task worker.Task) {
	loopCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.tickers = append(e.tickers, ticker)
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.TryEnqueue(loopCtx, task)
			}
		}
	}()
}

// consume executes one stream event. Failed retryable tasks are re-published
// with an incremented attempt counter; the event itself is always acked so the
// consumer group never wedges on a poison message.
func (e *Engine) consume(ctx context.Context, ev *streaming.Event) {
	defer func() {
		if err := e.sink.Ack(ctx, ev); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "ack failed"})
		}
	}()
	var task worker.Task
	if err := json.Unmarshal(ev.Payload, &task); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "malformed task payload"})
		return
	}
	e.mu.Lock()
	h, ok := e.handlers[task.Kind]
	e.mu.Unlock()
	if !ok {
		log.Error(ctx, errors.New("no handler registered"), log.KV{K: "kind", V: task.Kind})
		return
	}
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
	// Delayed redelivery: wait out the backoff, then re-publish.
	backoff := worker.RetryBackoff << (task.Attempt - 1)
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}
	if err := e.Enqueue(ctx, task); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "retry enqueue failed"}, log.KV{K: "kind", V: task.Kind})
	}
}
