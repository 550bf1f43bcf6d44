// Package router decides which upstream model serves each AI task. It maps a
// TaskConfig onto a (provider, model) pair using a static routing table,
// applies speed/accuracy overrides, tracks exhausted keys in a process-local
// failure set, and retries exactly once against the configured fallback when a
// key fails terminally.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/model"
)

// TaskType identifies the kind of AI work being requested. The routing table
// is keyed by task type; everything else in TaskConfig tweaks the chosen route.
type TaskType string

const (
	TaskRealTimeChat        TaskType = "real_time_chat"
	TaskQuickCategorization TaskType = "quick_categorization"
	TaskComplexReasoning    TaskType = "complex_reasoning"
	TaskLongContext         TaskType = "long_context"
	TaskStructuredOutput    TaskType = "structured_output"
	TaskVision              TaskType = "vision"
	TaskProgramGeneration   TaskType = "program_generation"
	TaskStreamingFeedback   TaskType = "streaming_feedback"
	TaskVerification        TaskType = "verification"
	TaskAudioTranscription  TaskType = "audio_transcription"
)

// Provider is the symbolic provider class. Concrete clients are bound to the
// two classes at construction time.
type Provider string

const (
	// ProviderFast is the low-latency, low-cost provider class.
	ProviderFast Provider = "fast"
	// ProviderAccurate is the high-quality provider class.
	ProviderAccurate Provider = "accurate"
)

type (
	// TaskConfig describes one AI task for routing purposes.
	TaskConfig struct {
		// Type selects the routing table entry.
		Type TaskType
		// PrioritizeSpeed swaps the primary toward the fast provider.
		PrioritizeSpeed bool
		// PrioritizeAccuracy swaps the primary toward the accurate provider.
		PrioritizeAccuracy bool
		// RequiresJSON asks the provider for a JSON object response.
		RequiresJSON bool
		// RequiresVision marks tasks that carry image content.
		RequiresVision bool
	}

	// ModelRef names one concrete routing target.
	ModelRef struct {
		Provider Provider
		Model    string
	}

	// Route is one routing table entry.
	Route struct {
		Primary     ModelRef
		Fallback    ModelRef
		MaxTokens   int
		Temperature float64
	}

	// Options configures the router.
	Options struct {
		// Fast is the chat client for the fast provider class. Required.
		Fast model.Client
		// Accurate is the chat client for the accurate provider class. Required.
		Accurate model.Client
		// SpeechToText handles audio transcription tasks.
		SpeechToText model.SpeechToText
		// Vision handles image description tasks.
		Vision model.Vision
		// FastModel and AccurateModel are the default model identifiers used to
		// build the routing table. Required.
		FastModel     string
		AccurateModel string
		// FastLongContextModel overrides the fast model for long-context and
		// program-generation fallbacks; empty reuses FastModel.
		FastLongContextModel string
		// Routes overrides routing table entries per task type.
		Routes map[TaskType]Route
	}

	// Router implements task-to-model routing with failure-aware fallback.
	Router struct {
		fast     model.Client
		accurate model.Client
		stt      model.SpeechToText
		vision   model.Vision
		routes   map[TaskType]Route
		sttModel ModelRef

		mu       sync.Mutex
		failed   map[ModelRef]struct{}
		usage    map[ModelRef]uint64
		requests metric.Int64Counter
		failures metric.Int64Counter
	}
)

// terminalKinds are the provider error categories that exhaust a
// (provider, model) key for the remainder of the process lifetime.
var terminalKinds = map[model.ProviderErrorKind]struct{}{
	model.ProviderErrorKindAuth:        {},
	model.ProviderErrorKindQuota:       {},
	model.ProviderErrorKindRateLimited: {},
	model.ProviderErrorKindNotFound:    {},
}

// New builds a Router from the provided options.
func New(opts Options) (*Router, error) {
	if opts.Fast == nil || opts.Accurate == nil {
		return nil, errors.New("router: fast and accurate clients are required")
	}
	if opts.FastModel == "" || opts.AccurateModel == "" {
		return nil, errors.New("router: fast and accurate model identifiers are required")
	}
	fastLong := opts.FastLongContextModel
	if fastLong == "" {
		fastLong = opts.FastModel
	}
	routes := defaultRoutes(opts.FastModel, opts.AccurateModel, fastLong)
	for t, r := range opts.Routes {
		routes[t] = r
	}
	meter := otel.Meter("fitcoach/router")
	requests, err := meter.Int64Counter("router.requests",
		metric.WithDescription("Chat completion requests per provider/model"))
	if err != nil {
		return nil, fmt.Errorf("router: create request counter: %w", err)
	}
	failures, err := meter.Int64Counter("router.terminal_failures",
		metric.WithDescription("Terminal provider failures per provider/model"))
	if err != nil {
		return nil, fmt.Errorf("router: create failure counter: %w", err)
	}
	return &Router{
		fast:     opts.Fast,
		accurate: opts.Accurate,
		stt:      opts.SpeechToText,
		vision:   opts.Vision,
		routes:   routes,
		sttModel: ModelRef{Provider: ProviderFast, Model: "whisper-1"},
		failed:   make(map[ModelRef]struct{}),
		usage:    make(map[ModelRef]uint64),
		requests: requests,
		failures: failures,
	}, nil
}

func defaultRoutes(fastModel, accurateModel, fastLong string) map[TaskType]Route {
	fast := ModelRef{Provider: ProviderFast, Model: fastModel}
	fastLongRef := ModelRef{Provider: ProviderFast, Model: fastLong}
	accurate := ModelRef{Provider: ProviderAccurate, Model: accurateModel}
	return map[TaskType]Route{
		TaskRealTimeChat:        {Primary: fast, Fallback: accurate, MaxTokens: 1024, Temperature: 0.7},
		TaskQuickCategorization: {Primary: fast, Fallback: accurate, MaxTokens: 512, Temperature: 0.1},
		TaskComplexReasoning:    {Primary: accurate, Fallback: fast, MaxTokens: 4096, Temperature: 0.7},
		TaskLongContext:         {Primary: accurate, Fallback: fastLongRef, MaxTokens: 8192, Temperature: 0.5},
		TaskStructuredOutput:    {Primary: fast, Fallback: accurate, MaxTokens: 2048, Temperature: 0.1},
		TaskVision:              {Primary: fast, Fallback: accurate, MaxTokens: 1024, Temperature: 0.3},
		TaskProgramGeneration:   {Primary: accurate, Fallback: fastLongRef, MaxTokens: 8192, Temperature: 0.7},
		TaskStreamingFeedback:   {Primary: fast, Fallback: accurate, MaxTokens: 1024, Temperature: 0.8},
		TaskVerification:        {Primary: accurate, Fallback: fast, MaxTokens: 1024, Temperature: 0},
		TaskAudioTranscription:  {Primary: fast, Fallback: fast, MaxTokens: 0, Temperature: 0},
	}
}

// Complete routes a chat completion task.
func (r *Router) Complete(ctx context.Context, task TaskConfig, msgs []*model.Message) (*model.Response, error) {
	route, err := r.resolve(task)
	if err != nil {
		return nil, err
	}
	req := r.buildRequest(task, route, msgs)
	resp, used, err := invoke(ctx, r, route, req, func(ctx context.Context, c model.Client, req *model.Request) (*model.Response, error) {
		return c.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, log.KV{K: "msg", V: "completion routed"},
		log.KV{K: "task", V: string(task.Type)},
		log.KV{K: "provider", V: string(used.Provider)},
		log.KV{K: "model", V: used.Model})
	return resp, nil
}

// Stream routes a streaming chat completion task.
func (r *Router) Stream(ctx context.Context, task TaskConfig, msgs []*model.Message) (model.Streamer, error) {
	route, err := r.resolve(task)
	if err != nil {
		return nil, err
	}
	req := r.buildRequest(task, route, msgs)
	stream, _, err := invoke(ctx, r, route, req, func(ctx context.Context, c model.Client, req *model.Request) (model.Streamer, error) {
		return c.Stream(ctx, req)
	})
	return stream, err
}

// Transcribe converts audio to text via the speech-to-text capability.
func (r *Router) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if r.stt == nil {
		return "", fault.New(fault.KindUpstreamUnavailable, "no speech-to-text provider configured")
	}
	r.recordUsage(ctx, r.sttModel)
	text, err := r.stt.Transcribe(ctx, audio, format)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "transcription failed")
	}
	return text, nil
}

// Describe produces a textual description of an image via the vision
// capability.
func (r *Router) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	if r.vision == nil {
		return "", fault.New(fault.KindUpstreamUnavailable, "no vision provider configured")
	}
	route := r.routes[TaskVision]
	r.recordUsage(ctx, route.Primary)
	desc, err := r.vision.Describe(ctx, image, prompt)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "vision description failed")
	}
	return desc, nil
}

// MarkFailed adds a (provider, model) key to the failure set. Primarily used
// by tests; production keys enter via terminal provider errors.
func (r *Router) MarkFailed(ref ModelRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[ref] = struct{}{}
}

// Failed reports whether the key is in the failure set.
func (r *Router) Failed(ref ModelRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[ref]
	return ok
}

// ResetFailures clears the failure set, re-admitting all keys.
func (r *Router) ResetFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = make(map[ModelRef]struct{})
}

// UsageSnapshot returns a copy of the per-key request counts.
func (r *Router) UsageSnapshot() map[ModelRef]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[ModelRef]uint64, len(r.usage))
	for k, v := range r.usage {
		snap[k] = v
	}
	return snap
}

// resolve selects the route for a task, applying priority overrides and the
// failure set.
func (r *Router) resolve(task TaskConfig) (Route, error) {
	route, ok := r.routes[task.Type]
	if !ok {
		return Route{}, fault.New(fault.KindInvalidInput, "unknown task type %q", task.Type)
	}
	switch {
	case task.PrioritizeSpeed && route.Primary.Provider != ProviderFast:
		route.Primary, route.Fallback = route.Fallback, route.Primary
	case task.PrioritizeAccuracy && route.Primary.Provider != ProviderAccurate:
		route.Primary, route.Fallback = route.Fallback, route.Primary
	}
	// A primary already marked failed demotes to the fallback up front so the
	// exhausted key is not retried on every call.
	if r.Failed(route.Primary) && !r.Failed(route.Fallback) {
		route.Primary, route.Fallback = route.Fallback, route.Primary
	}
	return route, nil
}

func (r *Router) buildRequest(task TaskConfig, route Route, msgs []*model.Message) *model.Request {
	req := &model.Request{
		Messages:    msgs,
		Temperature: route.Temperature,
		MaxTokens:   route.MaxTokens,
	}
	if task.RequiresJSON {
		req.ResponseFormat = model.ResponseFormatJSON
	}
	return req
}

func invokeOrder(route Route) []ModelRef {
	if route.Fallback == route.Primary {
		return []ModelRef{route.Primary}
	}
	return []ModelRef{route.Primary, route.Fallback}
}

// invoke runs call against the route's primary, and on a terminal provider
// failure records the key and retries exactly once against the fallback.
func invoke[T any](ctx context.Context, r *Router, route Route, req *model.Request, call func(context.Context, model.Client, *model.Request) (T, error)) (T, ModelRef, error) {
	var zero T
	var errs []error
	for i, ref := range invokeOrder(route) {
		client := r.client(ref.Provider)
		attempt := *req
		attempt.Model = ref.Model
		r.recordUsage(ctx, ref)
		out, err := call(ctx, client, &attempt)
		if err == nil {
			return out, ref, nil
		}
		pe, ok := model.AsProviderError(err)
		if !ok {
			return zero, ref, err
		}
		if _, terminal := terminalKinds[pe.Kind()]; !terminal {
			// Non-terminal failures propagate unchanged.
			return zero, ref, err
		}
		r.markTerminal(ctx, ref, pe)
		errs = append(errs, err)
		if i > 0 {
			break
		}
	}
	// A quota exhaustion on either attempt surfaces as such even when the
	// other attempt failed differently.
	kind := fault.KindUpstreamUnavailable
	for _, err := range errs {
		if pe, ok := model.AsProviderError(err); ok && pe.Kind() == model.ProviderErrorKindQuota {
			kind = fault.KindUpstreamQuota
			break
		}
	}
	return zero, ModelRef{}, fault.Wrap(kind, errors.Join(errs...), "all routed providers failed")
}

func (r *Router) client(p Provider) model.Client {
	if p == ProviderAccurate {
		return r.accurate
	}
	return r.fast
}

func (r *Router) recordUsage(ctx context.Context, ref ModelRef) {
	r.mu.Lock()
	r.usage[ref]++
	r.mu.Unlock()
	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(ref.Provider)),
		attribute.String("model", ref.Model)))
}

func (r *Router) markTerminal(ctx context.Context, ref ModelRef, pe *model.ProviderError) {
	r.mu.Lock()
	r.failed[ref] = struct{}{}
	r.mu.Unlock()
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(ref.Provider)),
		attribute.String("model", ref.Model),
		attribute.String("kind", string(pe.Kind()))))
	log.Warn(ctx, log.KV{K: "msg", V: "provider key exhausted"},
		log.KV{K: "provider", V: string(ref.Provider)},
		log.KV{K: "model", V: ref.Model},
		log.KV{K: "kind", V: string(pe.Kind())})
}
