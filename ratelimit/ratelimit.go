// Package ratelimit enforces per-user request budgets with a sliding window
// over request timestamps kept in a shared store. The limiter fails open when
// the store is unreachable: product availability outweighs strict cost control
// during infrastructure incidents, and upstream provider limits still cap
// spend.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"goa.design/clue/log"
)

type (
	// Store keeps per-key request timestamps. Probe must atomically evict
	// entries older than now−window, count the survivors, and record now only
	// when the count is below max. It returns the post-eviction count observed
	// before the conditional insert.
	Store interface {
		Probe(ctx context.Context, key string, now time.Time, window time.Duration, max int) (count int, err error)
	}

	// Decision is the outcome of one admission probe.
	Decision struct {
		// Allowed reports whether the request may proceed.
		Allowed bool
		// Remaining is the number of requests left in the current window.
		Remaining int
		// RetryAfter is the suggested wait in seconds when denied, zero when
		// allowed.
		RetryAfter int
	}

	// Policy names an endpoint budget. The key for a given user is
	// "<prefix>:<user_id>".
	Policy struct {
		Prefix string
		Max    int
		Window time.Duration
	}

	// Limiter applies sliding-window admission against a Store.
	Limiter struct {
		store   Store
		now     func() time.Time
		denials metric.Int64Counter
	}

	// Option customizes a Limiter.
	Option func(*Limiter)
)

// Predefined endpoint policies.
var (
	PolicyCoachChat         = Policy{Prefix: "coach_chat", Max: 100, Window: 24 * time.Hour}
	PolicyQuickEntry        = Policy{Prefix: "quick_entry", Max: 200, Window: 24 * time.Hour}
	PolicyProgramGeneration = Policy{Prefix: "program_generation", Max: 5, Window: 30 * 24 * time.Hour}
	PolicyAIAPI             = Policy{Prefix: "ai_api", Max: 500, Window: 24 * time.Hour}
)

// WithClock overrides the limiter's time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a Limiter on top of the given store.
func New(store Store, opts ...Option) *Limiter {
	denials, err := otel.Meter("fitcoach/ratelimit").Int64Counter("ratelimit.denials",
		metric.WithDescription("Denied admission probes per policy prefix"))
	if err != nil {
		denials, _ = noop.NewMeterProvider().Meter("").Int64Counter("ratelimit.denials")
	}
	l := &Limiter{store: store, now: time.Now, denials: denials}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check probes the window for key. When the store fails the limiter allows
// the request, reports the full budget as remaining, and logs a warning.
func (l *Limiter) Check(ctx context.Context, key string, max int, window time.Duration) Decision {
	count, err := l.store.Probe(ctx, key, l.now(), window, max)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "rate limit store unavailable, failing open"},
			log.KV{K: "key", V: key},
			log.KV{K: "err", V: err.Error()})
		return Decision{Allowed: true, Remaining: max}
	}
	if count >= max {
		prefix, _, _ := strings.Cut(key, ":")
		l.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("prefix", prefix)))
		return Decision{Allowed: false, Remaining: 0, RetryAfter: int(window / time.Second)}
	}
	// The admitted request consumes one slot immediately.
	return Decision{Allowed: true, Remaining: max - count - 1}
}

// CheckPolicy probes the policy budget for the given user.
func (l *Limiter) CheckPolicy(ctx context.Context, p Policy, userID string) Decision {
	return l.Check(ctx, p.Prefix+":"+userID, p.Max, p.Window)
}
