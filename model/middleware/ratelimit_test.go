package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/model"
)

type stubClient struct {
	err   error
	calls int
}

func (c *stubClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &model.Response{Content: "ok"}, nil
}

func (c *stubClient) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	c.calls++
	return nil, c.err
}

func chatRequest() *model.Request {
	return &model.Request{Messages: []*model.Message{
		{Role: model.RoleUser, Content: "log a 5k run"},
	}}
}

func throttled() error {
	return model.NewProviderError("openai", "chat", 429, model.ProviderErrorKindRateLimited, "rate_limit_exceeded", errors.New("slow down"))
}

func TestMiddlewareDelegates(t *testing.T) {
	next := &stubClient{}
	client := NewAdaptiveRateLimiter(60000, 120000).Middleware()(next)

	resp, err := client.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, next.calls)
}

func TestBudgetHalvesOnThrottle(t *testing.T) {
	next := &stubClient{err: throttled()}
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	client := limiter.Middleware()(next)

	_, err := client.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	assert.InDelta(t, 30000, limiter.CurrentTPM(), 1e-9)

	// Repeated throttling floors at 10% of the initial budget.
	for range 10 {
		_, _ = client.Complete(context.Background(), chatRequest())
	}
	assert.InDelta(t, 6000, limiter.CurrentTPM(), 1e-9)
}

func TestBudgetRecoversOnSuccess(t *testing.T) {
	next := &stubClient{err: throttled()}
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	client := limiter.Middleware()(next)

	_, _ = client.Complete(context.Background(), chatRequest())
	require.InDelta(t, 30000, limiter.CurrentTPM(), 1e-9)

	next.err = nil
	_, err := client.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	// Recovery is additive: 5% of the initial budget per success.
	assert.InDelta(t, 33000, limiter.CurrentTPM(), 1e-9)
}

func TestBudgetCapsAtMax(t *testing.T) {
	next := &stubClient{}
	limiter := NewAdaptiveRateLimiter(60000, 63000)
	client := limiter.Middleware()(next)

	for range 5 {
		_, err := client.Complete(context.Background(), chatRequest())
		require.NoError(t, err)
	}
	assert.InDelta(t, 63000, limiter.CurrentTPM(), 1e-9)
}

func TestNonThrottleErrorsLeaveBudgetAlone(t *testing.T) {
	next := &stubClient{err: errors.New("boom")}
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	client := limiter.Middleware()(next)

	_, err := client.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	assert.InDelta(t, 60000, limiter.CurrentTPM(), 1e-9)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 500, estimateTokens(&model.Request{}))

	req := &model.Request{Messages: []*model.Message{
		{Role: model.RoleUser, Content: "aaaaaa"},
	}}
	assert.Equal(t, 502, estimateTokens(req))
}
