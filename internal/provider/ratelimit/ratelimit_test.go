package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fxstream/internal/provider"
)

type countingProvider struct{ calls atomic.Int32 }

func (c *countingProvider) Name() string { return "counting" }
func (c *countingProvider) Fetch(_ context.Context, base string, _ []string) (provider.Snapshot, error) {
	c.calls.Add(1)
	return provider.Snapshot{Base: base}, nil
}

func TestTokenBucket_BurstThenBlocks(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(0.001, 2)
	require.NoError(t, tb.Wait(t.Context()))
	require.NoError(t, tb.Wait(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenBucketProvider_PassesThrough(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	p := &TokenBucketProvider{P: inner, TB: NewTokenBucket(1000, 1)}
	snap, err := p.Fetch(t.Context(), "PLN", []string{"EUR"})
	require.NoError(t, err)
	require.Equal(t, "PLN", snap.Base)
	require.Equal(t, "counting", p.Name())
	require.EqualValues(t, 1, inner.calls.Load())
}

func TestMinInterval_WaitsBetweenCalls(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	p := &MinInterval{P: inner, Interval: 30 * time.Millisecond}

	start := time.Now()
	_, err := p.Fetch(t.Context(), "PLN", []string{"EUR"})
	require.NoError(t, err)
	_, err = p.Fetch(t.Context(), "PLN", []string{"EUR"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.EqualValues(t, 2, inner.calls.Load())
}

func TestMinInterval_ContextCanceled(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	p := &MinInterval{P: inner, Interval: time.Hour}
	_, err := p.Fetch(t.Context(), "PLN", []string{"EUR"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = p.Fetch(ctx, "PLN", []string{"EUR"})
	require.ErrorIs(t, err, context.Canceled)
	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "counting", ue.Provider)
	require.Zero(t, ue.Status)
	require.EqualValues(t, 1, inner.calls.Load())
}

func TestTokenBucketProvider_WaitTimeoutIsUpstreamError(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	p := &TokenBucketProvider{P: inner, TB: NewTokenBucket(0.001, 1)}
	_, err := p.Fetch(t.Context(), "PLN", []string{"EUR"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Fetch(ctx, "PLN", []string{"EUR"})
	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "counting: rate limit wait: context deadline exceeded", err.Error())
	require.EqualValues(t, 1, inner.calls.Load())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	require.IsType(t, &TokenBucketProvider{}, Wrap(inner, 30, 2, time.Second))
	require.IsType(t, &MinInterval{}, Wrap(inner, 0, 0, time.Second))
	require.Same(t, provider.Provider(inner), Wrap(inner, 0, 0, 0))
}
