package rpcgate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/stretchr/testify/require"
)

func TestCallRetriesTransientAndEventuallySucceeds(t *testing.T) {
	g := New("https://example.invalid/rpc", Opts{})

	var attempts atomic.Int32
	result, err := g.Call(context.Background(), CallOpts{MaxTotalRetryMs: 5000}, func(ctx context.Context) (any, error) {
		n := attempts.Add(1)
		if n < 3 {
			return nil, rpcadapter.Classify(rpcadapter.ClassTransient, errors.New("boom"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, int32(3), attempts.Load())
}

func TestCallAbortsImmediatelyOnFatal(t *testing.T) {
	g := New("https://example.invalid/rpc", Opts{})

	var attempts atomic.Int32
	_, err := g.Call(context.Background(), CallOpts{MaxTotalRetryMs: 5000}, func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, rpcadapter.Classify(rpcadapter.ClassFatal, errors.New("bad request"))
	})

	require.Error(t, err)
	require.Equal(t, int32(1), attempts.Load())
}

func TestCallPropagatesArchiveNodeNeededWithoutRetry(t *testing.T) {
	g := New("https://example.invalid/rpc", Opts{})

	var attempts atomic.Int32
	_, err := g.Call(context.Background(), CallOpts{MaxTotalRetryMs: 5000}, func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, rpcadapter.Classify(rpcadapter.ClassArchiveNodeNeeded, errors.New("missing trie node"))
	})

	require.Error(t, err)
	require.Equal(t, rpcadapter.ClassArchiveNodeNeeded, rpcadapter.ClassOf(err))
	require.Equal(t, int32(1), attempts.Load())
}

func TestCallAbortsAfterMaxTotalRetryMs(t *testing.T) {
	g := New("https://example.invalid/rpc", Opts{})

	_, err := g.Call(context.Background(), CallOpts{MaxTotalRetryMs: 50}, func(ctx context.Context) (any, error) {
		return nil, rpcadapter.Classify(rpcadapter.ClassTransient, errors.New("still failing"))
	})

	require.ErrorIs(t, err, ErrMaxRetryTimeExceeded)
}

func TestAcquireEnforcesMinDelayBetweenCalls(t *testing.T) {
	g := New("https://example.invalid/rpc", Opts{MinDelayBetweenCalls: 30 * time.Millisecond})

	start := time.Now()
	_, _ = g.Call(context.Background(), CallOpts{}, func(ctx context.Context) (any, error) { return nil, nil })
	_, _ = g.Call(context.Background(), CallOpts{}, func(ctx context.Context) (any, error) { return nil, nil })
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestRegistryReturnsSameGateForSameURL(t *testing.T) {
	reg := NewRegistry()
	a := reg.Get("https://x.invalid", Opts{})
	b := reg.Get("https://x.invalid", Opts{})
	require.Same(t, a, b)
}
