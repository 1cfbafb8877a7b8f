// Package rpcgate implements the process-wide, per-endpoint rate limiter
// and retry primitive spec §4.4 calls "the gate": at most one in-flight
// linear call per endpoint (when minDelayBetweenCalls is set), a minimum
// delay between successive calls, exponential-backoff retry classified by
// internal/rpcadapter's error taxonomy, and a circuit breaker borrowed from
// the teacher's pkg/rpc.HTTPClient.
package rpcgate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
)

// ErrMaxRetryTimeExceeded is returned when Call's cumulative retry time
// exceeds maxTotalRetryMs before the work succeeds.
var ErrMaxRetryTimeExceeded = errors.New("rpcgate: max total retry time exceeded")

// Gate serializes access to a single RPC endpoint: linear calls acquire
// exclusively and wait minDelay after the previous release; batch calls are
// serialized at the batch level. Gate is safe for concurrent use.
type Gate struct {
	endpointURL string // secrets stripped by caller before construction
	minDelay    time.Duration

	mu         sync.Mutex // exclusive linear-call slot
	lastRelease time.Time

	breakerMu        sync.Mutex
	consecutiveFails int
	openUntil        time.Time
	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts configures a Gate.
type Opts struct {
	MinDelayBetweenCalls time.Duration // rpcadapter.NoLimit disables throttling
	BreakerThreshold      int
	BreakerCooldown       time.Duration
}

// New builds a Gate for a single endpoint URL.
func New(endpointURL string, opts Opts) *Gate {
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	return &Gate{
		endpointURL:      endpointURL,
		minDelay:         opts.MinDelayBetweenCalls,
		breakerThreshold: opts.BreakerThreshold,
		breakerCooldown:  opts.BreakerCooldown,
	}
}

// CallOpts controls a single Call invocation's retry budget.
type CallOpts struct {
	MaxTotalRetryMs int64
}

// Call runs work under the gate: exclusive access plus the minimum
// inter-call delay, retried with jittered exponential backoff on
// classified-transient errors, aborting on ClassFatal or
// ClassArchiveNodeNeeded, or once cumulative retry time exceeds
// opts.MaxTotalRetryMs (spec §4.4).
func (g *Gate) Call(ctx context.Context, opts CallOpts, work func(ctx context.Context) (any, error)) (any, error) {
	if g.isOpen() {
		return nil, rpcadapter.Classify(rpcadapter.ClassFatal, errors.New("rpcgate: circuit breaker open for "+g.endpointURL))
	}

	start := time.Now()

	for attempt := 1; ; attempt++ {
		g.acquire(ctx)
		result, err := work(ctx)
		g.release()

		if err == nil {
			g.noteSuccess()
			return result, nil
		}

		class := rpcadapter.ClassOf(err)

		switch class {
		case rpcadapter.ClassFatal:
			g.noteFailure()
			return nil, err
		case rpcadapter.ClassArchiveNodeNeeded:
			// Propagated verbatim; not a gate-level failure, the endpoint
			// itself is healthy.
			return nil, err
		}

		g.noteFailure()

		if opts.MaxTotalRetryMs > 0 && time.Since(start).Milliseconds() >= opts.MaxTotalRetryMs {
			return nil, ErrMaxRetryTimeExceeded
		}

		delay := backoffDelay(class, attempt)
		slog.Debug("rpcgate retrying",
			"endpoint", g.endpointURL,
			"attempt", attempt,
			"class", class.String(),
			"delay", delay,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// acquire blocks until it is this caller's turn: exclusive slot, then the
// minimum delay since the previous release.
func (g *Gate) acquire(ctx context.Context) {
	g.mu.Lock()
	if g.minDelay > rpcadapter.NoLimit {
		wait := g.minDelay - time.Since(g.lastRelease)
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
	}
}

func (g *Gate) release() {
	g.lastRelease = time.Now()
	g.mu.Unlock()
}

func (g *Gate) isOpen() bool {
	g.breakerMu.Lock()
	defer g.breakerMu.Unlock()
	if g.openUntil.IsZero() {
		return false
	}
	if time.Now().After(g.openUntil) {
		g.openUntil = time.Time{}
		g.consecutiveFails = 0
		return false
	}
	return true
}

func (g *Gate) noteFailure() {
	g.breakerMu.Lock()
	defer g.breakerMu.Unlock()
	g.consecutiveFails++
	if g.consecutiveFails >= g.breakerThreshold {
		g.openUntil = time.Now().Add(g.breakerCooldown)
	}
}

func (g *Gate) noteSuccess() {
	g.breakerMu.Lock()
	defer g.breakerMu.Unlock()
	g.consecutiveFails = 0
}

// backoffDelay computes the retry delay for a classified error: network
// changes retry almost immediately, everything else backs off
// exponentially with jitter, capped at 30s.
func backoffDelay(class rpcadapter.Class, attempt int) time.Duration {
	if class == rpcadapter.ClassNetworkChanged {
		return 200*time.Millisecond + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
	}

	base := 250 * time.Millisecond
	delay := base << min(attempt-1, 8)
	const cap = 30 * time.Second
	if delay > cap {
		delay = cap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter
}
