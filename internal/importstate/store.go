package importstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ErrProgrammerError is raised for fail-fast invariant violations that
// indicate a bug in the caller rather than a transient condition (spec §7).
var ErrProgrammerError = errors.New("importstate: programmer error")

// ErrConnectionTimeout is returned by a Store implementation when the
// underlying database connection or query times out. UpdateWithRetry
// retries on this error; all other errors are terminal.
var ErrConnectionTimeout = errors.New("importstate: connection timeout")

// MergeFunc combines the current state (nil if the key has never been seen)
// with a batch of updates targeting it, producing the new state to persist.
type MergeFunc func(items []UpdateItem, current *State) (State, error)

// UpdateItem is one caller-supplied update, naming the key it targets.
type UpdateItem struct {
	ImportKey string
	Update    Update
}

// Store is the durable import-state persistence facade (spec §4.2).
type Store interface {
	// Fetch does a batched read, returning a map of key to state; keys with
	// no existing record are omitted.
	Fetch(ctx context.Context, keys []string) (map[string]State, error)

	// Upsert inserts the state if absent, or deep-merges it at the storage
	// layer if present (ranges lists replace wholesale).
	Upsert(ctx context.Context, state State) error

	// Update is the only entry point allowed to evolve ranges: inside a
	// serializable-equivalent transaction, it selects the referenced rows
	// for update (ordered by key to avoid deadlocks), applies mergeFn and
	// writes back the result.
	Update(ctx context.Context, items []UpdateItem, mergeFn MergeFunc) error
}

// RetryConfig configures UpdateWithRetry's exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig matches spec §4.2: up to 10 attempts, jittered
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 10, InitialDelay: 500 * time.Millisecond, MaxDelay: 1 * time.Second}
}

// UpdateWithRetry wraps Store.Update with the retry policy for transient
// connection timeouts mandated by spec §4.2/§5: exponential backoff with
// jitter, up to 10 attempts; after exhaustion, no state change is made and
// the error is returned for the caller to surface via its error emitter.
func UpdateWithRetry(ctx context.Context, store Store, items []UpdateItem, mergeFn MergeFunc, cfg RetryConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = store.Update(ctx, items, mergeFn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrConnectionTimeout) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffWithJitter(cfg, attempt)
		logger.Warn("importstate update timed out, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"retry_in", delay,
			"err", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("importstate update exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func backoffWithJitter(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay << (attempt - 1)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) + 1))
	total := delay/2 + jitter/2
	if total > cfg.MaxDelay {
		total = cfg.MaxDelay
	}
	return total
}

// GroupByKey groups update items by their target import key, preserving
// per-key order (spec §4.2: "a batch of items may target multiple import
// keys; items are grouped by key before applying mergeFn").
func GroupByKey(items []UpdateItem) map[string][]UpdateItem {
	grouped := make(map[string][]UpdateItem)
	for _, it := range items {
		grouped[it.ImportKey] = append(grouped[it.ImportKey], it)
	}
	return grouped
}
