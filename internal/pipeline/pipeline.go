// Package pipeline implements spec §4.8's historical-recent pipeline
// factory: given a target type (product investment, product share-rate,
// oracle price) and the loaders of internal/loaders, it runs the two
// long-running pipelines spec.md describes — a recent tail and a
// historical gap-fill — each driven by a tick rather than its own timer,
// the way the teacher's internal/backfill.Backfiller is driven by one
// Run call per invocation rather than owning a scheduler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"golang.org/x/sync/errgroup"
)

// RangeOutcome is what a Runner needs back from processing one
// target+range job: which range it covered, and whether it succeeded.
// Range<T>'s success flag is what decides whether it joins coveredRanges
// or toRetry (spec §4.8: "ordering guarantee... decoupled streams").
type RangeOutcome struct {
	ImportKey string
	Range     rangeset.Range
	Success   bool
}

// Runner is the generic shape shared by every concrete pipeline
// (investment, share-rate, oracle price): list targets, ensure their
// import state exists, plan ranges, fan jobs through a loader, and fold
// the outcomes back into the import-state store.
type Runner[TTarget any] struct {
	Store  importstate.Store
	Logger *slog.Logger

	// ImportKey derives the durable state key for a target.
	ImportKey func(TTarget) string
	// Grain is the range axis this target's state is tracked on.
	Grain rangeset.Grain
	// DefaultState builds the state to Upsert on first sight of a target
	// (spec §4.8: "ensure import state exists, creating a default on
	// first sight").
	DefaultState func(TTarget) importstate.State

	// PlanRecent computes the single latest-range query for a target
	// given its current state, or ok=false when there is no work to do
	// (spec §4.5 LatestRange).
	PlanRecent func(TTarget, importstate.State) (rangeset.Range, bool)
	// PlanHistorical computes the prioritized historical ranges for a
	// target given its current state (spec §4.5 HistoricalRanges family).
	PlanHistorical func(TTarget, importstate.State) []rangeset.Range

	// Process runs one target's ranges through its loader and returns one
	// RangeOutcome per range, reporting persistence failures as !Success.
	Process func(ctx context.Context, target TTarget, ranges []rangeset.Range) []RangeOutcome

	// OnOutcome, if set, is called once per RangeOutcome right after
	// Process returns and before the import-state update is persisted
	// (it is called even if that update then fails) — orchestrator metrics hook in
	// here rather than changing what RunRecent/RunHistorical return.
	OnOutcome func(target TTarget, outcome RangeOutcome)
}

func (r *Runner[TTarget]) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ensureState fetches existing state for targets, upserting a default
// record for any never seen before, and returns the per-key map.
func (r *Runner[TTarget]) ensureState(ctx context.Context, targets []TTarget) (map[string]importstate.State, error) {
	keys := make([]string, len(targets))
	byKey := make(map[string]TTarget, len(targets))
	for i, t := range targets {
		k := r.ImportKey(t)
		keys[i] = k
		byKey[k] = t
	}

	existing, err := r.Store.Fetch(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch import state: %w", err)
	}
	if existing == nil {
		existing = make(map[string]importstate.State, len(keys))
	}

	for _, k := range keys {
		if _, ok := existing[k]; ok {
			continue
		}
		state := r.DefaultState(byKey[k])
		if err := r.Store.Upsert(ctx, state); err != nil {
			return nil, fmt.Errorf("pipeline: upsert default state for %s: %w", k, err)
		}
		existing[k] = state
	}
	return existing, nil
}

func (r *Runner[TTarget]) notifyOutcomes(target TTarget, outcomes []RangeOutcome) {
	if r.OnOutcome == nil {
		return
	}
	for _, o := range outcomes {
		r.OnOutcome(target, o)
	}
}

// applyOutcomes folds a target's RangeOutcomes into an importstate.Update
// and persists it (spec §3.2): a successful range is covered and cleared
// from toRetry, a failed range is added to toRetry and left uncovered.
func (r *Runner[TTarget]) applyOutcomes(ctx context.Context, importKey string, outcomes []RangeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	u := importstate.Update{}
	for _, o := range outcomes {
		if o.Success {
			u.Covered = append(u.Covered, o.Range)
			u.Success = append(u.Success, o.Range)
		} else {
			u.Error = append(u.Error, o.Range)
		}
	}

	items := []importstate.UpdateItem{{ImportKey: importKey, Update: u}}
	mergeFn := func(_ []importstate.UpdateItem, current *importstate.State) (importstate.State, error) {
		if current == nil {
			return importstate.State{}, fmt.Errorf("pipeline: %w: update for unknown import key %s", importstate.ErrProgrammerError, importKey)
		}
		next := *current
		next.Ranges = importstate.ApplyUpdate(r.Grain, current.Ranges, u)
		return next, nil
	}

	return importstate.UpdateWithRetry(ctx, r.Store, items, mergeFn, importstate.DefaultRetryConfig(), r.logger())
}

// RunRecent runs one recent-tail tick over targets: for each, compute the
// latest-range query against its current state and process it.
func (r *Runner[TTarget]) RunRecent(ctx context.Context, targets []TTarget, concurrency int) error {
	states, err := r.ensureState(ctx, targets)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, t := range targets {
		t := t
		key := r.ImportKey(t)
		state := states[key]
		g.Go(func() error {
			rng, ok := r.PlanRecent(t, state)
			if !ok {
				return nil
			}
			outcomes := r.Process(gCtx, t, []rangeset.Range{rng})
			r.notifyOutcomes(t, outcomes)
			return r.applyOutcomes(gCtx, key, outcomes)
		})
	}
	return g.Wait()
}

// RunHistorical runs one historical gap-fill tick over targets.
func (r *Runner[TTarget]) RunHistorical(ctx context.Context, targets []TTarget, concurrency int) error {
	states, err := r.ensureState(ctx, targets)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, t := range targets {
		t := t
		key := r.ImportKey(t)
		state := states[key]
		g.Go(func() error {
			ranges := r.PlanHistorical(t, state)
			if len(ranges) == 0 {
				return nil
			}
			outcomes := r.Process(gCtx, t, ranges)
			r.notifyOutcomes(t, outcomes)
			return r.applyOutcomes(gCtx, key, outcomes)
		})
	}
	return g.Wait()
}
