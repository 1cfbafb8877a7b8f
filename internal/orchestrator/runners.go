package orchestrator

import (
	"context"
	"fmt"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/pipeline"
	"github.com/prevostc/beefy-bi/internal/storage"
)

// pipelineHandle erases pipeline.Runner[T]'s type parameter so a worker
// can dispatch on Kind alone.
type pipelineHandle interface {
	Run(ctx context.Context, chain string, phase Phase, concurrency int) error
}

type runnerHandle[T any] struct {
	runner     *pipeline.Runner[T]
	targetsFor func(ctx context.Context, chain string) ([]T, error)
}

func (h runnerHandle[T]) Run(ctx context.Context, chain string, phase Phase, concurrency int) error {
	targets, err := h.targetsFor(ctx, chain)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	if phase == PhaseRecent {
		return h.runner.RunRecent(ctx, targets, concurrency)
	}
	return h.runner.RunHistorical(ctx, targets, concurrency)
}

// PipelineSet bundles the three pipeline.Runners behind the Kind-keyed
// dispatch a worker needs, plus the target-listing each Kind requires:
// investment and share-rate both scope to products on one chain
// (share-rate additionally filtered to SupportsPPFS products, per
// chainmodel.Product's doc comment on gov vaults/boosts); oracle price
// feeds carry no chain (spec §3.4's PriceFeed is chain-agnostic, since an
// asset price doesn't belong to any one chain), so its tick ignores
// Tick.Chain entirely.
func NewPipelineSet(
	facade storage.Facade,
	investmentRunner *pipeline.Runner[chainmodel.Product],
	shareRateRunner *pipeline.Runner[chainmodel.Product],
	oraclePriceRunner *pipeline.Runner[chainmodel.PriceFeed],
) map[Kind]pipelineHandle {
	productsForChain := func(ctx context.Context, chain string) ([]chainmodel.Product, error) {
		all, err := facade.ListProducts(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: list products: %w", err)
		}
		out := make([]chainmodel.Product, 0, len(all))
		for _, p := range all {
			if p.Chain == chain {
				out = append(out, p)
			}
		}
		return out, nil
	}

	ppfsProductsForChain := func(ctx context.Context, chain string) ([]chainmodel.Product, error) {
		all, err := productsForChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		out := make([]chainmodel.Product, 0, len(all))
		for _, p := range all {
			if p.SupportsPPFS() {
				out = append(out, p)
			}
		}
		return out, nil
	}

	allPriceFeeds := func(ctx context.Context, _ string) ([]chainmodel.PriceFeed, error) {
		feeds, err := facade.ListPriceFeeds(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: list price feeds: %w", err)
		}
		out := make([]chainmodel.PriceFeed, 0, len(feeds))
		for _, f := range feeds {
			if f.Data.Active {
				out = append(out, f)
			}
		}
		return out, nil
	}

	return map[Kind]pipelineHandle{
		KindInvestment:  runnerHandle[chainmodel.Product]{runner: investmentRunner, targetsFor: productsForChain},
		KindShareRate:   runnerHandle[chainmodel.Product]{runner: shareRateRunner, targetsFor: ppfsProductsForChain},
		KindOraclePrice: runnerHandle[chainmodel.PriceFeed]{runner: oraclePriceRunner, targetsFor: allPriceFeeds},
	}
}
