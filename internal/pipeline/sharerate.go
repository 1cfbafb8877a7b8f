package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/loaders"
	"github.com/prevostc/beefy-bi/internal/planner"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/prevostc/beefy-bi/internal/storage"
)

// NewShareRatePipeline builds the product:share-rate Runner (spec §4.7,
// §4.8): for each block in a range, call pricePerFullShare() and persist
// the decoded rate as a price_ts row under the product's price feed.
// Boost and gov-vault products never reach the planner for this pipeline
// (orchestrator wiring filters them by chainmodel.Product.SupportsPPFS
// before listing targets) — the PPFS fetcher's GetQuery still panics defensively
// if one slips through.
func NewShareRatePipeline(
	facade storage.Facade,
	chains map[string]ChainRPC,
	tunables Tunables,
	loaderCfg loaders.Config,
	latestBlocks map[string]*loaders.LatestBlockFetcher,
	blockDatetimes map[string]*loaders.BlockDatetimeFetcher,
) *Runner[chainmodel.Product] {
	ppfsFetcherFor := func(chain string, errs map[rangeset.Range]error) func(context.Context, <-chan loaders.PPFSJob) <-chan loaders.PPFSResult {
		rpc := chains[chain]
		return loaders.NewPPFSFetcher(rpc.Gate, rpc.Endpoint, loaderCfg, func(job loaders.PPFSJob, err error) {
			errs[rangeset.Range{From: job.BlockNumber, To: job.BlockNumber}] = err
		})
	}

	process := func(ctx context.Context, product chainmodel.Product, ranges []rangeset.Range) []RangeOutcome {
		rangeErrs := map[rangeset.Range]error{}
		var jobs []loaders.PPFSJob
		for _, r := range ranges {
			for block := r.From; block <= r.To; block++ {
				jobs = append(jobs, loaders.PPFSJob{Product: product, BlockNumber: block})
			}
		}

		fetch := ppfsFetcherFor(product.Chain, rangeErrs)
		results := fetch(ctx, feedJobs(jobs))

		succeededBlocks := map[int64]bool{}
		var points []chainmodel.PricePoint
		for res := range results {
			block := res.Job.BlockNumber
			dt, err := blockDatetimes[product.Chain].DatetimeOf(ctx, product.Chain, block)
			if err != nil {
				rangeErrs[rangeset.Range{From: block, To: block}] = fmt.Errorf("pipeline: block datetime for %d: %w", block, err)
				continue
			}
			points = append(points, chainmodel.PricePoint{
				Datetime:    dt,
				PriceFeedID: product.PriceFeedID,
				BlockNumber: block,
				Price:       res.Rate,
				Data:        chainmodel.PricePointData{Source: "on-chain:ppfs"},
			})
			succeededBlocks[block] = true
		}

		if len(points) > 0 {
			if err := facade.UpsertPricePoints(ctx, points); err != nil {
				for block := range succeededBlocks {
					rangeErrs[rangeset.Range{From: block, To: block}] = err
				}
				succeededBlocks = map[int64]bool{}
			}
		}

		return blockOutcomes(ranges, succeededBlocks, rangeErrs)
	}

	return &Runner[chainmodel.Product]{
		ImportKey: func(p chainmodel.Product) string { return importstate.ImportKeyForProductShareRate(p.PriceFeedID, p.ProductID) },
		Grain:     rangeset.Numeric,
		DefaultState: func(p chainmodel.Product) importstate.State {
			return importstate.State{
				ImportKey:              importstate.ImportKeyForProductShareRate(p.PriceFeedID, p.ProductID),
				Type:                   importstate.TypeProductShareRate,
				ProductID:              p.ProductID,
				PriceFeedID:            p.PriceFeedID,
				Chain:                  p.Chain,
				ContractCreatedAtBlock: 0,
				ContractCreationDate:   p.Data.ContractCreatedDate,
			}
		},
		PlanRecent: func(p chainmodel.Product, state importstate.State) (rangeset.Range, bool) {
			head, err := latestBlocks[p.Chain].LatestBlockNumber(context.Background(), -1)
			if err != nil {
				return rangeset.Range{}, false
			}
			lastImported := highestCovered(rangeset.Numeric, state.Ranges.Covered)
			return planner.LatestRange(lastImported, head, tunables.MaxBlocksPerQuery[p.Chain], tunables.BlocksIn1Hour[p.Chain], state.ContractCreatedAtBlock)
		},
		PlanHistorical: func(p chainmodel.Product, state importstate.State) []rangeset.Range {
			head, err := latestBlocks[p.Chain].LatestBlockNumber(context.Background(), -1)
			if err != nil {
				return nil
			}
			return planner.HistoricalBlockRanges(state.Ranges.Covered, state.Ranges.ToRetry, state.ContractCreatedAtBlock, head, tunables.MaxBlocksPerQuery[p.Chain], tunables.MaxRangesPerTarget)
		},
		Process: process,
	}
}

// blockOutcomes turns a per-block success/error view back into
// per-original-range RangeOutcomes: a range succeeds only if every block
// inside it succeeded.
func blockOutcomes(ranges []rangeset.Range, succeededBlocks map[int64]bool, rangeErrs map[rangeset.Range]error) []RangeOutcome {
	outcomes := make([]RangeOutcome, 0, len(ranges))
	for _, r := range ranges {
		ok := true
		for block := r.From; block <= r.To && ok; block++ {
			if !succeededBlocks[block] {
				ok = false
				if err := rangeErrs[rangeset.Range{From: block, To: block}]; err != nil {
					slog.Debug("pipeline block failed", "block", block, "err", err)
				}
			}
		}
		outcomes = append(outcomes, RangeOutcome{Range: r, Success: ok})
	}
	return outcomes
}
