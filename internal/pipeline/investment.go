package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/loaders"
	"github.com/prevostc/beefy-bi/internal/planner"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/storage"
	"github.com/shopspring/decimal"
)

// ChainRPC bundles the per-chain gate and endpoint a pipeline dispatches
// RPC work through (spec §4.4: one gate per endpoint URL).
type ChainRPC struct {
	Gate     *rpcgate.Gate
	Endpoint rpcadapter.Endpoint
}

// Tunables holds the per-chain planner knobs of spec §6.4.
type Tunables struct {
	MaxBlocksPerQuery  map[string]int64
	BlocksIn1Hour      map[string]int64
	MaxQueryRangeMs    int64 // BEEFY_PRICE_DATA_MAX_QUERY_RANGE_MS, oracle prices only
	MaxRangesPerTarget int
}

func highestCovered(grain rangeset.Grain, covered []rangeset.Range) int64 {
	if len(covered) == 0 {
		return -1
	}
	merged := rangeset.Merge(grain, covered)
	return merged[len(merged)-1].To
}

// feedJobs writes jobs to a fresh channel and closes it once sent, the
// synchronous producer half of every pipeline tick's Stream[Job] input.
func feedJobs[T any](jobs []T) <-chan T {
	ch := make(chan T, len(jobs))
	for _, j := range jobs {
		ch <- j
	}
	close(ch)
	return ch
}

// ownerBalanceFetcherFunc is the shape returned by loaders.NewOwnerBalanceFetcher.
type ownerBalanceFetcherFunc func(context.Context, <-chan loaders.OwnerBalanceJob) <-chan loaders.OwnerBalanceResult

// NewInvestmentPipeline builds the product:investment Runner (spec §4.7,
// §4.8): for each historical or recent block range, fetch ERC-20 transfers
// against the product's tracked token, then resolve a balance snapshot
// per (owner, block) touched by those transfers — via balanceOf for a
// standard vault's share token, or by accumulating the signed transfer
// amounts on top of the last known balance for a gov vault, which has no
// share token to query (spec §4.7, chainmodel.Product.IsGovVault).
func NewInvestmentPipeline(
	facade storage.Facade,
	chains map[string]ChainRPC,
	tunables Tunables,
	loaderCfg loaders.Config,
	latestBlocks map[string]*loaders.LatestBlockFetcher,
	blockDatetimes map[string]*loaders.BlockDatetimeFetcher,
) *Runner[chainmodel.Product] {
	transferFetcherFor := func(chain string, errs map[rangeset.Range]error) func(context.Context, <-chan loaders.TransferJob) <-chan loaders.TransferResult {
		rpc := chains[chain]
		return loaders.NewTransferFetcher(rpc.Gate, rpc.Endpoint, loaderCfg, func(job loaders.TransferJob, err error) {
			errs[job.Range] = err
		})
	}

	ownerBalanceFetcherFor := func(chain string, errs map[loaders.OwnerBalanceJob]error) ownerBalanceFetcherFunc {
		rpc := chains[chain]
		return loaders.NewOwnerBalanceFetcher(rpc.Gate, rpc.Endpoint, loaderCfg, func(job loaders.OwnerBalanceJob, err error) {
			errs[job] = err
		})
	}

	process := func(ctx context.Context, product chainmodel.Product, ranges []rangeset.Range) []RangeOutcome {
		rangeErrs := map[rangeset.Range]error{}
		jobs := make([]loaders.TransferJob, len(ranges))
		for i, r := range ranges {
			jobs[i] = loaders.TransferJob{Product: product, Range: r}
		}

		fetch := transferFetcherFor(product.Chain, rangeErrs)
		results := fetch(ctx, feedJobs(jobs))

		outcomes := make([]RangeOutcome, 0, len(ranges))
		seen := map[rangeset.Range]bool{}
		for res := range results {
			r := res.Job.Range
			seen[r] = true
			err := investAndPersist(ctx, facade, ownerBalanceFetcherFor, blockDatetimes[product.Chain], product, res)
			outcomes = append(outcomes, RangeOutcome{Range: r, Success: err == nil})
		}
		for r := range rangeErrs {
			if !seen[r] {
				outcomes = append(outcomes, RangeOutcome{Range: r, Success: false})
			}
		}
		return outcomes
	}

	return &Runner[chainmodel.Product]{
		ImportKey:    func(p chainmodel.Product) string { return importstate.ImportKeyForProductInvestment(p.ProductID) },
		Grain:        rangeset.Numeric,
		DefaultState: investmentDefaultState,
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

func investmentDefaultState(p chainmodel.Product) importstate.State {
	return importstate.State{
		ImportKey:              importstate.ImportKeyForProductInvestment(p.ProductID),
		Type:                   importstate.TypeProductInvestment,
		ProductID:              p.ProductID,
		Chain:                  p.Chain,
		ContractCreatedAtBlock: 0,
		ContractCreationDate:   p.Data.ContractCreatedDate,
	}
}

// investAndPersist resolves and persists one balance snapshot per (owner,
// block) touched by res.Transfers.
func investAndPersist(
	ctx context.Context,
	facade storage.Facade,
	ownerBalanceFetcherFor func(chain string, errs map[loaders.OwnerBalanceJob]error) ownerBalanceFetcherFunc,
	blockDatetime *loaders.BlockDatetimeFetcher,
	product chainmodel.Product,
	res loaders.TransferResult,
) error {
	if len(res.Transfers) == 0 {
		return nil
	}

	sort.Slice(res.Transfers, func(i, j int) bool { return res.Transfers[i].BlockNumber < res.Transfers[j].BlockNumber })

	var investments []chainmodel.Investment
	var err error
	if product.IsGovVault() {
		investments, err = investGovVault(ctx, facade, product, res.Transfers)
	} else {
		investments, err = investStandardVault(ctx, ownerBalanceFetcherFor, product, res.Transfers)
	}
	if err != nil {
		return err
	}

	for i := range investments {
		dt, err := blockDatetime.DatetimeOf(ctx, product.Chain, investments[i].Data.BlockNumber)
		if err != nil {
			return fmt.Errorf("pipeline: block datetime for %d: %w", investments[i].Data.BlockNumber, err)
		}
		investments[i].Datetime = dt
	}

	return facade.UpsertInvestments(ctx, investments)
}

// investGovVault accumulates the running balance per owner on top of the
// last known balance from storage, since a gov vault has no share token
// to query balanceOf against (spec §4.7).
func investGovVault(ctx context.Context, facade storage.Facade, product chainmodel.Product, transfers []chainmodel.Transfer) ([]chainmodel.Investment, error) {
	running := map[string]decimal.Decimal{}
	investments := make([]chainmodel.Investment, 0, len(transfers))

	for _, t := range transfers {
		balance, ok := running[t.OwnerAddress]
		if !ok {
			prior, found, err := facade.LastInvestmentBalance(ctx, product.ProductID, t.OwnerAddress, t.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("pipeline: last balance for %s: %w", t.OwnerAddress, err)
			}
			if found {
				balance = prior
			}
		}
		balance = balance.Add(t.AmountTransferred)
		running[t.OwnerAddress] = balance

		investments = append(investments, chainmodel.Investment{
			ProductID:  product.ProductID,
			InvestorID: t.OwnerAddress,
			Balance:    balance,
			Data:       chainmodel.InvestmentData{BlockNumber: t.BlockNumber, TransactionHash: t.TransactionHash},
		})
	}

	return investments, nil
}

// investStandardVault resolves the actual on-chain balanceOf(owner) at
// each touched block for a vault with a queryable share token.
func investStandardVault(
	ctx context.Context,
	ownerBalanceFetcherFor func(chain string, errs map[loaders.OwnerBalanceJob]error) ownerBalanceFetcherFunc,
	product chainmodel.Product,
	transfers []chainmodel.Transfer,
) ([]chainmodel.Investment, error) {
	errs := map[loaders.OwnerBalanceJob]error{}
	jobs := make([]loaders.OwnerBalanceJob, len(transfers))
	for i, t := range transfers {
		jobs[i] = loaders.OwnerBalanceJob{
			TokenAddress:  product.Data.TokenAddress,
			TokenDecimals: product.Data.TokenDecimals,
			OwnerAddress:  t.OwnerAddress,
			BlockNumber:   t.BlockNumber,
		}
	}

	fetch := ownerBalanceFetcherFor(product.Chain, errs)
	results := fetch(ctx, feedJobs(jobs))

	byJob := map[loaders.OwnerBalanceJob]decimal.Decimal{}
	for r := range results {
		byJob[r.Job] = r.Balance
	}

	investments := make([]chainmodel.Investment, 0, len(transfers))
	for i, t := range transfers {
		balance, ok := byJob[jobs[i]]
		if !ok {
			return nil, fmt.Errorf("pipeline: missing owner balance for %s at block %d", t.OwnerAddress, t.BlockNumber)
		}
		investments = append(investments, chainmodel.Investment{
			ProductID:  product.ProductID,
			InvestorID: t.OwnerAddress,
			Balance:    balance,
			Data:       chainmodel.InvestmentData{BlockNumber: t.BlockNumber, TransactionHash: t.TransactionHash},
		})
	}

	return investments, nil
}
