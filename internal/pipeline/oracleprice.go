package pipeline

import (
	"context"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/planner"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/prevostc/beefy-bi/internal/storage"
	"github.com/shopspring/decimal"
)

// oraclePriceSampleInterval is the date-axis equivalent of "one block":
// spec §6.2 treats oracle price ranges as dates in milliseconds, but a
// price feed is sampled once a day (the off-chain APIs in this domain are
// daily-close feeds), so that's the unit a historical date range is split
// into query points on.
const oraclePriceSampleInterval = 24 * time.Hour

// NewOraclePricePipeline builds the oracle:price Runner (spec §4.7, §4.8):
// for each date range, sample the price feed once per
// oraclePriceSampleInterval and persist each point as a price_ts row.
func NewOraclePricePipeline(
	facade storage.Facade,
	fetcher *PriceFeedRunner,
	tunables Tunables,
) *Runner[chainmodel.PriceFeed] {
	process := func(ctx context.Context, feed chainmodel.PriceFeed, ranges []rangeset.Range) []RangeOutcome {
		outcomes := make([]RangeOutcome, 0, len(ranges))
		for _, r := range ranges {
			ok := true
			var points []chainmodel.PricePoint
			for ts := r.From; ts <= r.To; ts += oraclePriceSampleInterval.Milliseconds() {
				price, err := fetcher.Fetch(ctx, feed, ts)
				if err != nil {
					ok = false
					continue
				}
				points = append(points, chainmodel.PricePoint{
					Datetime:    ts,
					PriceFeedID: feed.PriceFeedID,
					Price:       price,
					Data:        chainmodel.PricePointData{Source: "oracle:" + feed.FeedKey},
				})
			}
			if len(points) > 0 {
				if err := facade.UpsertPricePoints(ctx, points); err != nil {
					ok = false
				}
			}
			outcomes = append(outcomes, RangeOutcome{Range: r, Success: ok})
		}
		return outcomes
	}

	return &Runner[chainmodel.PriceFeed]{
		ImportKey: func(f chainmodel.PriceFeed) string { return importstate.ImportKeyForOraclePrice(f.PriceFeedID) },
		Grain:     rangeset.Date,
		DefaultState: func(f chainmodel.PriceFeed) importstate.State {
			return importstate.State{
				ImportKey: importstate.ImportKeyForOraclePrice(f.PriceFeedID),
				Type:      importstate.TypeOraclePrice,
				FirstDate: 0,
			}
		},
		PlanRecent: func(f chainmodel.PriceFeed, state importstate.State) (rangeset.Range, bool) {
			head := nowMillis()
			lastImported := highestCovered(rangeset.Date, state.Ranges.Covered)
			return planner.LatestRange(lastImported, head, oraclePriceSampleInterval.Milliseconds(), oraclePriceSampleInterval.Milliseconds(), state.FirstDate)
		},
		PlanHistorical: func(f chainmodel.PriceFeed, state importstate.State) []rangeset.Range {
			head := nowMillis()
			return planner.HistoricalDateRanges(state.Ranges.Covered, state.Ranges.ToRetry, state.FirstDate, head, tunables.MaxQueryRangeMs, tunables.MaxRangesPerTarget)
		},
		Process: process,
	}
}

// nowMillis is the only wall-clock read in internal/pipeline; isolated
// here so tests can stub it.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// PriceFeedRunner wraps loaders.PriceFeedFetcher behind the narrow
// interface NewOraclePricePipeline needs, so pipeline tests can fake it
// without constructing a real HTTP client and gate.
type PriceFeedRunner struct {
	Fetch func(ctx context.Context, feed chainmodel.PriceFeed, timestamp int64) (decimal.Decimal, error)
}

// NewPriceFeedRunner adapts a loaders.PriceFeedFetcher to a PriceFeedRunner.
func NewPriceFeedRunner(fetcher priceFeedFetcher) *PriceFeedRunner {
	return &PriceFeedRunner{Fetch: fetcher.FetchPrice}
}

// priceFeedFetcher is the method loaders.PriceFeedFetcher provides.
type priceFeedFetcher interface {
	FetchPrice(ctx context.Context, feed chainmodel.PriceFeed, timestamp int64) (decimal.Decimal, error)
}
