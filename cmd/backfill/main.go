package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/config"
	"github.com/prevostc/beefy-bi/internal/loaders"
	"github.com/prevostc/beefy-bi/internal/pipeline"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/storage/postgres"
	"go.uber.org/zap"
)

// progressReport is logged periodically by runToExhaustion, grounded on
// internal/backfill.Backfiller.reportProgress: rate and ETA computed from
// elapsed time and work done so far. That function projects against a
// gap-scanned total range count; this tool has no such count upfront (each
// iteration can surface more ranges than the last), so the "total" it
// projects against is the iteration budget (-max-iterations) instead of a
// range count.
func progressReport(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, maxIterations int, iteration, ranges *atomic.Int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i := iteration.Load()
			r := ranges.Load()
			elapsed := time.Since(start)
			rangeRate := float64(r) / elapsed.Seconds()
			iterationRate := float64(i) / elapsed.Seconds()

			var eta time.Duration
			if iterationRate > 0 && i < int64(maxIterations) {
				remaining := int64(maxIterations) - i
				eta = time.Duration(float64(remaining)/iterationRate) * time.Second
			}

			logger.Info("backfill progress",
				zap.String("pipeline", name),
				zap.Int64("iteration", i),
				zap.Int("max_iterations", maxIterations),
				zap.String("progress_pct", fmt.Sprintf("%.1f%%", float64(i)/float64(maxIterations)*100)),
				zap.Int64("ranges_processed", r),
				zap.String("rate_ranges_per_sec", fmt.Sprintf("%.1f", rangeRate)),
				zap.Duration("elapsed", elapsed.Round(time.Second)),
				zap.Duration("eta", eta.Round(time.Second)),
			)
		}
	}
}

// cmd/backfill is a one-shot historical catch-up tool: it runs the same
// pipeline.Runners the long-running importer does, but drives
// RunHistorical directly in a loop until an iteration makes no further
// progress, rather than waiting on a cron-scheduled tick. Grounded on the
// teacher's cmd/backfill/main.go: flag-parsed overrides over the base
// config, one pass per chain, a final summary printed to stdout.
func main() {
	chainFlag := flag.String("chain", "", "restrict to a single chain key (default: all configured chains)")
	concurrency := flag.Int("concurrency", 0, "override WORK_CONCURRENCY for this run")
	maxIterations := flag.Int("max-iterations", 200, "safety cap on catch-up loop iterations per pipeline")
	progressInterval := flag.Duration("progress-interval", 10*time.Second, "how often to log catch-up progress")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Stream.WorkConcurrency = *concurrency
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	chains := cfg.Chains
	if *chainFlag != "" {
		cc, ok := cfg.Chains[*chainFlag]
		if !ok {
			logger.Fatal("chain not found in configuration", zap.String("chain", *chainFlag))
		}
		chains = map[string]config.ChainConfig{*chainFlag: cc}
	}

	logger.Info("beefy-bi backfill starting", zap.Int("chains", len(chains)))

	db, err := postgres.NewDB(ctx, logger, cfg.PostgresURL, cfg.PostgresSchema)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	gateRegistry := rpcgate.NewRegistry()

	chainRPC := make(map[string]pipeline.ChainRPC, len(chains))
	maxBlocksPerQuery := make(map[string]int64, len(chains))
	blocksIn1Hour := make(map[string]int64, len(chains))
	latestBlocks := make(map[string]*loaders.LatestBlockFetcher, len(chains))
	blockDatetimes := make(map[string]*loaders.BlockDatetimeFetcher, len(chains))

	for chain, cc := range chains {
		transport := rpcadapter.NewHTTPTransport(cc.RPCURL, 15*time.Second)
		endpoint := rpcadapter.NewEndpoint(cc.RPCURL, chain, rpcadapter.Limitations{}, transport)
		gate := gateRegistry.Get(cc.RPCURL, rpcgate.Opts{})

		chainRPC[chain] = pipeline.ChainRPC{Gate: gate, Endpoint: endpoint}
		maxBlocksPerQuery[chain] = cc.MaxQueryBlocks
		blocksIn1Hour[chain] = cc.BlocksIn1Hour()
		latestBlocks[chain] = loaders.NewLatestBlockFetcher(gate, endpoint, cfg.Stream.MaxTotalRetryMs)
		blockDatetimes[chain] = loaders.NewBlockDatetimeFetcher(gate, endpoint, cfg.Stream.MaxTotalRetryMs)
	}

	tunables := pipeline.Tunables{
		MaxBlocksPerQuery:  maxBlocksPerQuery,
		BlocksIn1Hour:      blocksIn1Hour,
		MaxQueryRangeMs:    cfg.BeefyPriceDataMaxQueryRangeMs,
		MaxRangesPerTarget: cfg.MaxRangesPerProductToGenerate,
	}
	loaderCfg := loaders.Config{
		MaxInputWaitMsDuration: cfg.Stream.MaxInputWaitMs.Milliseconds(),
		MaxInputObjsPerBatch:   cfg.Stream.MaxInputTake,
		MaxTotalRetryMs:        cfg.Stream.MaxTotalRetryMs,
	}

	investmentRunner := pipeline.NewInvestmentPipeline(db, chainRPC, tunables, loaderCfg, latestBlocks, blockDatetimes)
	shareRateRunner := pipeline.NewShareRatePipeline(db, chainRPC, tunables, loaderCfg, latestBlocks, blockDatetimes)

	priceFeedHTTPClient := loaders.NewHTTPPriceFeedClient(cfg.PriceFeedAPIBaseURL, cfg.PriceFeedAPIKey, 15*time.Second)
	priceFeedGate := gateRegistry.Get(cfg.PriceFeedAPIBaseURL, rpcgate.Opts{})
	priceFeedFetcher := loaders.NewPriceFeedFetcher(priceFeedHTTPClient, priceFeedGate, cfg.Stream.MaxTotalRetryMs)
	oraclePriceRunner := pipeline.NewOraclePricePipeline(db, pipeline.NewPriceFeedRunner(priceFeedFetcher), tunables)

	allProducts, err := db.ListProducts(ctx)
	if err != nil {
		logger.Fatal("failed to list products", zap.Error(err))
	}
	allFeeds, err := db.ListPriceFeeds(ctx)
	if err != nil {
		logger.Fatal("failed to list price feeds", zap.Error(err))
	}

	var products, ppfsProducts []chainmodel.Product
	for _, p := range allProducts {
		if _, ok := chains[p.Chain]; !ok {
			continue
		}
		products = append(products, p)
		if p.SupportsPPFS() {
			ppfsProducts = append(ppfsProducts, p)
		}
	}
	var feeds []chainmodel.PriceFeed
	for _, f := range allFeeds {
		if f.Data.Active {
			feeds = append(feeds, f)
		}
	}

	summary := map[string]int64{}

	runToExhaustion := func(name string, iterate func() (int64, error)) {
		var iterationCount, rangesTotal atomic.Int64

		reportCtx, stopReport := context.WithCancel(ctx)
		go progressReport(reportCtx, logger, name, *progressInterval, *maxIterations, &iterationCount, &rangesTotal)
		defer stopReport()

		for i := 0; i < *maxIterations; i++ {
			if ctx.Err() != nil {
				break
			}
			n, err := iterate()
			if err != nil {
				logger.Error("backfill pipeline iteration failed", zap.String("pipeline", name), zap.Error(err))
				break
			}
			rangesTotal.Add(n)
			iterationCount.Store(int64(i + 1))
			if n == 0 {
				break
			}
			logger.Info("backfill pipeline iteration", zap.String("pipeline", name), zap.Int("iteration", i), zap.Int64("ranges", n))
		}
		summary[name] = rangesTotal.Load()
	}

	runToExhaustion("investment", counterIteration(investmentRunner, func() error {
		return investmentRunner.RunHistorical(ctx, products, cfg.Stream.WorkConcurrency)
	}))
	runToExhaustion("share-rate", counterIteration(shareRateRunner, func() error {
		return shareRateRunner.RunHistorical(ctx, ppfsProducts, cfg.Stream.WorkConcurrency)
	}))
	runToExhaustion("oracle-price", counterIteration(oraclePriceRunner, func() error {
		return oraclePriceRunner.RunHistorical(ctx, feeds, cfg.Stream.WorkConcurrency)
	}))

	fmt.Println("\nBackfill Summary:")
	for _, name := range []string{"investment", "share-rate", "oracle-price"} {
		fmt.Printf("  %-14s %d ranges processed\n", name, summary[name])
	}
}

// counterIteration wraps a Runner's OnOutcome hook to count ranges
// processed by one RunHistorical call, so the catch-up loop above knows
// when a pipeline has stopped making progress.
func counterIteration[T any](runner *pipeline.Runner[T], run func() error) func() (int64, error) {
	return func() (int64, error) {
		var count int64
		prev := runner.OnOutcome
		runner.OnOutcome = func(t T, o pipeline.RangeOutcome) {
			atomic.AddInt64(&count, 1)
			if prev != nil {
				prev(t, o)
			}
		}
		defer func() { runner.OnOutcome = prev }()
		err := run()
		return atomic.LoadInt64(&count), err
	}
}
