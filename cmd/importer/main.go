package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/config"
	"github.com/prevostc/beefy-bi/internal/loaders"
	"github.com/prevostc/beefy-bi/internal/orchestrator"
	"github.com/prevostc/beefy-bi/internal/pipeline"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newRegistry returns the default registry, so promhttp.Handler() on the
// status server's /metrics route (which scrapes prometheus.DefaultGatherer)
// sees every metric orchestrator.NewMetrics registers.
func newRegistry() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting beefy-bi importer", zap.Int("chains", len(cfg.Chains)))

	db, err := postgres.NewDB(ctx, logger, cfg.PostgresURL, cfg.PostgresSchema)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Orchestrator.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	gateRegistry := rpcgate.NewRegistry()

	chains := make(map[string]pipeline.ChainRPC, len(cfg.Chains))
	maxBlocksPerQuery := make(map[string]int64, len(cfg.Chains))
	blocksIn1Hour := make(map[string]int64, len(cfg.Chains))
	latestBlocks := make(map[string]*loaders.LatestBlockFetcher, len(cfg.Chains))
	blockDatetimes := make(map[string]*loaders.BlockDatetimeFetcher, len(cfg.Chains))

	for chain, cc := range cfg.Chains {
		transport := rpcadapter.NewHTTPTransport(cc.RPCURL, 15*time.Second)
		endpoint := rpcadapter.NewEndpoint(cc.RPCURL, chain, rpcadapter.Limitations{}, transport)
		gate := gateRegistry.Get(cc.RPCURL, rpcgate.Opts{})

		chains[chain] = pipeline.ChainRPC{Gate: gate, Endpoint: endpoint}
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

	investmentRunner := pipeline.NewInvestmentPipeline(db, chains, tunables, loaderCfg, latestBlocks, blockDatetimes)
	shareRateRunner := pipeline.NewShareRatePipeline(db, chains, tunables, loaderCfg, latestBlocks, blockDatetimes)

	priceFeedHTTPClient := loaders.NewHTTPPriceFeedClient(cfg.PriceFeedAPIBaseURL, cfg.PriceFeedAPIKey, 15*time.Second)
	priceFeedGate := gateRegistry.Get(cfg.PriceFeedAPIBaseURL, rpcgate.Opts{})
	priceFeedFetcher := loaders.NewPriceFeedFetcher(priceFeedHTTPClient, priceFeedGate, cfg.Stream.MaxTotalRetryMs)
	oraclePriceRunner := pipeline.NewOraclePricePipeline(db, pipeline.NewPriceFeedRunner(priceFeedFetcher), tunables)

	metrics := orchestrator.NewMetrics(newRegistry())
	investmentRunner.OnOutcome = outcomeRecorder(metrics, "investment", latestBlocks)
	shareRateRunner.OnOutcome = outcomeRecorder(metrics, "share-rate", latestBlocks)
	oraclePriceRunner.OnOutcome = func(_ chainmodel.PriceFeed, o pipeline.RangeOutcome) {
		outcome := "success"
		if !o.Success {
			outcome = "error"
		}
		metrics.RangesOutcome.WithLabelValues("", "oracle-price", outcome).Inc()
		// ImportLag is left unset here: a price feed carries no chain, so
		// there is no per-chain head to compare its covered range against.
	}

	pipelines := orchestrator.NewPipelineSet(db, investmentRunner, shareRateRunner, oraclePriceRunner)

	publisher, err := orchestrator.NewPublisher(redisClient, cfg.Orchestrator.TicksTopic, logger)
	if err != nil {
		logger.Fatal("failed to create tick publisher", zap.Error(err))
	}
	defer publisher.Close()

	var chainSchedules []orchestrator.ChainSchedule
	for chain := range cfg.Chains {
		chainSchedules = append(chainSchedules, orchestrator.ChainSchedule{
			Chain:          chain,
			RecentSpec:     cfg.Orchestrator.RecentCronSpec,
			HistoricalSpec: cfg.Orchestrator.HistoricalCronSpec,
		})
	}

	scheduler, err := orchestrator.NewScheduler(orchestrator.SchedulerConfig{
		Publisher:                 publisher,
		Metrics:                   metrics,
		Chains:                    chainSchedules,
		OraclePriceSpec:           cfg.Orchestrator.OraclePriceCronSpec,
		OraclePriceHistoricalSpec: cfg.Orchestrator.OraclePriceHistoricalCronSpec,
		Logger:                    logger,
	})
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	worker, err := orchestrator.NewWorker(orchestrator.WorkerConfig{
		RedisClient:   redisClient,
		Topic:         cfg.Orchestrator.TicksTopic,
		ConsumerGroup: cfg.Orchestrator.ConsumerGroup,
		Pipelines:     pipelines,
		Metrics:       metrics,
		Concurrency:   cfg.Stream.WorkConcurrency,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to build worker", zap.Error(err))
	}
	defer worker.Close()

	status := orchestrator.NewStatusServer(cfg.Orchestrator.StatusAddr, worker, logger)
	worker.SetOnTick(status.Broadcast)

	o := &orchestrator.Orchestrator{
		Scheduler:    scheduler,
		Worker:       worker,
		StatusServer: status,
		Logger:       logger,
	}

	if err := o.Run(ctx); err != nil {
		logger.Error("importer exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// outcomeRecorder folds each RangeOutcome into RangesOutcome and, on
// success, ImportLag: the gap between the range just covered and the
// chain's current head, so a stalled or backlogged import shows up as a
// growing gauge rather than only as range-outcome counters.
func outcomeRecorder(metrics *orchestrator.Metrics, kind string, latestBlocks map[string]*loaders.LatestBlockFetcher) func(p chainmodel.Product, o pipeline.RangeOutcome) {
	return func(p chainmodel.Product, o pipeline.RangeOutcome) {
		outcome := "success"
		if !o.Success {
			outcome = "error"
		}
		metrics.RangesOutcome.WithLabelValues(p.Chain, kind, outcome).Inc()

		if !o.Success {
			return
		}
		fetcher, ok := latestBlocks[p.Chain]
		if !ok {
			return
		}
		head, err := fetcher.LatestBlockNumber(context.Background(), -1)
		if err != nil {
			return
		}
		lag := head - o.Range.To
		if lag < 0 {
			lag = 0
		}
		metrics.ImportLag.WithLabelValues(p.Chain, kind).Set(float64(lag))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
