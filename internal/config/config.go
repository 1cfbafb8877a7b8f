// Package config loads the engine's environment-variable configuration
// (spec §6.4): per-chain RPC endpoints and planner tunables, stream
// concurrency knobs, and the off-chain price API key, following the
// teacher's os.Getenv-plus-strconv loading style rather than a config
// library — the teacher itself never reaches for one.
package config

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChainConfig holds the per-chain tunables of spec §6.4.
type ChainConfig struct {
	Chain string

	// RPCURLs is sampled uniformly at startup (spec §6.4: "list, sampled
	// uniformly at startup per chain"); Load does the sampling and callers
	// only ever see the chosen URL via RPCURL.
	RPCURLs []string
	RPCURL  string

	MaxQueryBlocks     int64 // CHAIN_RPC_MAX_QUERY_BLOCKS[chain]
	MsPerBlockEstimate int64 // MS_PER_BLOCK_ESTIMATE[chain]

	EtherscanAPIKey string // ETHERSCAN_API_KEY[chain]; loaded here, not read by any loader or client
}

// StreamConfig holds the generic stream-operator tunables of spec §6.4,
// shared across every batch-RPC loader and the import-state update path.
type StreamConfig struct {
	MaxInputTake      int           // maxInputTake
	MaxInputWaitMs    time.Duration // maxInputWaitMs
	DBMaxInputTake    int           // dbMaxInputTake
	DBMaxInputWaitMs  time.Duration // dbMaxInputWaitMs
	WorkConcurrency   int           // workConcurrency
	MaxTotalRetryMs   int64         // maxTotalRetryMs
}

// OrchestratorConfig holds the long-running process's wiring tunables:
// where ticks queue, how often they're published per chain, and where the
// operator status server listens.
type OrchestratorConfig struct {
	RedisURL                      string
	TicksTopic                    string
	ConsumerGroup                 string
	StatusAddr                    string
	RecentCronSpec                string // cron.WithSeconds() spec, e.g. every 15s
	HistoricalCronSpec            string // e.g. every 5m
	OraclePriceCronSpec           string // e.g. every hour
	OraclePriceHistoricalCronSpec string // e.g. every 6 hours
}

// Config holds all configuration for the import engine.
type Config struct {
	Chains map[string]ChainConfig

	PostgresURL    string
	PostgresSchema string

	Stream       StreamConfig
	Orchestrator OrchestratorConfig

	BeefyPriceDataMaxQueryRangeMs int64
	MaxRangesPerProductToGenerate int

	// PriceFeedAPIBaseURL/APIKey configure the off-chain price API the
	// oracle:price pipeline queries (spec §4.7) — chain-agnostic, unlike
	// every other RPC tunable, since a price feed belongs to no one chain.
	PriceFeedAPIBaseURL string
	PriceFeedAPIKey     string

	LogLevel string
}

// Load loads configuration from environment variables. CHAINS lists the
// chain keys this process should run pipelines for; every other
// per-chain variable is suffixed with the chain key in uppercase, e.g.
// RPC_URLS_BSC, CHAIN_RPC_MAX_QUERY_BLOCKS_BSC.
func Load() (*Config, error) {
	cfg := &Config{
		Chains: map[string]ChainConfig{},
		Stream: StreamConfig{
			MaxInputTake:     100,
			MaxInputWaitMs:   10 * time.Millisecond,
			DBMaxInputTake:   500,
			DBMaxInputWaitMs: 100 * time.Millisecond,
			WorkConcurrency:  8,
			MaxTotalRetryMs:  30_000,
		},
		Orchestrator: OrchestratorConfig{
			TicksTopic:                    "beefy_bi_ticks",
			ConsumerGroup:                 "beefy_bi_importer",
			StatusAddr:                    ":8090",
			RecentCronSpec:                "*/15 * * * * *",
			HistoricalCronSpec:            "0 */5 * * * *",
			OraclePriceCronSpec:           "0 0 * * * *",
			OraclePriceHistoricalCronSpec: "0 0 */6 * * *",
		},
		BeefyPriceDataMaxQueryRangeMs: int64(7 * 24 * time.Hour / time.Millisecond),
		MaxRangesPerProductToGenerate: 20,
		LogLevel:                      "info",
	}

	cfg.PostgresURL = os.Getenv("POSTGRES_URL")
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("config: POSTGRES_URL is required")
	}
	cfg.PostgresSchema = os.Getenv("POSTGRES_SCHEMA")
	if cfg.PostgresSchema == "" {
		cfg.PostgresSchema = "beefy_bi"
	}

	chainsEnv := os.Getenv("CHAINS")
	if chainsEnv == "" {
		return nil, fmt.Errorf("config: CHAINS is required (comma-separated chain keys)")
	}
	for _, chain := range strings.Split(chainsEnv, ",") {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}
		cc, err := loadChainConfig(chain)
		if err != nil {
			return nil, err
		}
		cfg.Chains[chain] = cc
	}

	if v := os.Getenv("BEEFY_PRICE_DATA_MAX_QUERY_RANGE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BeefyPriceDataMaxQueryRangeMs = n
		}
	}

	if v := os.Getenv("MAX_RANGES_PER_PRODUCT_TO_GENERATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRangesPerProductToGenerate = n
		}
	}

	if v := os.Getenv("MAX_INPUT_TAKE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxInputTake = n
		}
	}
	if v := os.Getenv("MAX_INPUT_WAIT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Stream.MaxInputWaitMs = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("DB_MAX_INPUT_TAKE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.DBMaxInputTake = n
		}
	}
	if v := os.Getenv("DB_MAX_INPUT_WAIT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Stream.DBMaxInputWaitMs = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("WORK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.WorkConcurrency = n
		}
	}
	if v := os.Getenv("MAX_TOTAL_RETRY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Stream.MaxTotalRetryMs = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.PriceFeedAPIBaseURL = os.Getenv("PRICE_FEED_API_BASE_URL")
	cfg.PriceFeedAPIKey = os.Getenv("PRICE_FEED_API_KEY")

	cfg.Orchestrator.RedisURL = os.Getenv("REDIS_URL")
	if cfg.Orchestrator.RedisURL == "" {
		return nil, fmt.Errorf("config: REDIS_URL is required")
	}
	if v := os.Getenv("TICKS_TOPIC"); v != "" {
		cfg.Orchestrator.TicksTopic = v
	}
	if v := os.Getenv("TICKS_CONSUMER_GROUP"); v != "" {
		cfg.Orchestrator.ConsumerGroup = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.Orchestrator.StatusAddr = v
	}
	if v := os.Getenv("RECENT_CRON_SPEC"); v != "" {
		cfg.Orchestrator.RecentCronSpec = v
	}
	if v := os.Getenv("HISTORICAL_CRON_SPEC"); v != "" {
		cfg.Orchestrator.HistoricalCronSpec = v
	}
	if v := os.Getenv("ORACLE_PRICE_CRON_SPEC"); v != "" {
		cfg.Orchestrator.OraclePriceCronSpec = v
	}
	if v := os.Getenv("ORACLE_PRICE_HISTORICAL_CRON_SPEC"); v != "" {
		cfg.Orchestrator.OraclePriceHistoricalCronSpec = v
	}

	return cfg, nil
}

func loadChainConfig(chain string) (ChainConfig, error) {
	suffix := "_" + strings.ToUpper(chain)

	cc := ChainConfig{
		Chain:              chain,
		MaxQueryBlocks:     2000,
		MsPerBlockEstimate: 3000,
	}

	rawURLs := os.Getenv("RPC_URLS" + suffix)
	if rawURLs == "" {
		return ChainConfig{}, fmt.Errorf("config: RPC_URLS%s is required", suffix)
	}
	for _, u := range strings.Split(rawURLs, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			cc.RPCURLs = append(cc.RPCURLs, u)
		}
	}
	if len(cc.RPCURLs) == 0 {
		return ChainConfig{}, fmt.Errorf("config: RPC_URLS%s has no usable entries", suffix)
	}
	cc.RPCURL = sampleURL(cc.RPCURLs)

	if v := os.Getenv("CHAIN_RPC_MAX_QUERY_BLOCKS" + suffix); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cc.MaxQueryBlocks = n
		}
	}
	if v := os.Getenv("MS_PER_BLOCK_ESTIMATE" + suffix); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cc.MsPerBlockEstimate = n
		}
	}
	cc.EtherscanAPIKey = os.Getenv("ETHERSCAN_API_KEY" + suffix)

	return cc, nil
}

// BlocksIn1Hour derives the per-chain block count spec §4.5's planner
// tunables expect, from the configured per-block time estimate.
func (cc ChainConfig) BlocksIn1Hour() int64 {
	if cc.MsPerBlockEstimate <= 0 {
		return 0
	}
	return int64(time.Hour/time.Millisecond) / cc.MsPerBlockEstimate
}

// sampleURL picks uniformly among urls (spec §6.4: "sampled uniformly at
// startup per chain").
func sampleURL(urls []string) string {
	if len(urls) == 1 {
		return urls[0]
	}
	return urls[rand.Intn(len(urls))]
}
