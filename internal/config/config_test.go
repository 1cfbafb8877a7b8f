package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, prev)
			}
		})
	}
}

func TestLoadRequiresPostgresURL(t *testing.T) {
	clearEnv(t, "POSTGRES_URL", "CHAINS")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_URL")
}

func TestLoadRequiresChains(t *testing.T) {
	clearEnv(t, "POSTGRES_URL", "CHAINS")
	os.Setenv("POSTGRES_URL", "postgres://localhost/test")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAINS")
}

func TestLoadParsesPerChainConfig(t *testing.T) {
	clearEnv(t, "POSTGRES_URL", "CHAINS", "RPC_URLS_BSC", "CHAIN_RPC_MAX_QUERY_BLOCKS_BSC", "MS_PER_BLOCK_ESTIMATE_BSC", "ETHERSCAN_API_KEY_BSC", "REDIS_URL")
	os.Setenv("POSTGRES_URL", "postgres://localhost/test")
	os.Setenv("CHAINS", "bsc")
	os.Setenv("RPC_URLS_BSC", "https://rpc1.example,https://rpc2.example")
	os.Setenv("CHAIN_RPC_MAX_QUERY_BLOCKS_BSC", "5000")
	os.Setenv("MS_PER_BLOCK_ESTIMATE_BSC", "3000")
	os.Setenv("ETHERSCAN_API_KEY_BSC", "abc123")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Contains(t, cfg.Chains, "bsc")

	bsc := cfg.Chains["bsc"]
	assert.ElementsMatch(t, []string{"https://rpc1.example", "https://rpc2.example"}, bsc.RPCURLs)
	assert.Contains(t, bsc.RPCURLs, bsc.RPCURL)
	assert.Equal(t, int64(5000), bsc.MaxQueryBlocks)
	assert.Equal(t, int64(3000), bsc.MsPerBlockEstimate)
	assert.Equal(t, "abc123", bsc.EtherscanAPIKey)
	assert.Equal(t, int64(1200), bsc.BlocksIn1Hour())
}

func TestLoadAppliesStreamDefaults(t *testing.T) {
	clearEnv(t, "POSTGRES_URL", "CHAINS", "RPC_URLS_ETH", "REDIS_URL")
	os.Setenv("POSTGRES_URL", "postgres://localhost/test")
	os.Setenv("CHAINS", "eth")
	os.Setenv("RPC_URLS_ETH", "https://rpc.example")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Stream.MaxInputTake)
	assert.Equal(t, 8, cfg.Stream.WorkConcurrency)
	assert.Equal(t, int64(30_000), cfg.Stream.MaxTotalRetryMs)
}
