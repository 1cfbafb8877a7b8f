package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/stream"
)

// latestBlockCacheTTL matches spec §4.7: "cached with 60s TTL; a forced
// value may bypass".
const latestBlockCacheTTL = 60 * time.Second

// ProcessLatestBlockNumber issues eth_blockNumber and decodes the hex
// quantity result.
func ProcessLatestBlockNumber(ctx context.Context, transport rpcadapter.Transport) (int64, error) {
	resp := transport.Call(ctx, rpcadapter.Request{Method: "eth_blockNumber", ID: 0})
	if resp.Err != nil {
		return 0, resp.Err
	}
	raw, ok := resp.Result.(json.RawMessage)
	if !ok {
		return 0, fmt.Errorf("loaders: unexpected eth_blockNumber result type %T", resp.Result)
	}
	var hexValue string
	if err := json.Unmarshal(raw, &hexValue); err != nil {
		return 0, fmt.Errorf("decode eth_blockNumber result: %w", err)
	}
	return parseHexQuantity(hexValue)
}

// LatestBlockFetcher wraps eth_blockNumber with a 60s TTL cache, one entry
// per chain, and a forced-value bypass (spec §4.7).
type LatestBlockFetcher struct {
	cache  *stream.Cache[string, int64]
	gate   *rpcgate.Gate
	ep     rpcadapter.Endpoint
	maxRet int64
}

// NewLatestBlockFetcher builds a LatestBlockFetcher for a single endpoint.
func NewLatestBlockFetcher(gate *rpcgate.Gate, endpoint rpcadapter.Endpoint, maxTotalRetryMs int64) *LatestBlockFetcher {
	return &LatestBlockFetcher{
		cache:  stream.NewCache[string, int64](latestBlockCacheTTL),
		gate:   gate,
		ep:     endpoint,
		maxRet: maxTotalRetryMs,
	}
}

// LatestBlockNumber returns the endpoint chain's head block. If forced is
// >= 0, it bypasses the cache and RPC entirely, returning forced directly
// (used by tests and by manual reprocessing tools that pin a specific
// head).
func (f *LatestBlockFetcher) LatestBlockNumber(ctx context.Context, forced int64) (int64, error) {
	if forced >= 0 {
		return forced, nil
	}
	return f.cache.Get(ctx, f.ep.Chain, func(ctx context.Context) (int64, error) {
		result, err := f.gate.Call(ctx, rpcgate.CallOpts{MaxTotalRetryMs: f.maxRet}, func(ctx context.Context) (any, error) {
			return ProcessLatestBlockNumber(ctx, f.ep.Transport)
		})
		if err != nil {
			return 0, err
		}
		return result.(int64), nil
	})
}
