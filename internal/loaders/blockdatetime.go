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

// permanentTTL backs the block-datetime cache: a block's timestamp never
// changes once mined, so spec §4.7's "cached" (no TTL given) is modeled
// as a very long-lived entry rather than reusing stream.Cache's
// TTL-disables-caching convention with ttl<=0.
const permanentTTL = 100 * 365 * 24 * time.Hour

// BlockDatetimeQuery identifies one eth_getBlockByNumber lookup.
type BlockDatetimeQuery struct {
	Chain       string
	BlockNumber int64
}

type rawBlockHeader struct {
	Timestamp string `json:"timestamp"`
}

// ProcessBlockDatetimeBatch is the ProcessBatch function for the
// block-datetime fetcher: eth_getBlockByNumber(n, false), decoding the
// unix-second timestamp into unix milliseconds.
func ProcessBlockDatetimeBatch(ctx context.Context, transport rpcadapter.Transport, queries []BlockDatetimeQuery) (map[BlockDatetimeQuery]int64, error) {
	reqs := make([]rpcadapter.Request, len(queries))
	for i, q := range queries {
		reqs[i] = rpcadapter.Request{
			Method: "eth_getBlockByNumber",
			Params: []any{hexQuantity(q.BlockNumber), false},
			ID:     int64(i),
		}
	}

	responses := transport.CallBatch(ctx, reqs)
	if len(responses) != len(queries) {
		return nil, fmt.Errorf("%w: eth_getBlockByNumber batch returned %d responses for %d queries", rpcadapter.ErrMissingBatchResult, len(responses), len(queries))
	}

	out := make(map[BlockDatetimeQuery]int64, len(queries))
	for i, q := range queries {
		r := responses[i]
		if r.Err != nil {
			return nil, r.Err
		}
		raw, ok := r.Result.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("loaders: unexpected eth_getBlockByNumber result type %T", r.Result)
		}
		var header rawBlockHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("decode eth_getBlockByNumber result: %w", err)
		}
		seconds, err := parseHexQuantity(header.Timestamp)
		if err != nil {
			return nil, err
		}
		out[q] = seconds * 1000
	}
	return out, nil
}

// BlockDatetimeFetcher wraps the block-datetime batch-RPC operator with
// a permanent, per-(chain,block) cache (spec §4.7).
type BlockDatetimeFetcher struct {
	cache  *stream.Cache[BlockDatetimeQuery, int64]
	gate   *rpcgate.Gate
	ep     rpcadapter.Endpoint
	maxRet int64
}

// NewBlockDatetimeFetcher builds a BlockDatetimeFetcher.
func NewBlockDatetimeFetcher(gate *rpcgate.Gate, endpoint rpcadapter.Endpoint, maxTotalRetryMs int64) *BlockDatetimeFetcher {
	return &BlockDatetimeFetcher{
		cache:  stream.NewCache[BlockDatetimeQuery, int64](permanentTTL),
		gate:   gate,
		ep:     endpoint,
		maxRet: maxTotalRetryMs,
	}
}

// DatetimeOf returns the unix-ms timestamp of chain's block, querying and
// caching it on first use.
func (f *BlockDatetimeFetcher) DatetimeOf(ctx context.Context, chain string, blockNumber int64) (int64, error) {
	q := BlockDatetimeQuery{Chain: chain, BlockNumber: blockNumber}
	return f.cache.Get(ctx, q, func(ctx context.Context) (int64, error) {
		result, err := f.gate.Call(ctx, rpcgate.CallOpts{MaxTotalRetryMs: f.maxRet}, func(ctx context.Context) (any, error) {
			out, err := ProcessBlockDatetimeBatch(ctx, f.ep.Transport, []BlockDatetimeQuery{q})
			if err != nil {
				return nil, err
			}
			return out[q], nil
		})
		if err != nil {
			return 0, err
		}
		return result.(int64), nil
	})
}
