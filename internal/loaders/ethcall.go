package loaders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/shopspring/decimal"
)

// ethCallQuery is the common shape behind PPFS and owner-balance eth_call
// queries: a contract, a no-argument-or-single-address call, and a block.
type ethCallQuery struct {
	To          string
	Data        string
	BlockNumber int64
}

// processEthCallBatch issues one eth_call per query and decodes each
// result as a uint256, scaled by 10^-decimals. decimalsOf lets PPFS and
// owner-balance queries each use their own scale.
func processEthCallBatch[Q comparable](ctx context.Context, transport rpcadapter.Transport, queries []Q, toCall func(Q) ethCallQuery, decimalsOf func(Q) int32) (map[Q]decimal.Decimal, error) {
	reqs := make([]rpcadapter.Request, len(queries))
	for i, q := range queries {
		call := toCall(q)
		reqs[i] = rpcadapter.Request{
			Method: "eth_call",
			Params: []any{
				map[string]any{"to": call.To, "data": call.Data},
				hexQuantity(call.BlockNumber),
			},
			ID: int64(i),
		}
	}

	responses := transport.CallBatch(ctx, reqs)
	if len(responses) != len(queries) {
		return nil, fmt.Errorf("%w: eth_call batch returned %d responses for %d queries", rpcadapter.ErrMissingBatchResult, len(responses), len(queries))
	}

	out := make(map[Q]decimal.Decimal, len(queries))
	for i, q := range queries {
		r := responses[i]
		if r.Err != nil {
			return nil, r.Err
		}
		raw, ok := r.Result.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("loaders: unexpected eth_call result type %T", r.Result)
		}
		var hexValue string
		if err := json.Unmarshal(raw, &hexValue); err != nil {
			return nil, fmt.Errorf("decode eth_call result: %w", err)
		}
		value, err := parseHexBigInt(hexValue)
		if err != nil {
			return nil, err
		}
		out[q] = decimalFromBigInt(value).Shift(-decimalsOf(q))
	}
	return out, nil
}
