package loaders

import (
	"context"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/stream"
	"github.com/shopspring/decimal"
)

// balanceOfSelector is the first 4 bytes of keccak256("balanceOf(address)").
const balanceOfSelector = "0x70a08231"

// OwnerBalanceJob is one planner-produced work item: balanceOf(owner) on
// a token contract at a given block (spec §4.7). The investment pipeline
// uses it for standard vaults' share-token balances; gov-vault balances
// are derived from running transfer sums instead.
type OwnerBalanceJob struct {
	TokenAddress  string
	TokenDecimals int32
	OwnerAddress  string
	BlockNumber   int64
}

// OwnerBalanceQuery is the eth_call this operator issues for one job.
type OwnerBalanceQuery struct {
	TokenAddress  string
	TokenDecimals int32
	OwnerAddress  string
	BlockNumber   int64
}

// ProcessOwnerBalanceBatch is the ProcessBatch function for the
// owner-balance fetcher.
func ProcessOwnerBalanceBatch(ctx context.Context, transport rpcadapter.Transport, queries []OwnerBalanceQuery) (map[OwnerBalanceQuery]decimal.Decimal, error) {
	return processEthCallBatch(ctx, transport, queries,
		func(q OwnerBalanceQuery) ethCallQuery {
			return ethCallQuery{To: q.TokenAddress, Data: balanceOfSelector + padHexTo64(q.OwnerAddress), BlockNumber: q.BlockNumber}
		},
		func(q OwnerBalanceQuery) int32 { return q.TokenDecimals },
	)
}

// OwnerBalanceResult pairs a completed OwnerBalanceJob with its decoded
// balance.
type OwnerBalanceResult struct {
	Job     OwnerBalanceJob
	Balance decimal.Decimal
}

// NewOwnerBalanceFetcher builds the owner-balance fetcher (spec §4.7):
// balanceOf(owner) at a given block per item.
func NewOwnerBalanceFetcher(gate *rpcgate.Gate, endpoint rpcadapter.Endpoint, cfg Config, emitErrors func(OwnerBalanceJob, error)) func(context.Context, stream.Stream[OwnerBalanceJob]) stream.Stream[OwnerBalanceResult] {
	batchCfg := stream.BatchRPCConfig[OwnerBalanceJob, OwnerBalanceQuery, decimal.Decimal]{
		GetQuery: func(job OwnerBalanceJob) OwnerBalanceQuery {
			return OwnerBalanceQuery{
				TokenAddress:  job.TokenAddress,
				TokenDecimals: job.TokenDecimals,
				OwnerAddress:  job.OwnerAddress,
				BlockNumber:   job.BlockNumber,
			}
		},
		ProcessBatch:         ProcessOwnerBalanceBatch,
		RPCCallsPerInputObj:  map[string]int{"eth_call": 1},
		Gate:                 gate,
		Endpoint:             endpoint,
		MaxInputWaitMs:       time.Duration(cfg.MaxInputWaitMsDuration) * time.Millisecond,
		MaxInputObjsPerBatch: cfg.MaxInputObjsPerBatch,
		MaxTotalRetryMs:      cfg.MaxTotalRetryMs,
		FormatOutput: func(job OwnerBalanceJob, result decimal.Decimal) any {
			return OwnerBalanceResult{Job: job, Balance: result}
		},
		EmitErrors: emitErrors,
	}

	return func(ctx context.Context, in stream.Stream[OwnerBalanceJob]) stream.Stream[OwnerBalanceResult] {
		return stream.Typed[OwnerBalanceResult](stream.BatchRPC(ctx, in, batchCfg))
	}
}
