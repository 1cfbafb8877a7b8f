package loaders

import (
	"context"
	"fmt"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/stream"
	"github.com/shopspring/decimal"
)

// pricePerFullShareSelector is the first 4 bytes of
// keccak256("pricePerFullShare()").
const pricePerFullShareSelector = "0x77c7b8fc"

// PPFSJob is one planner-produced work item: a vault product and the
// block its price-per-full-share should be sampled at.
type PPFSJob struct {
	Product     chainmodel.Product
	BlockNumber int64
}

// PPFSQuery is the eth_call this operator issues for one PPFSJob.
type PPFSQuery struct {
	VaultAddress  string
	VaultDecimals int32
	BlockNumber   int64
}

// ProcessPPFSBatch is the ProcessBatch function for the PPFS fetcher.
func ProcessPPFSBatch(ctx context.Context, transport rpcadapter.Transport, queries []PPFSQuery) (map[PPFSQuery]decimal.Decimal, error) {
	return processEthCallBatch(ctx, transport, queries,
		func(q PPFSQuery) ethCallQuery {
			return ethCallQuery{To: q.VaultAddress, Data: pricePerFullShareSelector, BlockNumber: q.BlockNumber}
		},
		func(q PPFSQuery) int32 { return q.VaultDecimals },
	)
}

// PPFSResult pairs a completed PPFSJob with its decoded share rate.
type PPFSResult struct {
	Job  PPFSJob
	Rate decimal.Decimal
}

// NewPPFSFetcher builds the PPFS fetcher (spec §4.7): for each block in a
// batch, calls pricePerFullShare() and scales by 10^-vaultDecimals. Boost
// and gov-vault products must never enter this operator — GetQuery treats
// that as ErrDomainInvariant (spec §7: a planner bug, not a retryable
// failure), surfaced by panicking rather than routed through EmitErrors.
func NewPPFSFetcher(gate *rpcgate.Gate, endpoint rpcadapter.Endpoint, cfg Config, emitErrors func(PPFSJob, error)) func(context.Context, stream.Stream[PPFSJob]) stream.Stream[PPFSResult] {
	batchCfg := stream.BatchRPCConfig[PPFSJob, PPFSQuery, decimal.Decimal]{
		GetQuery: func(job PPFSJob) PPFSQuery {
			if !job.Product.SupportsPPFS() {
				panic(fmt.Errorf("%w: PPFS requested for ineligible product %s", ErrDomainInvariant, job.Product.ProductKey))
			}
			return PPFSQuery{
				VaultAddress:  job.Product.Data.ContractAddress,
				VaultDecimals: job.Product.Data.VaultDecimals,
				BlockNumber:   job.BlockNumber,
			}
		},
		ProcessBatch:         ProcessPPFSBatch,
		RPCCallsPerInputObj:  map[string]int{"eth_call": 1},
		Gate:                 gate,
		Endpoint:             endpoint,
		MaxInputWaitMs:       time.Duration(cfg.MaxInputWaitMsDuration) * time.Millisecond,
		MaxInputObjsPerBatch: cfg.MaxInputObjsPerBatch,
		MaxTotalRetryMs:      cfg.MaxTotalRetryMs,
		FormatOutput: func(job PPFSJob, result decimal.Decimal) any {
			return PPFSResult{Job: job, Rate: result}
		},
		EmitErrors: emitErrors,
	}

	return func(ctx context.Context, in stream.Stream[PPFSJob]) stream.Stream[PPFSResult] {
		return stream.Typed[PPFSResult](stream.BatchRPC(ctx, in, batchCfg))
	}
}
