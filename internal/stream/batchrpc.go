package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
)

// BatchRPCConfig configures the batch-RPC operator (spec §4.6.1), the
// centerpiece of the stream engine. The transfer, PPFS and owner-balance
// loaders in internal/loaders are instances of this operator, each with a
// different GetQuery/ProcessBatch pair.
//
// BatchRPC makes no batch-vs-linear provider choice (spec §4.6.1 step 3):
// every group goes to ProcessBatch with cfg.Endpoint.Transport exactly as
// configured. It uses only the group capacity from BatchCapacity; the
// canUseBatchProvider result is ignored here.
type BatchRPCConfig[TObj any, Q comparable, R any] struct {
	GetQuery     func(TObj) Q
	ProcessBatch func(ctx context.Context, transport rpcadapter.Transport, queries []Q) (map[Q]R, error)

	// RPCCallsPerInputObj declares, per JSON-RPC method, how many calls one
	// input object requires; used to compute the batch capacity.
	RPCCallsPerInputObj map[string]int

	Gate     *rpcgate.Gate
	Endpoint rpcadapter.Endpoint

	MaxInputWaitMs       time.Duration
	MaxInputObjsPerBatch int
	MaxTotalRetryMs      int64

	FormatOutput func(obj TObj, result R) any
	EmitErrors   func(obj TObj, err error)
}

// BatchCapacity computes the per-batch capacity spec §4.6.1 step 1
// describes: for every method declared in RPCCallsPerInputObj, the
// endpoint's per-method limit divided by calls-per-object bounds the
// group size; the tightest bound wins. Any method the endpoint doesn't
// declare a limit for (or explicitly caps at 0) disables batching
// entirely for this operator against this endpoint, falling back to
// cap=1 (or a generous cap(maxInputObjsPerBatch/10) when the endpoint
// declares no limits at all, i.e. "no-limit").
func BatchCapacity(limits rpcadapter.Limitations, rpcCallsPerInputObj map[string]int, maxInputObjsPerBatch int) (capacity int, canUseBatchProvider bool) {
	if maxInputObjsPerBatch <= 0 {
		maxInputObjsPerBatch = 1
	}
	capacity = maxInputObjsPerBatch
	canUseBatchProvider = true
	anyDeclared := len(limits.Methods) > 0

	for method, count := range rpcCallsPerInputObj {
		if count <= 0 {
			continue
		}
		limit, known := limits.Methods[method]
		if !known || limit <= 0 {
			canUseBatchProvider = false
			break
		}
		if c := limit / count; c < capacity {
			capacity = c
		}
	}

	if !canUseBatchProvider {
		if anyDeclared {
			capacity = 1
		} else {
			capacity = maxInputObjsPerBatch / 10
		}
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity, canUseBatchProvider
}

// BatchRPC runs the batch-RPC operator over in (spec §4.6.1): groups
// items with BufferTime at the computed capacity, dispatches each group
// through the gate, fails the whole group via EmitErrors on a terminal
// gate error (step 5), fails fast on any item missing from the returned
// result map (step 4 — a ProgrammerError, never silent), and otherwise
// emits FormatOutput per item (step 6).
func BatchRPC[TObj any, Q comparable, R any](ctx context.Context, in Stream[TObj], cfg BatchRPCConfig[TObj, Q, R]) Stream[any] {
	capacity, _ := BatchCapacity(cfg.Endpoint.Limitations, cfg.RPCCallsPerInputObj, cfg.MaxInputObjsPerBatch)

	groups := BufferTime(in, cfg.MaxInputWaitMs, capacity)
	out := make(chan any)

	go func() {
		defer close(out)
		for group := range groups {
			processGroup(ctx, group, cfg, out)
		}
	}()
	return out
}

func processGroup[TObj any, Q comparable, R any](ctx context.Context, group []TObj, cfg BatchRPCConfig[TObj, Q, R], out chan<- any) {
	queries := make([]Q, len(group))
	for i, obj := range group {
		queries[i] = cfg.GetQuery(obj)
	}

	work := func(ctx context.Context) (any, error) {
		return cfg.ProcessBatch(ctx, cfg.Endpoint.Transport, queries)
	}

	raw, err := cfg.Gate.Call(ctx, rpcgate.CallOpts{MaxTotalRetryMs: cfg.MaxTotalRetryMs}, work)
	if err != nil {
		for _, obj := range group {
			cfg.EmitErrors(obj, err)
		}
		return
	}

	results, ok := raw.(map[Q]R)
	if !ok {
		err := fmt.Errorf("%w: processBatch returned %T, want map", rpcadapter.ErrMissingBatchResult, raw)
		for _, obj := range group {
			cfg.EmitErrors(obj, err)
		}
		return
	}

	for _, obj := range group {
		q := cfg.GetQuery(obj)
		r, found := results[q]
		if !found {
			cfg.EmitErrors(obj, fmt.Errorf("%w: query %v", rpcadapter.ErrMissingBatchResult, q))
			continue
		}
		select {
		case out <- cfg.FormatOutput(obj, r):
		case <-ctx.Done():
			return
		}
	}
}
