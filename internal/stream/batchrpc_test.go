package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/stretchr/testify/require"
)

// spec §8 scenario 4: batch of 10 items against an RPC with
// methods.eth_getLogs=5 becomes capacity 5, two groups.
func TestBatchCapacityScenario4(t *testing.T) {
	limits := rpcadapter.Limitations{Methods: map[string]int{"eth_getLogs": 5}}
	capacity, canBatch := BatchCapacity(limits, map[string]int{"eth_getLogs": 1}, 100)
	require.True(t, canBatch)
	require.Equal(t, 5, capacity)
}

func TestBatchCapacityDisablesBatchingOnUndeclaredMethod(t *testing.T) {
	limits := rpcadapter.Limitations{Methods: map[string]int{"eth_getLogs": 5}}
	capacity, canBatch := BatchCapacity(limits, map[string]int{"eth_call": 1}, 100)
	require.False(t, canBatch)
	require.Equal(t, 1, capacity)
}

func TestBatchCapacityGenerousWhenEndpointDeclaresNoLimits(t *testing.T) {
	capacity, canBatch := BatchCapacity(rpcadapter.Limitations{}, map[string]int{"eth_call": 1}, 100)
	require.False(t, canBatch)
	require.Equal(t, 10, capacity)
}

type fakeQuery = int64

func TestBatchRPCGroupsByComputedCapacityAndFormatsOutput(t *testing.T) {
	in := make(chan fakeQuery)
	gate := rpcgate.New("https://example.invalid", rpcgate.Opts{})

	var batchSizes []int
	var mu sync.Mutex

	cfg := BatchRPCConfig[fakeQuery, fakeQuery, string]{
		GetQuery: func(obj fakeQuery) fakeQuery { return obj },
		ProcessBatch: func(ctx context.Context, transport rpcadapter.Transport, queries []fakeQuery) (map[fakeQuery]string, error) {
			mu.Lock()
			batchSizes = append(batchSizes, len(queries))
			mu.Unlock()
			out := make(map[fakeQuery]string, len(queries))
			for _, q := range queries {
				out[q] = "ok"
			}
			return out, nil
		},
		RPCCallsPerInputObj:  map[string]int{"eth_getLogs": 1},
		Gate:                 gate,
		Endpoint:             rpcadapter.NewEndpoint("https://example.invalid", "eth", rpcadapter.Limitations{Methods: map[string]int{"eth_getLogs": 5}}, nil),
		MaxInputWaitMs:       20 * time.Millisecond,
		MaxInputObjsPerBatch: 100,
		FormatOutput:         func(obj fakeQuery, result string) any { return result },
		EmitErrors:           func(obj fakeQuery, err error) { t.Fatalf("unexpected error for %v: %v", obj, err) },
	}

	out := BatchRPC(context.Background(), Stream[fakeQuery](in), cfg)

	go func() {
		for i := fakeQuery(0); i < 10; i++ {
			in <- i
		}
		close(in)
	}()

	var got []any
	for v := range out {
		got = append(got, v)
	}

	require.Len(t, got, 10)
	require.Equal(t, []int{5, 5}, batchSizes)
}

// spec §8 scenario 5 / invariant 7: a terminal gate failure fans out to
// every item in the group exactly once, and no output is emitted for it.
func TestBatchRPCFansOutGroupFailureToEveryItem(t *testing.T) {
	in := make(chan fakeQuery)
	gate := rpcgate.New("https://example.invalid", rpcgate.Opts{})

	var errored []fakeQuery
	var mu sync.Mutex

	cfg := BatchRPCConfig[fakeQuery, fakeQuery, string]{
		GetQuery: func(obj fakeQuery) fakeQuery { return obj },
		ProcessBatch: func(ctx context.Context, transport rpcadapter.Transport, queries []fakeQuery) (map[fakeQuery]string, error) {
			return nil, rpcadapter.Classify(rpcadapter.ClassArchiveNodeNeeded, errors.New("missing trie node"))
		},
		RPCCallsPerInputObj:  map[string]int{"eth_getLogs": 1},
		Gate:                 gate,
		Endpoint:             rpcadapter.NewEndpoint("https://example.invalid", "eth", rpcadapter.Limitations{Methods: map[string]int{"eth_getLogs": 5}}, nil),
		MaxInputWaitMs:       10 * time.Millisecond,
		MaxInputObjsPerBatch: 100,
		FormatOutput:         func(obj fakeQuery, result string) any { return result },
		EmitErrors: func(obj fakeQuery, err error) {
			mu.Lock()
			errored = append(errored, obj)
			mu.Unlock()
		},
	}

	out := BatchRPC(context.Background(), Stream[fakeQuery](in), cfg)

	go func() {
		for i := fakeQuery(0); i < 5; i++ {
			in <- i
		}
		close(in)
	}()

	var got []any
	for v := range out {
		got = append(got, v)
	}

	require.Empty(t, got)
	require.Len(t, errored, 5)
}
