package rpcadapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport records each batch it receives and echoes back one result
// per request, letting tests assert on aggregation behavior.
type fakeTransport struct {
	mu      sync.Mutex
	batches [][]Request
	fail    bool
}

func (f *fakeTransport) Call(_ context.Context, req Request) Response {
	return Response{ID: req.ID, Result: req.Method}
}

func (f *fakeTransport) CallBatch(_ context.Context, reqs []Request) []Response {
	f.mu.Lock()
	f.batches = append(f.batches, reqs)
	f.mu.Unlock()

	if f.fail {
		return nil // simulate a whole-batch failure: no responses returned
	}

	out := make([]Response, len(reqs))
	for i, r := range reqs {
		out[i] = Response{ID: r.ID, Result: r.Method}
	}
	return out
}

func TestBatchProviderRoutesResponsesToCorrectCaller(t *testing.T) {
	ft := &fakeTransport{}
	bp := NewBatchProvider(ft, 5*time.Millisecond, 0)

	var wg sync.WaitGroup
	results := make([]Response, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = bp.Call(context.Background(), "method", i)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, "method", r.Result)
		_ = i
	}
	require.Len(t, ft.batches, 1, "all five calls issued within the window should coalesce into one batch")
	require.Len(t, ft.batches[0], 5)
}

func TestBatchProviderFlushesOnMaxBatch(t *testing.T) {
	ft := &fakeTransport{}
	bp := NewBatchProvider(ft, time.Second, 2)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bp.Call(context.Background(), "m", nil)
		}()
	}
	wg.Wait()

	require.Len(t, ft.batches, 2, "capacity-triggered flushes should fire without waiting for the window")
}

func TestBatchProviderFansOutWholeBatchError(t *testing.T) {
	ft := &fakeTransport{fail: true}
	bp := NewBatchProvider(ft, 5*time.Millisecond, 0)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = bp.Call(context.Background(), "m", nil).Err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		require.Equal(t, ClassFatal, ClassOf(err))
	}
}
