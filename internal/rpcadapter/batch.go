package rpcadapter

import (
	"context"
	"sync"
	"time"
)

// DefaultBatchWindow is the coalescing window spec §4.3/§6.3 mandates:
// requests arriving within this window are aggregated into one JSON-RPC
// batch.
const DefaultBatchWindow = 10 * time.Millisecond

// BatchProvider aggregates Call() invocations arriving within a short time
// window into a single Transport.CallBatch, and routes each response back
// to exactly the caller that enqueued it (spec §4.3 invariant).
type BatchProvider struct {
	transport Transport
	window    time.Duration
	maxBatch  int

	mu      sync.Mutex
	pending []pendingCall
	timer   *time.Timer
	nextID  int64
}

type pendingCall struct {
	req   Request
	reply chan Response
}

// NewBatchProvider builds a debounced batch aggregator over transport.
// maxBatch <= 0 means unbounded (flush only on the timer).
func NewBatchProvider(transport Transport, window time.Duration, maxBatch int) *BatchProvider {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	return &BatchProvider{transport: transport, window: window, maxBatch: maxBatch}
}

// Call enqueues req and blocks until its response is ready, either because
// the window elapsed or the batch reached maxBatch.
func (b *BatchProvider) Call(ctx context.Context, method string, params any) Response {
	reply := make(chan Response, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.pending = append(b.pending, pendingCall{req: Request{Method: method, Params: params, ID: id}, reply: reply})

	shouldFlushNow := b.maxBatch > 0 && len(b.pending) >= b.maxBatch
	if shouldFlushNow {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.window, func() { b.flush(context.Background()) })
	}
	b.mu.Unlock()

	if shouldFlushNow {
		b.flush(ctx)
	}

	select {
	case resp := <-reply:
		return resp
	case <-ctx.Done():
		return Response{ID: id, Err: Classify(ClassFatal, ctx.Err())}
	}
}

func (b *BatchProvider) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	reqs := make([]Request, len(batch))
	for i, pc := range batch {
		reqs[i] = pc.req
	}

	responses := b.transport.CallBatch(ctx, reqs)
	byID := make(map[int64]Response, len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}

	for _, pc := range batch {
		resp, ok := byID[pc.req.ID]
		if !ok {
			// Transport violated its contract; fail fast rather than hang
			// a caller forever (spec §4.6.1 step 4).
			resp = Response{ID: pc.req.ID, Err: Classify(ClassFatal, ErrMissingBatchResult)}
		}
		pc.reply <- resp
	}
}
