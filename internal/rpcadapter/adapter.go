package rpcadapter

import (
	"context"
	"time"
)

// NoLimit marks a duration tunable as unbounded (spec §4.3
// minDelayBetweenCalls: "duration or no-limit").
const NoLimit time.Duration = 0

// Limitations are the declared per-endpoint constraints spec §4.3
// requires: per-method batch caps (a cap of 0 disables batching for that
// method), a minimum delay between calls, and an archive-node flag.
type Limitations struct {
	// Methods maps a JSON-RPC method name to its max calls per batch. A
	// present key with value 0 means "disable batching for this method".
	Methods map[string]int

	MinDelayBetweenCalls time.Duration // NoLimit (0) means unthrottled
	IsArchiveNode        bool
}

// MaxBatchSize returns the declared cap for method, and whether batching is
// allowed at all for it. An unknown method is treated as batchable with no
// declared cap (ok=true, cap=0 meaning "unbounded" to the caller, which
// should fall back to its own default).
func (l Limitations) MaxBatchSize(method string) (cap int, batchable bool) {
	v, known := l.Methods[method]
	if !known {
		return 0, true
	}
	if v <= 0 {
		return 0, false
	}
	return v, true
}

// Request is a single JSON-RPC 2.0 call.
type Request struct {
	Method string
	Params any
	// ID correlates a Request to its Response inside a batch; callers own
	// ID allocation and uniqueness within a single Call/CallBatch.
	ID int64
}

// Response is a single JSON-RPC 2.0 result or error.
type Response struct {
	ID     int64
	Result any
	Err    error // already Classify()-ed by the adapter
}

// Transport is the minimal capability an endpoint adapter needs from the
// wire: execute one call, or execute a batch and get back one response per
// request, aligned by ID (spec §6.3).
type Transport interface {
	// Call executes a single JSON-RPC request (the "linear" provider).
	Call(ctx context.Context, req Request) Response

	// CallBatch executes a JSON-RPC batch (the "batch" provider). It must
	// return exactly one Response per Request, keyed by ID; batch-level
	// errors (a non-array payload) must fan out to every request (spec
	// §4.3, §9).
	CallBatch(ctx context.Context, reqs []Request) []Response
}

// Endpoint bundles a Transport with its declared Limitations and
// chain-specific Hooks, constructed once per RPC URL (spec §4.3).
type Endpoint struct {
	URL         string // secrets stripped before this reaches logging call sites
	Chain       string
	Limitations Limitations
	Hooks       Hooks
	Transport   Transport
}

// NewEndpoint builds an Endpoint composing hooks for chain at construction
// time (spec §9: "composed at endpoint construction — not as runtime
// mutation").
func NewEndpoint(url, chain string, lim Limitations, transport Transport) Endpoint {
	return Endpoint{
		URL:         url,
		Chain:       chain,
		Limitations: lim,
		Hooks:       HooksForChain(chain),
		Transport:   transport,
	}
}
