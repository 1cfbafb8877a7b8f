package rpcgate

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Registry hands out a single Gate per endpoint URL, process-wide, the way
// canopy-network-canopyx's activity Context keeps one xsync.Map of
// per-chain resources rather than constructing them per call.
type Registry struct {
	gates      *xsync.Map[string, *Gate]
	constructMu sync.Mutex // serializes first-construction races on the same key
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gates: xsync.NewMap[string, *Gate]()}
}

// Get returns the Gate for endpointURL, constructing it with opts on first
// use. Subsequent calls for the same URL ignore opts and return the
// existing Gate.
func (r *Registry) Get(endpointURL string, opts Opts) *Gate {
	if gate, ok := r.gates.Load(endpointURL); ok {
		return gate
	}

	r.constructMu.Lock()
	defer r.constructMu.Unlock()

	if gate, ok := r.gates.Load(endpointURL); ok {
		return gate
	}
	gate := New(endpointURL, opts)
	r.gates.Store(endpointURL, gate)
	return gate
}
