package rpcadapter

import (
	"encoding/json"
	"strings"
)

// Hooks models the per-chain quirks spec §4.3/§9 call out: chain-specific
// response normalization and error classification, composed at endpoint
// construction rather than applied by runtime monkey-patching.
type Hooks interface {
	// NormalizeResult rewrites a raw JSON-RPC result into canonical form
	// before it reaches a loader (e.g. a chain that omits a required
	// receipt field under certain conditions).
	NormalizeResult(method string, raw json.RawMessage) (json.RawMessage, error)

	// ClassifyError inspects a transport-level error (HTTP status, JSON-RPC
	// error object) and returns its Class.
	ClassifyError(err error) Class
}

// DefaultHooks implements Hooks with no normalization and a generic
// substring-based classifier, used for well-behaved endpoints and as the
// base every chain-specific Hooks implementation embeds.
type DefaultHooks struct{}

func (DefaultHooks) NormalizeResult(_ string, raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}

func (DefaultHooks) ClassifyError(err error) Class {
	if err == nil {
		return ClassFatal
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missing trie node"), strings.Contains(msg, "archive"):
		return ClassArchiveNodeNeeded
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"):
		return ClassNetworkChanged
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return ClassRateLimited
	case strings.Contains(msg, "timeout"):
		return ClassTransient
	default:
		return ClassFatal
	}
}

// bscHooks additionally treats "request limit reached" as rate-limited,
// a phrasing seen on several Binance Smart Chain public RPC providers that
// the generic classifier's "rate limit" substring doesn't catch.
type bscHooks struct{ DefaultHooks }

func (h bscHooks) ClassifyError(err error) Class {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "request limit reached") {
		return ClassRateLimited
	}
	return h.DefaultHooks.ClassifyError(err)
}

// arbitrumHooks additionally classifies Arbitrum's "header not found"
// response (returned instead of "missing trie node" for pruned state) as
// archive-node-needed.
type arbitrumHooks struct{ DefaultHooks }

func (h arbitrumHooks) ClassifyError(err error) Class {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "header not found") {
		return ClassArchiveNodeNeeded
	}
	return h.DefaultHooks.ClassifyError(err)
}

// HooksForChain returns the Hooks implementation for a given chain slug,
// falling back to DefaultHooks for chains without a documented quirk.
func HooksForChain(chain string) Hooks {
	switch chain {
	case "bsc":
		return bscHooks{}
	case "arbitrum":
		return arbitrumHooks{}
	default:
		return DefaultHooks{}
	}
}
