// Package loaders implements the concrete operators of spec §4.7. The
// transfer, PPFS and owner-balance fetchers are instances of
// internal/stream's batch-RPC operator (spec §4.6.1), each with its own
// query/result type and JSON-RPC method. Block timestamps and the latest
// block number are single gated calls behind a stream.Cache, and the
// off-chain price feed is a gated HTTP fetcher.
package loaders

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrDomainInvariant is the taxonomy's DomainInvariant class (spec §7):
// a planner/caller bug, not a recoverable per-item failure. PPFS being
// requested for a boost or gov-vault product is the canonical example.
var ErrDomainInvariant = errors.New("loaders: domain invariant violated")

// Config holds the stream tunables of spec §6.4 that every batch-RPC
// loader needs: how long to wait for a batch to fill, how many items a
// batch may hold at most, and the retry budget handed to the gate.
type Config struct {
	MaxInputWaitMsDuration int64 // milliseconds; see time.Duration conversion at call sites
	MaxInputObjsPerBatch   int
	MaxTotalRetryMs        int64
}

func hexQuantity(n int64) string {
	return "0x" + strconv.FormatInt(n, 16)
}

func parseHexQuantity(s string) (int64, error) {
	h := strings.TrimPrefix(s, "0x")
	if h == "" {
		return 0, nil
	}
	return strconv.ParseInt(h, 16, 64)
}

func parseHexBigInt(s string) (*big.Int, error) {
	h := strings.TrimPrefix(s, "0x")
	if h == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("loaders: invalid hex quantity %q", s)
	}
	return v, nil
}

// topicToAddress extracts a 20-byte address from a 32-byte log topic.
func topicToAddress(topic string) string {
	h := strings.TrimPrefix(topic, "0x")
	if len(h) < 40 {
		return "0x" + h
	}
	return "0x" + h[len(h)-40:]
}

func decimalFromBigInt(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0)
}

// padHexTo64 left-pads an address (with or without 0x) to a 32-byte ABI
// word, for use as an eth_call argument.
func padHexTo64(addr string) string {
	h := strings.TrimPrefix(strings.ToLower(addr), "0x")
	if len(h) >= 64 {
		return h
	}
	return strings.Repeat("0", 64-len(h)) + h
}
