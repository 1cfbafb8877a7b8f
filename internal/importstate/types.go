// Package importstate implements the durable, per-import-key record
// tracking which ranges of the block or date axis have been imported
// (spec §3.3, §4.2), plus the derived state machine (spec §4.9).
package importstate

import (
	"strconv"

	"github.com/prevostc/beefy-bi/internal/rangeset"
)

// Type tags the polymorphic import-data payload (spec §3.3).
type Type string

const (
	TypeProductInvestment Type = "product:investment"
	TypeProductShareRate  Type = "product:share-rate"
	TypeOraclePrice       Type = "oracle:price"
)

// Grain returns the range axis (numeric blocks or dates) implied by the
// import-data type. Oracle prices are tracked by date; both product types
// are tracked by block number.
func (t Type) Grain() rangeset.Grain {
	if t == TypeOraclePrice {
		return rangeset.Date
	}
	return rangeset.Numeric
}

// Ranges is the shared shape behind coveredRanges/toRetry for a single
// import key (spec §3.2).
type Ranges struct {
	Covered []rangeset.Range
	ToRetry []rangeset.Range
}

// State is a single durable import-state record (spec §3.3). Only the
// fields relevant to its Type are meaningful; the rest are zero.
type State struct {
	ImportKey string
	Type      Type

	// product:investment / product:share-rate
	ProductID              int64
	PriceFeedID            int64 // product:share-rate only
	Chain                  string
	ContractCreatedAtBlock int64
	ContractCreationDate   int64 // unix ms
	ChainLatestBlockNumber int64

	// oracle:price
	FirstDate int64 // unix ms

	Ranges         Ranges
	LastImportDate int64 // unix ms
}

// Phase is the coarse state-machine phase derived from a State (spec §4.9).
type Phase string

const (
	PhaseNew       Phase = "NEW"
	PhaseActive    Phase = "ACTIVE"
	PhaseCaughtUp  Phase = "CAUGHT_UP"
)

// CaughtUpMargin (P in spec §4.5) is the block/date margin within which a
// key is considered caught up with the chain head.
const CaughtUpMargin = 5

// Phase derives the current lifecycle phase of the key relative to head.
// A key with no covered ranges yet is NEW. One whose highest covered point
// sits within CaughtUpMargin units of head is CAUGHT_UP; otherwise ACTIVE.
// A key is never RETIRED: CAUGHT_UP re-enters ACTIVE as head advances.
func (s State) Phase(head int64) Phase {
	if len(s.Ranges.Covered) == 0 {
		return PhaseNew
	}
	merged := rangeset.Merge(s.Type.Grain(), s.Ranges.Covered)
	highest := merged[len(merged)-1].To
	if head-highest <= CaughtUpMargin {
		return PhaseCaughtUp
	}
	return PhaseActive
}

// ImportKeyForProductInvestment builds the stable key for a product's
// investment import state.
func ImportKeyForProductInvestment(productID int64) string {
	return "product:investment:" + strconv.FormatInt(productID, 10)
}

// ImportKeyForProductShareRate builds the stable key for a product's
// share-rate import state, scoped by price feed.
func ImportKeyForProductShareRate(priceFeedID, productID int64) string {
	return "product:share-rate:" + strconv.FormatInt(priceFeedID, 10) + ":" + strconv.FormatInt(productID, 10)
}

// ImportKeyForOraclePrice builds the stable key for an oracle price feed's
// import state.
func ImportKeyForOraclePrice(priceFeedID int64) string {
	return "oracle:price:" + strconv.FormatInt(priceFeedID, 10)
}
