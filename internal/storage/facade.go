// Package storage defines the persistence facade spec §1 deliberately
// keeps thin: "the engine sees a persistence facade with upsert and
// range-query operations", with schema migration and raw SQL kept out of
// scope of the import engine itself. internal/storage/postgres implements
// this facade against the tables of spec §6.1.
package storage

import (
	"context"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/shopspring/decimal"
)

// Facade is the persistence boundary internal/pipeline writes through.
// Every Upsert* method is idempotent (ON CONFLICT DO UPDATE, spec §6.1);
// callers may safely resubmit a range after a partial failure.
type Facade interface {
	// UpsertPricePoints writes rows to price_ts, keyed by
	// (price_feed_id, block_number, datetime). Used for both on-chain PPFS
	// snapshots and off-chain oracle prices, distinguished by
	// PricePointData.Source.
	UpsertPricePoints(ctx context.Context, points []chainmodel.PricePoint) error

	// UpsertInvestments writes rows to investment_ts, keyed by
	// (investor_id, product_id, datetime). InvestorID on each Investment
	// is the owner address; the facade resolves it to a stable investor_id
	// via the investor table (spec §6.1), inserting a new row on first
	// sight.
	UpsertInvestments(ctx context.Context, investments []chainmodel.Investment) error

	// LastInvestmentBalance returns the most recent known balance for
	// (productID, investorAddress) strictly before beforeBlock, and the
	// block it was last observed at. ok is false when no prior balance is
	// known, in which case callers must treat the running balance as zero
	// (spec §4.7's gov-vault note: "balances derive from underlying
	// transfers" — there is no balanceOf to query, only the accumulated
	// transfer history).
	LastInvestmentBalance(ctx context.Context, productID int64, investorAddress string, beforeBlock int64) (balance decimal.Decimal, ok bool, err error)

	// UpsertProducts and UpsertPriceFeeds let discovery (out of scope, per
	// spec §1) register or update the records the engine imports against.
	UpsertProducts(ctx context.Context, products []chainmodel.Product) error
	UpsertPriceFeeds(ctx context.Context, feeds []chainmodel.PriceFeed) error

	// ListProducts and ListPriceFeeds are the "list live targets" read
	// path spec §4.8's pipeline factory ticks on.
	ListProducts(ctx context.Context) ([]chainmodel.Product, error)
	ListPriceFeeds(ctx context.Context) ([]chainmodel.PriceFeed, error)
}
