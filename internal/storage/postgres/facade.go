package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/shopspring/decimal"
)

// productJSON/priceFeedJSON are the jsonb payload shapes for product_data
// and price_feed_data (spec §6.1): everything about the polymorphic record
// except the columns already broken out (product_key, chain, price_feed_id).
type productJSON struct {
	Type                 chainmodel.ProductType `json:"type"`
	ContractAddress      string                 `json:"contract_address"`
	ContractCreatedDate  int64                  `json:"contract_created_date"`
	VaultDecimals        int32                  `json:"vault_decimals,omitempty"`
	IsGovVault           bool                   `json:"is_gov_vault,omitempty"`
	TokenAddress         string                 `json:"token_address,omitempty"`
	TokenDecimals        int32                  `json:"token_decimals,omitempty"`
	StakedVaultProductID int64                  `json:"staked_vault_product_id,omitempty"`
}

type priceFeedJSON struct {
	Active bool `json:"active"`
}

type investmentJSON struct {
	BlockNumber     int64  `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// UpsertPricePoints implements storage.Facade. Rows are keyed
// (price_feed_id, block_number, datetime); price overwrites on conflict
// per spec §6.1 ("numeric fields overwrite").
func (db *DB) UpsertPricePoints(ctx context.Context, points []chainmodel.PricePoint) error {
	table := db.SchemaTable("price_ts")
	for _, p := range points {
		if err := db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (price_feed_id, block_number, datetime, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (price_feed_id, block_number, datetime) DO UPDATE SET price = EXCLUDED.price
		`, table), p.PriceFeedID, p.BlockNumber, fromMillis(p.Datetime), p.Price); err != nil {
			return classifyPgErr(err)
		}
	}
	return nil
}

// UpsertInvestments implements storage.Facade, resolving each owner
// address to its investor_id (inserting on first sight) before writing
// investment_ts.
func (db *DB) UpsertInvestments(ctx context.Context, investments []chainmodel.Investment) error {
	table := db.SchemaTable("investment_ts")
	for _, inv := range investments {
		investorID, err := db.resolveInvestorID(ctx, inv.InvestorID)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(investmentJSON{BlockNumber: inv.Data.BlockNumber, TransactionHash: inv.Data.TransactionHash})
		if err != nil {
			return fmt.Errorf("postgres: encode investment_data: %w", err)
		}

		if err := db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (investor_id, product_id, datetime, balance, investment_data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (investor_id, product_id, datetime) DO UPDATE SET balance = EXCLUDED.balance, investment_data = EXCLUDED.investment_data
		`, table), investorID, inv.ProductID, fromMillis(inv.Datetime), inv.Balance, raw); err != nil {
			return classifyPgErr(err)
		}
	}
	return nil
}

// resolveInvestorID looks up or creates the investor row for an address
// (spec §6.1's investor table exists precisely so investment_ts doesn't
// repeat addresses).
func (db *DB) resolveInvestorID(ctx context.Context, address string) (int64, error) {
	table := db.SchemaTable("investor")
	var id int64
	err := db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING investor_id
	`, table), address).Scan(&id)
	if err != nil {
		return 0, classifyPgErr(err)
	}
	return id, nil
}

// LastInvestmentBalance implements storage.Facade: the most recent balance
// for (productID, investorAddress) strictly before beforeBlock, read back
// off investment_data.block_number rather than datetime, since block
// number is what callers compare against.
func (db *DB) LastInvestmentBalance(ctx context.Context, productID int64, investorAddress string, beforeBlock int64) (decimal.Decimal, bool, error) {
	investment := db.SchemaTable("investment_ts")
	investor := db.SchemaTable("investor")

	var balance decimal.Decimal
	err := db.QueryRow(ctx, fmt.Sprintf(`
		SELECT i.balance
		FROM %s i
		JOIN %s v ON v.investor_id = i.investor_id
		WHERE i.product_id = $1 AND v.address = $2 AND (i.investment_data ->> 'block_number')::bigint < $3
		ORDER BY (i.investment_data ->> 'block_number')::bigint DESC
		LIMIT 1
	`, investment, investor), productID, investorAddress, beforeBlock).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, classifyPgErr(err)
	}
	return balance, true, nil
}

// UpsertProducts and UpsertPriceFeeds implement storage.Facade's discovery
// registration path (spec §1: discovery itself is out of scope, but the
// engine still needs somewhere to write records discovery hands it).
func (db *DB) UpsertProducts(ctx context.Context, products []chainmodel.Product) error {
	table := db.SchemaTable("product")
	for _, p := range products {
		raw, err := json.Marshal(productJSON{
			Type:                 p.Data.Type,
			ContractAddress:      p.Data.ContractAddress,
			ContractCreatedDate:  p.Data.ContractCreatedDate,
			VaultDecimals:        p.Data.VaultDecimals,
			IsGovVault:           p.Data.IsGovVault,
			TokenAddress:         p.Data.TokenAddress,
			TokenDecimals:        p.Data.TokenDecimals,
			StakedVaultProductID: p.Data.StakedVaultProductID,
		})
		if err != nil {
			return fmt.Errorf("postgres: encode product_data: %w", err)
		}

		if err := db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (product_id, product_key, chain, price_feed_id, product_data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (product_key) DO UPDATE SET chain = EXCLUDED.chain, price_feed_id = EXCLUDED.price_feed_id, product_data = jsonb_merge(%s.product_data, EXCLUDED.product_data)
		`, table, table), nullIfZero(p.ProductID), p.ProductKey, p.Chain, p.PriceFeedID, raw); err != nil {
			return classifyPgErr(err)
		}
	}
	return nil
}

func (db *DB) UpsertPriceFeeds(ctx context.Context, feeds []chainmodel.PriceFeed) error {
	table := db.SchemaTable("price_feed")
	for _, f := range feeds {
		raw, err := json.Marshal(priceFeedJSON{Active: f.Data.Active})
		if err != nil {
			return fmt.Errorf("postgres: encode price_feed_data: %w", err)
		}

		if err := db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (price_feed_id, feed_key, from_asset_key, to_asset_key, price_feed_data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (feed_key) DO UPDATE SET from_asset_key = EXCLUDED.from_asset_key, to_asset_key = EXCLUDED.to_asset_key, price_feed_data = jsonb_merge(%s.price_feed_data, EXCLUDED.price_feed_data)
		`, table, table), nullIfZero(f.PriceFeedID), f.FeedKey, f.FromAssetKey, f.ToAssetKey, raw); err != nil {
			return classifyPgErr(err)
		}
	}
	return nil
}

// ListProducts and ListPriceFeeds implement the read path the pipeline
// factory ticks on (spec §4.8).
func (db *DB) ListProducts(ctx context.Context) ([]chainmodel.Product, error) {
	rows, err := db.Query(ctx, fmt.Sprintf(
		`SELECT product_id, product_key, chain, price_feed_id, product_data FROM %s`,
		db.SchemaTable("product"),
	))
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var out []chainmodel.Product
	for rows.Next() {
		var p chainmodel.Product
		var raw []byte
		if err := rows.Scan(&p.ProductID, &p.ProductKey, &p.Chain, &p.PriceFeedID, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		var j productJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("postgres: decode product_data for %s: %w", p.ProductKey, err)
		}
		p.Data = chainmodel.ProductData{
			Type:                 j.Type,
			ContractAddress:      j.ContractAddress,
			ContractCreatedDate:  j.ContractCreatedDate,
			VaultDecimals:        j.VaultDecimals,
			IsGovVault:           j.IsGovVault,
			TokenAddress:         j.TokenAddress,
			TokenDecimals:        j.TokenDecimals,
			StakedVaultProductID: j.StakedVaultProductID,
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) ListPriceFeeds(ctx context.Context) ([]chainmodel.PriceFeed, error) {
	rows, err := db.Query(ctx, fmt.Sprintf(
		`SELECT price_feed_id, feed_key, from_asset_key, to_asset_key, price_feed_data FROM %s`,
		db.SchemaTable("price_feed"),
	))
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var out []chainmodel.PriceFeed
	for rows.Next() {
		var f chainmodel.PriceFeed
		var raw []byte
		if err := rows.Scan(&f.PriceFeedID, &f.FeedKey, &f.FromAssetKey, &f.ToAssetKey, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan price_feed: %w", err)
		}
		var j priceFeedJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("postgres: decode price_feed_data for %s: %w", f.FeedKey, err)
		}
		f.Data = chainmodel.PriceFeedData{Active: j.Active}
		out = append(out, f)
	}
	return out, rows.Err()
}

// nullIfZero lets an upsert provide no explicit serial id, so Postgres
// assigns one on first insert while ON CONFLICT still matches by the
// unique business key.
func nullIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
