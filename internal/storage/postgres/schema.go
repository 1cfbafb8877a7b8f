package postgres

import (
	"context"
	"fmt"
)

// initImportState creates import_state(import_key PK, import_data jsonb)
// per spec §6.1, plus the jsonb_merge function that the upserts of jsonb
// payloads in this package call (import_state, product, price_feed; the
// price_ts and investment_ts upserts overwrite columns directly):
// payloads deep-merge, so a partial write (e.g. a
// DefaultState Upsert racing a concrete one) never clobbers fields the
// other write didn't touch.
func (db *DB) initImportState(ctx context.Context) error {
	if err := db.Exec(ctx, `
		CREATE OR REPLACE FUNCTION jsonb_merge(a jsonb, b jsonb) RETURNS jsonb AS $$
		SELECT CASE
			WHEN jsonb_typeof(a) = 'object' AND jsonb_typeof(b) = 'object' THEN
				(SELECT jsonb_object_agg(key, COALESCE(
					(SELECT jsonb_merge(a -> key, b -> key) WHERE a ? key AND b ? key),
					b -> key,
					a -> key
				))
				FROM (SELECT key FROM jsonb_each(a) UNION SELECT key FROM jsonb_each(b)) keys)
			ELSE b
		END
		$$ LANGUAGE sql IMMUTABLE;
	`); err != nil {
		return fmt.Errorf("create jsonb_merge: %w", err)
	}

	table := db.SchemaTable("import_state")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			import_key text PRIMARY KEY,
			import_data jsonb NOT NULL
		);
	`, table))
}

func (db *DB) initPriceFeed(ctx context.Context) error {
	table := db.SchemaTable("price_feed")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			price_feed_id serial PRIMARY KEY,
			feed_key text UNIQUE NOT NULL,
			from_asset_key text NOT NULL,
			to_asset_key text NOT NULL,
			price_feed_data jsonb NOT NULL DEFAULT '{}'::jsonb
		);
	`, table))
}

func (db *DB) initProduct(ctx context.Context) error {
	priceFeed := db.SchemaTable("price_feed")
	table := db.SchemaTable("product")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			product_id serial PRIMARY KEY,
			product_key text UNIQUE NOT NULL,
			chain text NOT NULL,
			price_feed_id int NOT NULL REFERENCES %s(price_feed_id),
			product_data jsonb NOT NULL DEFAULT '{}'::jsonb
		);

		CREATE INDEX IF NOT EXISTS idx_product_chain ON %s(chain);
	`, table, priceFeed, table))
}

func (db *DB) initInvestor(ctx context.Context) error {
	table := db.SchemaTable("investor")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			investor_id serial PRIMARY KEY,
			address text UNIQUE NOT NULL
		);
	`, table))
}

func (db *DB) initPriceTS(ctx context.Context) error {
	priceFeed := db.SchemaTable("price_feed")
	table := db.SchemaTable("price_ts")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			price_feed_id int NOT NULL REFERENCES %s(price_feed_id),
			block_number bigint NOT NULL DEFAULT 0,
			datetime timestamptz NOT NULL,
			price numeric NOT NULL,
			debug_data_uuid uuid,
			PRIMARY KEY (price_feed_id, block_number, datetime)
		);

		CREATE INDEX IF NOT EXISTS idx_price_ts_datetime ON %s(price_feed_id, datetime);
	`, table, priceFeed, table))
}

func (db *DB) initInvestmentTS(ctx context.Context) error {
	investor := db.SchemaTable("investor")
	product := db.SchemaTable("product")
	table := db.SchemaTable("investment_ts")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			investor_id int NOT NULL REFERENCES %s(investor_id),
			product_id int NOT NULL REFERENCES %s(product_id),
			datetime timestamptz NOT NULL,
			balance numeric NOT NULL,
			investment_data jsonb NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (investor_id, product_id, datetime)
		);

		CREATE INDEX IF NOT EXISTS idx_investment_ts_product ON %s(product_id, datetime);
	`, table, investor, product, table))
}

func (db *DB) initDebugDataTS(ctx context.Context) error {
	table := db.SchemaTable("debug_data_ts")
	return db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			debug_data_uuid uuid PRIMARY KEY,
			datetime timestamptz NOT NULL,
			origin_table text NOT NULL,
			debug_data jsonb NOT NULL
		);
	`, table))
}
