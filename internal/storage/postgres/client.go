// Package postgres implements importstate.Store and storage.Facade against
// a Postgres schema, grounded on the teacher's pkg/db/postgres/admin.DB
// pattern: a thin Client wrapping a pgxpool.Pool and a *zap.Logger, an
// InitializeDB that runs one initXxx per table, and SchemaTable for
// schema-qualified names (spec §6.1).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Client is the connection handle every table-specific file in this
// package embeds DB around.
type Client struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger
}

// New opens a pool against databaseURL and pings it once.
func New(ctx context.Context, logger *zap.Logger, databaseURL string) (Client, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return Client{}, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return Client{}, fmt.Errorf("postgres: ping: %w", err)
	}
	return Client{Pool: pool, Logger: logger}, nil
}

func (c Client) Close() {
	c.Pool.Close()
}

func (c Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.Pool.Exec(ctx, query, args...)
	return err
}

func (c Client) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return c.Pool.Query(ctx, query, args...)
}

func (c Client) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return c.Pool.QueryRow(ctx, query, args...)
}

// CreateSchemaIfNotExists mirrors admin.DB's namesake: every table in this
// package lives under a single schema, created once up front.
func (c Client) CreateSchemaIfNotExists(ctx context.Context, schema string) error {
	return c.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()))
}

// DB is the engine's handle into the schema of spec §6.1: import_state,
// price_feed, product, price_ts, investment_ts, investor.
type DB struct {
	Client
	Schema string
}

// NewDB opens a pool, creates the schema, and runs every initXxx below.
func NewDB(ctx context.Context, logger *zap.Logger, databaseURL, schema string) (*DB, error) {
	client, err := New(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client, Schema: schema}
	if err := db.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) SchemaTable(tableName string) string {
	return fmt.Sprintf("%s.%s", db.Schema, tableName)
}

// InitializeDB creates the schema and every table the engine reads or
// writes, in dependency order (investor before investment_ts, which
// references it).
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("initializing storage schema", zap.String("schema", db.Schema))

	if err := db.CreateSchemaIfNotExists(ctx, db.Schema); err != nil {
		return fmt.Errorf("create schema %s: %w", db.Schema, err)
	}

	inits := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"import_state", db.initImportState},
		{"price_feed", db.initPriceFeed},
		{"product", db.initProduct},
		{"investor", db.initInvestor},
		{"price_ts", db.initPriceTS},
		{"investment_ts", db.initInvestmentTS},
		{"debug_data_ts", db.initDebugDataTS},
	}
	for _, t := range inits {
		db.Logger.Debug("initializing table", zap.String("table", t.name))
		if err := t.fn(ctx); err != nil {
			return fmt.Errorf("init %s: %w", t.name, err)
		}
	}
	return nil
}
