package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/rangeset"
)

// stateJSON is the on-disk shape of import_state.import_data: every State
// field except ImportKey, which lives in its own PK column.
type stateJSON struct {
	Type                   importstate.Type `json:"type"`
	ProductID              int64            `json:"product_id,omitempty"`
	PriceFeedID            int64            `json:"price_feed_id,omitempty"`
	Chain                  string           `json:"chain,omitempty"`
	ContractCreatedAtBlock int64            `json:"contract_created_at_block,omitempty"`
	ContractCreationDate   int64            `json:"contract_creation_date,omitempty"`
	ChainLatestBlockNumber int64            `json:"chain_latest_block_number,omitempty"`
	FirstDate              int64            `json:"first_date,omitempty"`
	Covered                []rangeJSON      `json:"covered_ranges,omitempty"`
	ToRetry                []rangeJSON      `json:"to_retry,omitempty"`
	LastImportDate         int64            `json:"last_import_date,omitempty"`
}

type rangeJSON struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func toStateJSON(s importstate.State) stateJSON {
	return stateJSON{
		Type:                   s.Type,
		ProductID:              s.ProductID,
		PriceFeedID:            s.PriceFeedID,
		Chain:                  s.Chain,
		ContractCreatedAtBlock: s.ContractCreatedAtBlock,
		ContractCreationDate:   s.ContractCreationDate,
		ChainLatestBlockNumber: s.ChainLatestBlockNumber,
		FirstDate:              s.FirstDate,
		Covered:                toRangeJSON(s.Ranges.Covered),
		ToRetry:                toRangeJSON(s.Ranges.ToRetry),
		LastImportDate:         s.LastImportDate,
	}
}

func (j stateJSON) toState(importKey string) importstate.State {
	return importstate.State{
		ImportKey:              importKey,
		Type:                   j.Type,
		ProductID:              j.ProductID,
		PriceFeedID:            j.PriceFeedID,
		Chain:                  j.Chain,
		ContractCreatedAtBlock: j.ContractCreatedAtBlock,
		ContractCreationDate:   j.ContractCreationDate,
		ChainLatestBlockNumber: j.ChainLatestBlockNumber,
		FirstDate:              j.FirstDate,
		Ranges:                 importstate.Ranges{Covered: fromRangeJSON(j.Covered), ToRetry: fromRangeJSON(j.ToRetry)},
		LastImportDate:         j.LastImportDate,
	}
}

func toRangeJSON(ranges []rangeset.Range) []rangeJSON {
	if ranges == nil {
		return nil
	}
	out := make([]rangeJSON, len(ranges))
	for i, r := range ranges {
		out[i] = rangeJSON{From: r.From, To: r.To}
	}
	return out
}

func fromRangeJSON(ranges []rangeJSON) []rangeset.Range {
	if ranges == nil {
		return nil
	}
	out := make([]rangeset.Range, len(ranges))
	for i, r := range ranges {
		out[i] = rangeset.Range{From: r.From, To: r.To}
	}
	return out
}

// Fetch implements importstate.Store.
func (db *DB) Fetch(ctx context.Context, keys []string) (map[string]importstate.State, error) {
	if len(keys) == 0 {
		return map[string]importstate.State{}, nil
	}

	rows, err := db.Query(ctx, fmt.Sprintf(
		`SELECT import_key, import_data FROM %s WHERE import_key = ANY($1)`,
		db.SchemaTable("import_state"),
	), keys)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	out := make(map[string]importstate.State, len(keys))
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan import_state: %w", err)
		}
		var j stateJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("postgres: decode import_state %s: %w", key, err)
		}
		out[key] = j.toState(key)
	}
	return out, rows.Err()
}

// Upsert implements importstate.Store: insert if absent, jsonb_merge the
// payload if present (spec §6.1's upsert semantics).
func (db *DB) Upsert(ctx context.Context, state importstate.State) error {
	raw, err := json.Marshal(toStateJSON(state))
	if err != nil {
		return fmt.Errorf("postgres: encode import_state %s: %w", state.ImportKey, err)
	}

	err = db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (import_key, import_data) VALUES ($1, $2)
		ON CONFLICT (import_key) DO UPDATE SET import_data = jsonb_merge(%s.import_data, EXCLUDED.import_data)
	`, db.SchemaTable("import_state"), db.SchemaTable("import_state")), state.ImportKey, raw)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// Update implements importstate.Store: locks the referenced rows in
// import_key order (spec §6.1: "FOR UPDATE on import_state keys sorted
// lexicographically to prevent deadlocks"), applies mergeFn per key inside
// the transaction, and writes the results back.
func (db *DB) Update(ctx context.Context, items []importstate.UpdateItem, mergeFn importstate.MergeFunc) error {
	grouped := importstate.GroupByKey(items)
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return classifyPgErr(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT import_key, import_data FROM %s WHERE import_key = ANY($1) ORDER BY import_key FOR UPDATE`,
		db.SchemaTable("import_state"),
	), keys)
	if err != nil {
		return classifyPgErr(err)
	}

	current := make(map[string]importstate.State, len(keys))
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan import_state for update: %w", err)
		}
		var j stateJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: decode import_state %s: %w", key, err)
		}
		current[key] = j.toState(key)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return rowsErr
	}

	for _, key := range keys {
		var currentPtr *importstate.State
		if s, ok := current[key]; ok {
			currentPtr = &s
		}

		next, err := mergeFn(grouped[key], currentPtr)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(toStateJSON(next))
		if err != nil {
			return fmt.Errorf("postgres: encode import_state %s: %w", key, err)
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (import_key, import_data) VALUES ($1, $2) ON CONFLICT (import_key) DO UPDATE SET import_data = $2`,
			db.SchemaTable("import_state"),
		), key, raw); err != nil {
			return classifyPgErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// classifyPgErr maps a driver error to importstate.ErrConnectionTimeout
// when it looks transient (deadline exceeded, network timeout), so
// UpdateWithRetry's backoff loop kicks in (spec §5: "ConnectionTimeoutError
// is retried up to 10 times"). Anything else is terminal.
func classifyPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", importstate.ErrConnectionTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", importstate.ErrConnectionTimeout, err)
	}
	return err
}
