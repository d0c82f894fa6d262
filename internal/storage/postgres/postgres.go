// Package postgres implements storage.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/storage"
)

const paramsKey = "guard_params"

const schema = `
CREATE TABLE IF NOT EXISTS markets (
	event_id             TEXT PRIMARY KEY,
	description          TEXT NOT NULL,
	cutoff_ms            BIGINT NOT NULL,
	resolved             BOOLEAN NOT NULL DEFAULT FALSE,
	outcome              TEXT,
	pool_yes             NUMERIC(78, 0) NOT NULL DEFAULT 0,
	pool_no              NUMERIC(78, 0) NOT NULL DEFAULT 0,
	last_price_update_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS polyledger_config (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL
);`

const selectMarket = `SELECT event_id, description, cutoff_ms, resolved, COALESCE(outcome, ''),
	pool_yes::text, pool_no::text, last_price_update_ms FROM markets`

// ClientConfig holds connection parameters for the PostgreSQL store.
type ClientConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// Store implements storage.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and applies the schema.
func New(ctx context.Context, cfg ClientConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

func scanMarket(row pgx.Row) (models.MarketState, error) {
	var (
		m                        models.MarketState
		cutoff, lastUpdate       int64
		outcome, poolYes, poolNo string
	)
	if err := row.Scan(&m.EventID, &m.Description, &cutoff, &m.Resolved, &outcome,
		&poolYes, &poolNo, &lastUpdate); err != nil {
		return models.MarketState{}, err
	}
	return storage.MarketFromColumns(m, cutoff, lastUpdate, outcome, poolYes, poolNo)
}

func outcomeColumn(m *models.MarketState) *string {
	if m.Outcome == nil {
		return nil
	}
	s := m.Outcome.String()
	return &s
}

// GetMarket retrieves a market by event ID.
func (s *Store) GetMarket(ctx context.Context, eventID string) (models.MarketState, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, selectMarket+" WHERE event_id = $1", eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MarketState{}, fmt.Errorf("%w: %s", storage.ErrNotFound, eventID)
	}
	if err != nil {
		return models.MarketState{}, fmt.Errorf("postgres: get market %s: %w", eventID, err)
	}
	return m, nil
}

// CreateMarket inserts a new market; an existing event ID yields storage.ErrConflict.
func (s *Store) CreateMarket(ctx context.Context, m models.MarketState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}

	const query = `
		INSERT INTO markets (
			event_id, description, cutoff_ms, resolved, outcome,
			pool_yes, pool_no, last_price_update_ms
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.EventID, m.Description, int64(m.CutoffMs), m.Resolved, outcomeColumn(&m),
		m.PoolYes.String(), m.PoolNo.String(), int64(m.LastPriceUpdateMs),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrConflict, m.EventID)
	}
	return nil
}

// UpdateMarket locks the row with SELECT ... FOR UPDATE, applies fn and
// writes the result back in the same transaction.
func (s *Store) UpdateMarket(ctx context.Context, eventID string, fn storage.UpdateFunc) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		m, err := scanMarket(tx.QueryRow(ctx, selectMarket+" WHERE event_id = $1 FOR UPDATE", eventID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, eventID)
		}
		if err != nil {
			return fmt.Errorf("postgres: load market %s: %w", eventID, err)
		}

		if err := fn(&m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid market: %w", err)
		}

		const query = `
			UPDATE markets SET
				description          = $2,
				cutoff_ms            = $3,
				resolved             = $4,
				outcome              = $5,
				pool_yes             = $6::numeric,
				pool_no              = $7::numeric,
				last_price_update_ms = $8
			WHERE event_id = $1`

		_, err = tx.Exec(ctx, query,
			eventID, m.Description, int64(m.CutoffMs), m.Resolved, outcomeColumn(&m),
			m.PoolYes.String(), m.PoolNo.String(), int64(m.LastPriceUpdateMs),
		)
		if err != nil {
			return fmt.Errorf("postgres: update market %s: %w", eventID, err)
		}
		return nil
	})
}

// ListMarkets returns markets after cursor ordered by event ID.
func (s *Store) ListMarkets(ctx context.Context, limit int, cursor string) ([]models.MarketState, error) {
	query := selectMarket + " WHERE event_id > $1 ORDER BY event_id ASC"
	args := []any{cursor}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets := make([]models.MarketState, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// GetParams returns the parameter register.
func (s *Store) GetParams(ctx context.Context) (models.GuardParams, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT value FROM polyledger_config WHERE key = $1", paramsKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GuardParams{}, false, nil
	}
	if err != nil {
		return models.GuardParams{}, false, fmt.Errorf("postgres: get params: %w", err)
	}

	var p models.GuardParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.GuardParams{}, false, fmt.Errorf("postgres: decode params: %w", err)
	}
	return p, true, nil
}

// PutParams replaces the parameter register.
func (s *Store) PutParams(ctx context.Context, p models.GuardParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: encode params: %w", err)
	}

	const query = `
		INSERT INTO polyledger_config (key, value) VALUES ($1, $2::jsonb)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.pool.Exec(ctx, query, paramsKey, string(raw)); err != nil {
		return fmt.Errorf("postgres: put params: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// withTx executes fn within a transaction.
// If fn returns an error, the transaction is rolled back.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
