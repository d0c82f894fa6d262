package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rewired-gh/polyledger/internal/models"
	_ "modernc.org/sqlite"
)

const paramsKey = "guard_params"

// SQLite is a Store backed by a SQLite database file (or ":memory:").
// The pool is pinned to a single connection so that every UpdateMarket
// transaction is the sole writer for its duration.
type SQLite struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath.
func New(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS markets (
			event_id             TEXT PRIMARY KEY,
			description          TEXT NOT NULL,
			cutoff_ms            INTEGER NOT NULL,
			resolved             INTEGER NOT NULL DEFAULT 0,
			outcome              TEXT,
			pool_yes             TEXT NOT NULL,
			pool_no              TEXT NOT NULL,
			last_price_update_ms INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create markets table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create config table: %w", err)
	}

	return &SQLite{db: db}, nil
}

const selectMarket = `SELECT event_id, description, cutoff_ms, resolved, outcome,
	pool_yes, pool_no, last_price_update_ms FROM markets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (models.MarketState, error) {
	var (
		m                  models.MarketState
		cutoff, lastUpdate int64
		outcome            sql.NullString
		poolYes, poolNo    string
	)
	if err := row.Scan(&m.EventID, &m.Description, &cutoff, &m.Resolved, &outcome,
		&poolYes, &poolNo, &lastUpdate); err != nil {
		return models.MarketState{}, err
	}
	return MarketFromColumns(m, cutoff, lastUpdate, outcome.String, poolYes, poolNo)
}

// MarketFromColumns completes m from its column encoding: timestamps as
// signed integers, outcome as "YES"/"NO" (empty when unresolved) and pools as
// decimal strings. SQL backends share this layout.
func MarketFromColumns(m models.MarketState, cutoff, lastUpdate int64, outcome, poolYes, poolNo string) (models.MarketState, error) {
	var err error
	m.CutoffMs = uint64(cutoff)
	m.LastPriceUpdateMs = uint64(lastUpdate)
	if outcome != "" {
		side, err := models.ParseSide(outcome)
		if err != nil {
			return models.MarketState{}, fmt.Errorf("market %s: %w", m.EventID, err)
		}
		m.Outcome = &side
	}
	if m.PoolYes, err = models.ParseAmount(poolYes); err != nil {
		return models.MarketState{}, fmt.Errorf("market %s pool_yes: %w", m.EventID, err)
	}
	if m.PoolNo, err = models.ParseAmount(poolNo); err != nil {
		return models.MarketState{}, fmt.Errorf("market %s pool_no: %w", m.EventID, err)
	}
	return m, nil
}

func outcomeColumn(m *models.MarketState) sql.NullString {
	if m.Outcome == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.Outcome.String(), Valid: true}
}

// GetMarket retrieves a market by event ID
func (s *SQLite) GetMarket(ctx context.Context, eventID string) (models.MarketState, error) {
	m, err := scanMarket(s.db.QueryRowContext(ctx, selectMarket+" WHERE event_id = ?", eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.MarketState{}, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	if err != nil {
		return models.MarketState{}, fmt.Errorf("failed to get market %s: %w", eventID, err)
	}
	return m, nil
}

// CreateMarket inserts a new market
func (s *SQLite) CreateMarket(ctx context.Context, m models.MarketState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM markets WHERE event_id = ?", m.EventID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrConflict, m.EventID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check market %s: %w", m.EventID, err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO markets (event_id, description, cutoff_ms, resolved,
			outcome, pool_yes, pool_no, last_price_update_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.EventID, m.Description, int64(m.CutoffMs), m.Resolved, outcomeColumn(&m),
			m.PoolYes.String(), m.PoolNo.String(), int64(m.LastPriceUpdateMs))
		if err != nil {
			return fmt.Errorf("failed to insert market %s: %w", m.EventID, err)
		}
		return nil
	})
}

// UpdateMarket applies fn to the stored market inside a transaction
func (s *SQLite) UpdateMarket(ctx context.Context, eventID string, fn UpdateFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMarket(tx.QueryRowContext(ctx, selectMarket+" WHERE event_id = ?", eventID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, eventID)
		}
		if err != nil {
			return fmt.Errorf("failed to load market %s: %w", eventID, err)
		}

		if err := fn(&m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid market: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE markets SET description = ?, cutoff_ms = ?, resolved = ?,
			outcome = ?, pool_yes = ?, pool_no = ?, last_price_update_ms = ? WHERE event_id = ?`,
			m.Description, int64(m.CutoffMs), m.Resolved, outcomeColumn(&m),
			m.PoolYes.String(), m.PoolNo.String(), int64(m.LastPriceUpdateMs), eventID)
		if err != nil {
			return fmt.Errorf("failed to update market %s: %w", eventID, err)
		}
		return nil
	})
}

// ListMarkets returns a page of markets ordered by event ID
func (s *SQLite) ListMarkets(ctx context.Context, limit int, cursor string) ([]models.MarketState, error) {
	query := selectMarket + " WHERE event_id > ? ORDER BY event_id ASC"
	args := []any{cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	defer rows.Close()

	markets := make([]models.MarketState, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return markets, nil
}

// GetParams returns the parameter register
func (s *SQLite) GetParams(ctx context.Context) (models.GuardParams, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", paramsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GuardParams{}, false, nil
	}
	if err != nil {
		return models.GuardParams{}, false, fmt.Errorf("failed to read params: %w", err)
	}

	var p models.GuardParams
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return models.GuardParams{}, false, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, true, nil
}

// PutParams replaces the parameter register
func (s *SQLite) PutParams(ctx context.Context, p models.GuardParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		paramsKey, string(value))
	if err != nil {
		return fmt.Errorf("failed to write params: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ Store = (*SQLite)(nil)
