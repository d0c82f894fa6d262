// Package storage persists market state for the polyledger engine.
//
// A Store maps event identifiers to MarketState records and holds the
// anti-manipulation parameter register. UpdateMarket is the only way to
// change an existing market: the callback runs against a private copy and
// its result is committed atomically only if the callback returns nil, so a
// rejected operation never leaves a partial write behind.
//
// SQLite (the default) and Memory live in this package; Postgres and Redis
// backends live in sub-packages and share the sentinel errors defined here.
package storage

import (
	"context"
	"errors"

	"github.com/rewired-gh/polyledger/internal/models"
)

var (
	// ErrNotFound is returned when no market exists for an event ID.
	ErrNotFound = errors.New("market not found")
	// ErrConflict is returned when creating a market whose event ID is taken.
	ErrConflict = errors.New("market already exists")
)

// UpdateFunc mutates a market in place. Returning an error aborts the update.
type UpdateFunc func(m *models.MarketState) error

// Store is the persistence contract required by the market engine.
type Store interface {
	// GetMarket returns the market for eventID or ErrNotFound.
	GetMarket(ctx context.Context, eventID string) (models.MarketState, error)
	// CreateMarket inserts a new market or returns ErrConflict.
	CreateMarket(ctx context.Context, m models.MarketState) error
	// UpdateMarket atomically applies fn to the stored market.
	UpdateMarket(ctx context.Context, eventID string, fn UpdateFunc) error
	// ListMarkets returns up to limit markets with event ID strictly greater
	// than cursor, ordered by event ID.
	ListMarkets(ctx context.Context, limit int, cursor string) ([]models.MarketState, error)
	// GetParams returns the parameter register and whether it has been set.
	GetParams(ctx context.Context) (models.GuardParams, bool, error)
	// PutParams replaces the parameter register.
	PutParams(ctx context.Context, p models.GuardParams) error
	Close() error
}
