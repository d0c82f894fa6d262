// Package models defines the domain entities of the polyledger market core.
// A MarketState is one binary-outcome market keyed by its event identifier;
// GuardParams is the process-wide anti-manipulation register.
//
// All models include validation so that every storage backend rejects
// records that would break the market invariants.
package models

import (
	"errors"
	"math"

	"github.com/rewired-gh/polyledger/internal/odds"
)

// MaxEventIDLength bounds event identifiers so they stay usable as storage keys.
const MaxEventIDLength = 128

// Status is the lifecycle state of a market at a given instant.
type Status string

const (
	// StatusOpen accepts stakes.
	StatusOpen Status = "open"
	// StatusClosed is past cutoff but not resolved. It is never stored.
	StatusClosed Status = "closed"
	// StatusResolved is terminal.
	StatusResolved Status = "resolved"
)

// MarketState is the stored record of a single market.
type MarketState struct {
	EventID           string `json:"event_id"`
	Description       string `json:"description"`
	CutoffMs          uint64 `json:"cutoff_ts"`
	Resolved          bool   `json:"resolved"`
	Outcome           *Side  `json:"outcome,omitempty"`
	PoolYes           Amount `json:"pool_yes"`
	PoolNo            Amount `json:"pool_no"`
	LastPriceUpdateMs uint64 `json:"last_price_update_ms"` // 0 means never updated
}

// NewMarket returns an open market with empty pools.
func NewMarket(eventID, description string, cutoffMs uint64) MarketState {
	return MarketState{
		EventID:     eventID,
		Description: description,
		CutoffMs:    cutoffMs,
	}
}

// Validate checks that all market fields are valid.
func (m *MarketState) Validate() error {
	if m.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if len(m.EventID) > MaxEventIDLength {
		return errors.New("event ID must be at most 128 bytes")
	}
	if m.CutoffMs == 0 {
		return errors.New("cutoff must be set")
	}
	if m.CutoffMs > math.MaxInt64 || m.LastPriceUpdateMs > math.MaxInt64 {
		return errors.New("timestamps must fit in a signed 64-bit integer")
	}
	if m.Resolved != (m.Outcome != nil) {
		return errors.New("outcome must be set if and only if the market is resolved")
	}
	if m.Outcome != nil && !m.Outcome.Valid() {
		return errors.New("outcome must be YES or NO")
	}
	return nil
}

// IsClosed reports whether staking is past cutoff at nowMs.
func (m *MarketState) IsClosed(nowMs uint64) bool {
	return nowMs >= m.CutoffMs
}

// Status derives the lifecycle state at nowMs.
func (m *MarketState) Status(nowMs uint64) Status {
	switch {
	case m.Resolved:
		return StatusResolved
	case m.IsClosed(nowMs):
		return StatusClosed
	default:
		return StatusOpen
	}
}

// Odds computes the current price pair from the pools.
func (m *MarketState) Odds() odds.Pair {
	return odds.Calculate(m.PoolYes.Int(), m.PoolNo.Int())
}

// Clone returns a deep copy.
func (m MarketState) Clone() MarketState {
	if m.Outcome != nil {
		o := *m.Outcome
		m.Outcome = &o
	}
	return m
}
