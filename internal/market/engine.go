// Package market implements the market lifecycle: creating a market,
// accepting stakes through the anti-manipulation guard, and resolving it.
//
// A market is Open while unresolved and now < cutoff, Closed once now reaches
// the cutoff, and Resolved after Resolve succeeds. Closed is never stored; it
// is evaluated against the caller-supplied timestamp on every operation.
//
// Every mutation runs inside storage.Store.UpdateMarket, so all checks and the
// write form one atomic unit per market and a rejection leaves no trace.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyledger/internal/guard"
	"github.com/rewired-gh/polyledger/internal/logger"
	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/odds"
	"github.com/rewired-gh/polyledger/internal/storage"
)

const (
	// DefaultPageSize is used when Markets is called with a non-positive limit.
	DefaultPageSize = 50
	// MaxPageSize caps a single Markets page.
	MaxPageSize = 500
)

// Observer is notified about notable outcomes after they are final.
// Calls happen outside the storage transaction.
type Observer interface {
	StakeRejected(m models.MarketState, err error, nowMs uint64)
	MarketResolved(m models.MarketState, nowMs uint64)
}

// Receipt describes a committed operation.
type Receipt struct {
	ID          string               `json:"id"`
	Kind        models.OperationKind `json:"kind"`
	EventID     string               `json:"event_id"`
	AppliedAtMs uint64               `json:"applied_at_ms"`
	Odds        odds.Pair            `json:"odds"`
}

// Quote is the live price of a market.
type Quote struct {
	EventID      string     `json:"event_id"`
	Yes          odds.Price `json:"yes"`
	No           odds.Price `json:"no"`
	LastUpdateMs uint64     `json:"last_update_ms"`
}

// Engine applies operations against a Store.
type Engine struct {
	store              storage.Store
	defaults           models.GuardParams
	observer           Observer
	resolveAfterCutoff bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer for rejections and resolutions.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithResolveAfterCutoff controls whether Resolve requires the market to be
// past its cutoff. It is on by default.
func WithResolveAfterCutoff(on bool) Option {
	return func(e *Engine) { e.resolveAfterCutoff = on }
}

// New creates an Engine. defaults is used whenever the store holds no
// parameter register.
func New(store storage.Store, defaults models.GuardParams, opts ...Option) *Engine {
	e := &Engine{
		store:              store,
		defaults:           defaults,
		resolveAfterCutoff: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the parameter register, falling back to the defaults.
func (e *Engine) Params(ctx context.Context) (models.GuardParams, error) {
	p, ok, err := e.store.GetParams(ctx)
	if err != nil {
		return models.GuardParams{}, fmt.Errorf("failed to load params: %w", err)
	}
	if !ok {
		return e.defaults, nil
	}
	return p, nil
}

// SetParams replaces the parameter register. This is the administrative path;
// callers are expected to have authorized it.
func (e *Engine) SetParams(ctx context.Context, p models.GuardParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := e.store.PutParams(ctx, p); err != nil {
		return fmt.Errorf("failed to store params: %w", err)
	}
	logger.Info("Guard params updated: max delta %s, cooldown %dms, min stake %s (enforced=%t)",
		p.MaxPriceDelta, p.CooldownMs, p.MinStake, p.EnforceMinStake)
	return nil
}

// CreateMarket opens a new market with empty pools.
func (e *Engine) CreateMarket(ctx context.Context, eventID, description string, cutoffMs, nowMs uint64) (Receipt, error) {
	switch {
	case eventID == "":
		return Receipt{}, fmt.Errorf("%w: event ID must not be empty", ErrInvalidMarket)
	case len(eventID) > models.MaxEventIDLength:
		return Receipt{}, fmt.Errorf("%w: event ID longer than %d bytes", ErrInvalidMarket, models.MaxEventIDLength)
	case cutoffMs <= nowMs:
		return Receipt{}, fmt.Errorf("%w: cutoff %d is not after now %d", ErrInvalidMarket, cutoffMs, nowMs)
	}

	m := models.NewMarket(eventID, description, cutoffMs)
	if err := m.Validate(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidMarket, err)
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		logger.Warn("Rejected market %s: %v", eventID, err)
		return Receipt{}, err
	}

	logger.Info("Created market %s (cutoff %d)", eventID, cutoffMs)
	return newReceipt(models.OpCreateMarket, m, nowMs), nil
}

// Stake adds amount to one side of a market. The market must be open, the
// amount positive, and the resulting price move must pass the guard.
func (e *Engine) Stake(ctx context.Context, eventID string, side models.Side, amount models.Amount, nowMs uint64) (Receipt, error) {
	if !side.Valid() {
		return Receipt{}, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	}
	if amount.IsZero() {
		return Receipt{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	params, err := e.Params(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if params.EnforceMinStake && amount.Cmp(params.MinStake) < 0 {
		return Receipt{}, fmt.Errorf("%w: %s < %s", ErrBelowMinStake, amount, params.MinStake)
	}

	var seen models.MarketState
	err = e.store.UpdateMarket(ctx, eventID, func(m *models.MarketState) error {
		seen = m.Clone()
		return applyStake(m, side, amount, nowMs, params)
	})
	if err != nil {
		logger.Warn("Rejected stake of %s on %s %s: %v", amount, eventID, side, err)
		if e.observer != nil && isGuardRejection(err) {
			e.observer.StakeRejected(seen, err, nowMs)
		}
		return Receipt{}, err
	}

	seen.PoolYes, seen.PoolNo = proposedPools(seen, side, amount)
	seen.LastPriceUpdateMs = nowMs
	logger.Info("Accepted stake of %s on %s %s", amount, eventID, side)
	return newReceipt(models.OpStake, seen, nowMs), nil
}

// applyStake runs every check against the stored state and mutates it only
// when all of them pass.
func applyStake(m *models.MarketState, side models.Side, amount models.Amount, nowMs uint64, params models.GuardParams) error {
	if m.Resolved {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, m.EventID)
	}
	if m.IsClosed(nowMs) {
		return fmt.Errorf("%w: %s closed at %d", ErrMarketClosed, m.EventID, m.CutoffMs)
	}

	yes, no := m.PoolYes, m.PoolNo
	var overflow bool
	if side == models.SideYes {
		yes, overflow = yes.Add(amount)
	} else {
		no, overflow = no.Add(amount)
	}
	if overflow {
		return fmt.Errorf("%w: pool overflow", ErrInvalidAmount)
	}
	if _, overflow = yes.Add(no); overflow {
		return fmt.Errorf("%w: pool overflow", ErrInvalidAmount)
	}

	if !bootstrapping(m, params) {
		if err := guard.CheckPriceVelocity(m, yes, no, params); err != nil {
			return err
		}
	}
	if err := guard.CheckCooldown(m, nowMs, params); err != nil {
		return err
	}

	m.PoolYes, m.PoolNo = yes, no
	m.LastPriceUpdateMs = nowMs
	return nil
}

// bootstrapping reports whether the market's total pool is still below the
// bootstrap liquidity threshold.
func bootstrapping(m *models.MarketState, params models.GuardParams) bool {
	if params.BootstrapLiquidity.IsZero() {
		return false
	}
	total, overflow := m.PoolYes.Add(m.PoolNo)
	return !overflow && total.Cmp(params.BootstrapLiquidity) < 0
}

func proposedPools(m models.MarketState, side models.Side, amount models.Amount) (models.Amount, models.Amount) {
	if side == models.SideYes {
		yes, _ := m.PoolYes.Add(amount)
		return yes, m.PoolNo
	}
	no, _ := m.PoolNo.Add(amount)
	return m.PoolYes, no
}

func isGuardRejection(err error) bool {
	return errors.Is(err, ErrVelocityExceeded) || errors.Is(err, ErrCooldownActive)
}

// Resolve assigns the winning side. It succeeds at most once per market.
func (e *Engine) Resolve(ctx context.Context, eventID string, outcome models.Side, nowMs uint64) (Receipt, error) {
	if !outcome.Valid() {
		return Receipt{}, fmt.Errorf("%w: %d", ErrInvalidSide, outcome)
	}

	var resolved models.MarketState
	err := e.store.UpdateMarket(ctx, eventID, func(m *models.MarketState) error {
		if m.Resolved {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, m.EventID)
		}
		if e.resolveAfterCutoff && !m.IsClosed(nowMs) {
			return fmt.Errorf("%w: %s cuts off at %d", ErrNotClosed, m.EventID, m.CutoffMs)
		}
		o := outcome
		m.Resolved = true
		m.Outcome = &o
		resolved = m.Clone()
		return nil
	})
	if err != nil {
		logger.Warn("Rejected resolution of %s: %v", eventID, err)
		return Receipt{}, err
	}

	logger.Info("Resolved market %s: %s", eventID, outcome)
	if e.observer != nil {
		e.observer.MarketResolved(resolved, nowMs)
	}
	return newReceipt(models.OpResolve, resolved, nowMs), nil
}

// Apply parses and dispatches an operation envelope.
func (e *Engine) Apply(ctx context.Context, op models.Operation, nowMs uint64) (Receipt, error) {
	switch op.Kind {
	case models.OpCreateMarket:
		return e.CreateMarket(ctx, op.EventID, op.Description, op.CutoffMs, nowMs)

	case models.OpStake:
		side, err := models.ParseSide(op.Side)
		if err != nil {
			return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidSide, err)
		}
		amount, err := models.ParseAmount(op.Amount)
		if err != nil {
			return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return e.Stake(ctx, op.EventID, side, amount, nowMs)

	case models.OpResolve:
		outcome, err := models.ParseSide(op.Outcome)
		if err != nil {
			return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidSide, err)
		}
		return e.Resolve(ctx, op.EventID, outcome, nowMs)

	default:
		return Receipt{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Kind)
	}
}

func newReceipt(kind models.OperationKind, m models.MarketState, nowMs uint64) Receipt {
	return Receipt{
		ID:          uuid.New().String(),
		Kind:        kind,
		EventID:     m.EventID,
		AppliedAtMs: nowMs,
		Odds:        m.Odds(),
	}
}
