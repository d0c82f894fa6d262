// Package guard implements the anti-manipulation gates applied to every stake
// before it is committed: a cap on how far one stake may move the implied
// price, and a minimum interval between price-moving stakes on a market.
//
// Both checks are pure. They read the stored market state and the proposed
// pools and report a typed failure; neither mutates anything.
package guard

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/odds"
)

var (
	// ErrVelocityExceeded is wrapped by every *VelocityError.
	ErrVelocityExceeded = errors.New("price velocity exceeded")
	// ErrCooldownActive is wrapped by every *CooldownError.
	ErrCooldownActive = errors.New("cooldown active")
)

// VelocityError reports a stake that would move the yes price beyond the cap.
type VelocityError struct {
	Current  odds.Price
	Proposed odds.Price
	Cap      odds.Price
}

func (e *VelocityError) Error() string {
	return fmt.Sprintf("price velocity exceeded: yes price %s -> %s moves more than %s",
		e.Current, e.Proposed, e.Cap)
}

func (e *VelocityError) Unwrap() error { return ErrVelocityExceeded }

// CooldownError reports a stake arriving before the cooldown elapsed.
type CooldownError struct {
	RemainingMs uint64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %dms remaining", e.RemainingMs)
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// CheckPriceVelocity fails when the yes price implied by the proposed pools
// differs from the stored price by more than params.MaxPriceDelta.
// A delta exactly at the cap passes. An all-zero proposal is always allowed.
func CheckPriceVelocity(state *models.MarketState, proposedYes, proposedNo models.Amount, params models.GuardParams) error {
	if proposedYes.IsZero() && proposedNo.IsZero() {
		return nil
	}

	current := state.Odds().Yes
	proposed := odds.Calculate(proposedYes.Int(), proposedNo.Int()).Yes

	if (proposed - current).Abs() > params.MaxPriceDelta {
		return &VelocityError{Current: current, Proposed: proposed, Cap: params.MaxPriceDelta}
	}
	return nil
}

// CheckCooldown fails when fewer than params.CooldownMs milliseconds have
// passed since the last accepted stake. A market that was never updated is
// exempt, and a clock running backwards counts as zero elapsed.
func CheckCooldown(state *models.MarketState, nowMs uint64, params models.GuardParams) error {
	if state.LastPriceUpdateMs == 0 {
		return nil
	}

	var elapsed uint64
	if nowMs > state.LastPriceUpdateMs {
		elapsed = nowMs - state.LastPriceUpdateMs
	}

	if elapsed < params.CooldownMs {
		return &CooldownError{RemainingMs: params.CooldownMs - elapsed}
	}
	return nil
}
