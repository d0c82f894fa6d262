package models

import (
	"errors"

	"github.com/rewired-gh/polyledger/internal/odds"
)

// GuardParams is the anti-manipulation register. It is read once per
// operation and never changes while an operation is being applied.
type GuardParams struct {
	MaxPriceDelta   odds.Price `json:"max_price_delta_ppm"`
	CooldownMs      uint64     `json:"cooldown_ms"`
	MinStake        Amount     `json:"min_stake"`
	EnforceMinStake bool       `json:"enforce_min_stake"`

	// BootstrapLiquidity exempts a market from the velocity cap while its
	// total pool is below this amount. Zero disables the exemption, in which
	// case the first one-sided stake on an empty market always trips the cap.
	BootstrapLiquidity Amount `json:"bootstrap_liquidity"`
}

// DefaultGuardParams returns the stock parameters: 15% velocity cap,
// 5 second cooldown and a 1000 unit stake floor that is not enforced.
func DefaultGuardParams() GuardParams {
	return GuardParams{
		MaxPriceDelta: 150_000,
		CooldownMs:    5_000,
		MinStake:      NewAmount(1_000),
	}
}

// Validate checks that all parameters are within range.
func (p *GuardParams) Validate() error {
	if p.MaxPriceDelta <= 0 || p.MaxPriceDelta > odds.Scale {
		return errors.New("max price delta must be in (0, 1]")
	}
	if p.EnforceMinStake && p.MinStake.IsZero() {
		return errors.New("min stake must be positive when enforced")
	}
	return nil
}
