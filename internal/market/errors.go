package market

import (
	"errors"

	"github.com/rewired-gh/polyledger/internal/guard"
	"github.com/rewired-gh/polyledger/internal/storage"
)

// Rejection reasons. Every failed operation wraps exactly one of these, so
// callers can branch with errors.Is.
var (
	ErrNotFound         = storage.ErrNotFound
	ErrConflict         = storage.ErrConflict
	ErrVelocityExceeded = guard.ErrVelocityExceeded
	ErrCooldownActive   = guard.ErrCooldownActive

	ErrMarketClosed     = errors.New("market closed")
	ErrAlreadyResolved  = errors.New("market already resolved")
	ErrNotClosed        = errors.New("market not closed")
	ErrInvalidSide      = errors.New("invalid side")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrBelowMinStake    = errors.New("stake below minimum")
	ErrInvalidMarket    = errors.New("invalid market")
	ErrInvalidParams    = errors.New("invalid params")
	ErrUnknownOperation = errors.New("unknown operation")
)
