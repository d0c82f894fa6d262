package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is a non-negative stake quantity. It is backed by a 256-bit unsigned
// integer so cumulative pools cannot overflow under realistic load, and it is
// serialized as a decimal string.
type Amount struct {
	n uint256.Int
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	var a Amount
	a.n.SetUint64(v)
	return a
}

// AmountFromInt copies x into an Amount.
func AmountFromInt(x *uint256.Int) Amount {
	var a Amount
	a.n.Set(x)
	return a
}

// ParseAmount parses a base-10 string such as "5000".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("amount must not be empty")
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Amount{}, fmt.Errorf("amount %q must be an unsigned integer", s)
	}
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return AmountFromInt(x), nil
}

// Int returns a copy of the underlying integer.
func (a Amount) Int() *uint256.Int {
	return new(uint256.Int).Set(&a.n)
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.n.IsZero()
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.n.Cmp(&b.n)
}

// Add returns a+b and whether the sum overflowed 256 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	var sum Amount
	_, overflow := sum.n.AddOverflow(&a.n, &b.n)
	return sum, overflow
}

func (a Amount) String() string {
	return a.n.Dec()
}

// MarshalText encodes the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.n.Dec()), nil
}

// UnmarshalText accepts a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
