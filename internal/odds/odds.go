// Package odds turns pooled stake totals into an implied yes/no price pair.
//
// Prices are fixed-point integers in parts per million so that every
// re-execution of the same operation produces bit-identical results.
// Float conversions exist only for display.
package odds

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Scale is the fixed-point denominator: a Price of Scale means probability 1.
const Scale = 1_000_000

// Price is an implied probability in parts per million (0..Scale).
type Price int64

// Pair is the implied price of each side. Yes + No == Scale.
type Pair struct {
	Yes Price `json:"yes"`
	No  Price `json:"no"`
}

// Even is returned for an empty pool.
var Even = Pair{Yes: Scale / 2, No: Scale / 2}

var scale = uint256.NewInt(Scale)

// FromFraction converts a fraction such as 0.15 to a Price.
// Only used at the configuration boundary.
func FromFraction(f float64) Price {
	return Price(math.Round(f * Scale))
}

// Float64 returns the price as a fraction in [0, 1].
func (p Price) Float64() float64 {
	return float64(p) / Scale
}

func (p Price) String() string {
	return fmt.Sprintf("%.6f", p.Float64())
}

// Abs returns the absolute value of p.
func (p Price) Abs() Price {
	if p < 0 {
		return -p
	}
	return p
}

// Calculate returns the price pair for the given pools. An empty pool yields Even.
// The yes price is floor(poolYes * Scale / total) and no takes the remainder.
func Calculate(poolYes, poolNo *uint256.Int) Pair {
	yes, no := poolYes, poolNo
	total, overflow := new(uint256.Int).AddOverflow(yes, no)
	if overflow {
		// Halving both sides keeps the ratio to well within one ppm.
		yes = new(uint256.Int).Rsh(poolYes, 1)
		no = new(uint256.Int).Rsh(poolNo, 1)
		total = new(uint256.Int).Add(yes, no)
	}
	if total.IsZero() {
		return Even
	}

	share, _ := new(uint256.Int).MulDivOverflow(yes, scale, total)
	y := Price(share.Uint64())
	return Pair{Yes: y, No: Scale - y}
}
