package mathutil

import (
	"github.com/shopspring/decimal"
)

func init() {
	decimal.DivisionPrecision = 16
}

// Share returns amount * weight / totalWeight rounded half up to the
// satoshi. A zero totalWeight results in a zero share.
func Share(amount, weight, totalWeight int64) int64 {
	if totalWeight <= 0 {
		return 0
	}
	return Factor(amount, totalWeight).
		Mul(decimal.NewFromInt(weight)).
		Round(0).
		IntPart()
}

// Factor returns the decimal amount / totalWeight.
func Factor(amount, totalWeight int64) decimal.Decimal {
	if totalWeight <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(totalWeight))
}

// RoundDiv returns x / y rounded half up.
func RoundDiv(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	return decimal.NewFromInt(x).Div(decimal.NewFromInt(y)).Round(0).IntPart()
}

// Max returns the greatest of the given values.
func Max(x int64, others ...int64) int64 {
	for _, y := range others {
		if y > x {
			x = y
		}
	}
	return x
}
