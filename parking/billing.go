package parking

import (
	"time"

	"github.com/shopspring/decimal"
)

var nanosPerMinute = decimal.NewFromInt(int64(time.Minute))

// ComputeAmount returns the amount due for a stay from start to end.
// Elapsed time is measured in fractional minutes and clamped at zero, so a
// skewed clock (end before start) bills nothing instead of failing. The
// result is rounded half-to-even to two decimal places.
func ComputeAmount(start, end time.Time, pricePerMinute decimal.Decimal) decimal.Decimal {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return decimal.Zero.Round(2)
	}
	minutes := decimal.NewFromInt(int64(elapsed)).Div(nanosPerMinute)
	return minutes.Mul(pricePerMinute).RoundBank(2)
}
