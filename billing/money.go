package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred    = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
	zeroMoney  = decimal.New(0, -2)
	sixMinutes = 6 * time.Minute
)

// RoundToCents rounds half away from zero to 2 decimal places.
// For the non-negative amounts billed here that is round-half-up.
func RoundToCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsWholeCents reports whether d has no precision beyond 2 decimal places.
func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// LineAmount is roundToCents(quantity * unitPrice).
func LineAmount(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return RoundToCents(quantity.Mul(unitPrice))
}

// RoundUpToSixMinutes converts a duration to hours in 0.1h steps, rounding
// any partial step up. Non-positive durations bill nothing.
func RoundUpToSixMinutes(d time.Duration) decimal.Decimal {
	if d <= 0 {
		return decimal.Zero
	}
	tenths := int64((d + sixMinutes - 1) / sixMinutes)
	return decimal.New(tenths, -1)
}

// SumAmounts adds line amounts and rounds the result to cents.
func SumAmounts(lines []LineItemDraft) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return RoundToCents(sum)
}

// Cents converts an amount to integer cents, for metrics and logs.
func Cents(d decimal.Decimal) int64 {
	return RoundToCents(d).Mul(hundred).IntPart()
}
