package billing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Prorate computes the charge (positive) or credit (negative), in minor
// currency units, for switching a subscription from oldAmount to newAmount
// partway through a billing period.
//
// The calculation is day-based: both the total period length and the
// remaining span from changeDate to periodEnd are counted in whole days,
// rounding partial days up, using the real calendar span (leap years and
// odd-length periods fall out naturally).
//
// Rounding rule: half away from zero, applied once to the final amount.
// The rule is symmetric in sign, so an upgrade proration and the matching
// downgrade credit are exact negations of each other.
func Prorate(oldAmount, newAmount int64, periodStart, periodEnd, changeDate time.Time) (int64, error) {
	if !periodEnd.After(periodStart) {
		return 0, validationf("period end %s not after period start %s", periodEnd, periodStart)
	}
	if changeDate.Before(periodStart) || changeDate.After(periodEnd) {
		return 0, validationf("change date %s outside period [%s, %s]", changeDate, periodStart, periodEnd)
	}

	totalDays := daysCeil(periodStart, periodEnd)
	remainingDays := daysCeil(changeDate, periodEnd)

	if remainingDays == 0 {
		return 0, nil
	}
	if remainingDays >= totalDays {
		return newAmount - oldAmount, nil
	}

	diff := decimal.NewFromInt(newAmount - oldAmount)
	ratio := decimal.NewFromInt(remainingDays).Div(decimal.NewFromInt(totalDays))
	return diff.Mul(ratio).Round(0).IntPart(), nil
}

// daysCeil counts the days between two instants, rounding partial days up.
func daysCeil(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(math.Ceil(to.Sub(from).Hours() / 24))
}
