package prepaid

import (
	"context"
	"fmt"
	"time"

	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/types"
)

// Convert turns a monetary payment into water units using the rate
// schedule in effect for the category at the given instant.
//
// The minimum charge is a hard floor: payments below it are rejected
// outright rather than issued partial units. The fixed charge is then
// absorbed off the top; a payment fully consumed by the fixed charge
// converts to exactly zero units, which is a valid (if pointless)
// result, not an error. The remainder divides by the unit price and
// rounds half-away-from-zero to two decimal places.
func (l *Ledger) Convert(ctx context.Context, amount types.Money, category rate.Category, at time.Time) (types.Volume, error) {
	sched, err := l.store.ResolveSchedule(ctx, category, at)
	if err != nil {
		return 0, err
	}

	if amount.Currency != sched.UnitPrice.Currency {
		return 0, ValidationError{Field: "currency", Message: fmt.Sprintf(
			"payment currency %q does not match schedule currency %q", amount.Currency, sched.UnitPrice.Currency)}
	}

	if amount.LessThan(sched.MinimumCharge) {
		return 0, fmt.Errorf("%w: paid %s, minimum %s", ErrBelowMinimumCharge, amount, sched.MinimumCharge)
	}

	billable := amount.Subtract(sched.FixedCharge)
	if !billable.IsPositive() {
		return 0, nil
	}

	return convertUnits(billable.Amount, sched.UnitPrice.Amount), nil
}

// convertUnits divides billable minor units by the per-kilolitre price
// in minor units, producing centiunits rounded half-away-from-zero.
// billable is non-negative by the time this is called, so rounding is
// plain half-up on the positive remainder.
func convertUnits(billableMinor, unitPriceMinor int64) types.Volume {
	numerator := billableMinor * 100
	quotient := numerator / unitPriceMinor
	remainder := numerator % unitPriceMinor
	if remainder*2 >= unitPriceMinor {
		quotient++
	}
	return types.Centiunits(quotient)
}
