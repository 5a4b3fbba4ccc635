package prepaid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/types"
)

// DebitResult reports a successful consumption debit.
type DebitResult struct {
	PropertyID      id.PropertyID `json:"property_id"`
	Consumption     types.Volume  `json:"consumption"`
	PreviousBalance types.Volume  `json:"previous_balance"`
	NewBalance      types.Volume  `json:"new_balance"`
	LowBalance      bool          `json:"low_balance"`
}

// RecordReadingInput carries a new absolute meter observation.
type RecordReadingInput struct {
	PropertyID  id.PropertyID
	Reading     types.Volume
	ReadingDate time.Time
	IsEstimated bool
	Notes       string
}

// Debit subtracts recorded consumption from a property's balance and
// adds it to total consumption, atomically. The balance can never go
// negative: a debit the balance cannot cover fails with
// ErrInsufficientBalance and applies nothing.
//
// When the resulting balance is at or below the low-balance threshold
// the OnLowBalance hook fires, best-effort; alert delivery failure never
// rolls back the debit.
func (l *Ledger) Debit(ctx context.Context, propertyID id.PropertyID, consumption types.Volume) (*DebitResult, error) {
	if consumption.IsNegative() {
		return nil, ValidationError{Field: "consumption", Message: "must not be negative"}
	}

	change, err := l.store.ApplyConsumption(ctx, propertyID, consumption)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: property %s needs %s, has insufficient balance",
				ErrInsufficientBalance, propertyID, consumption.Format())
		}
		return nil, err
	}

	result := &DebitResult{
		PropertyID:      propertyID,
		Consumption:     consumption,
		PreviousBalance: change.Previous,
		NewBalance:      change.Current,
		LowBalance:      !l.lowBalanceThreshold.LessThan(change.Current),
	}

	l.logger.Info("balance debited",
		"property_id", propertyID.String(),
		"consumption", consumption.Format(),
		"previous_balance", change.Previous.Format(),
		"new_balance", change.Current.Format(),
		"low_balance", result.LowBalance,
	)
	l.plugins.EmitBalanceDebited(ctx, propertyID, consumption, change.Previous, change.Current)
	if result.LowBalance {
		l.plugins.EmitLowBalance(ctx, propertyID, change.Current)
	}

	return result, nil
}

// RecordReading accepts a new absolute meter reading, derives the
// consumption since the previous reading, and debits it from the
// property balance.
//
// Readings must be appended in non-decreasing date order and the
// register value must never decrease; violating inputs are rejected,
// not clamped. When the balance cannot cover the derived consumption
// the reading row is still persisted (with zero consumption applied
// and a note) and ErrInsufficientBalance is returned alongside it:
// the physical meter event is durable for audit even though billing
// could not be applied.
func (l *Ledger) RecordReading(ctx context.Context, in RecordReadingInput) (*reading.MeterReading, error) {
	defer l.lockProperty(in.PropertyID)()
	return l.recordReading(ctx, in)
}

// recordReading is RecordReading with the property lock already held.
func (l *Ledger) recordReading(ctx context.Context, in RecordReadingInput) (*reading.MeterReading, error) {
	if in.Reading.IsNegative() {
		return nil, ValidationError{Field: "reading", Message: "must not be negative"}
	}
	if in.ReadingDate.IsZero() {
		in.ReadingDate = l.now()
	}

	var consumption types.Volume
	prior, err := l.store.LatestReading(ctx, in.PropertyID)
	switch {
	case err == nil:
		if in.Reading.LessThan(prior.Reading) {
			return nil, fmt.Errorf("%w: got %s, previous %s",
				ErrNonMonotonicReading, in.Reading.Format(), prior.Reading.Format())
		}
		if in.ReadingDate.Before(prior.ReadingDate) {
			return nil, ValidationError{Field: "reading_date", Message: "earlier than the previous reading; retroactive readings are not supported"}
		}
		consumption = in.Reading.Subtract(prior.Reading)
	case errors.Is(err, ErrReadingNotFound):
		// No baseline: the absolute reading is the consumption. Rare in
		// practice because CreateProperty seeds a zero reading.
		consumption = in.Reading
	default:
		return nil, err
	}

	r := &reading.MeterReading{
		Entity:      types.NewEntity(),
		ID:          id.NewReadingID(),
		PropertyID:  in.PropertyID,
		Reading:     in.Reading,
		Consumption: consumption,
		ReadingDate: in.ReadingDate,
		IsEstimated: in.IsEstimated,
		Notes:       in.Notes,
	}

	if consumption.IsZero() {
		r.BillingApplied = true
		if err := l.store.CreateReading(ctx, r); err != nil {
			return nil, err
		}
		l.plugins.EmitReadingRecorded(ctx, r)
		return r, nil
	}

	_, debitErr := l.Debit(ctx, in.PropertyID, consumption)
	if debitErr != nil {
		if !errors.Is(debitErr, ErrInsufficientBalance) {
			return nil, debitErr
		}

		r.Consumption = 0
		r.BillingApplied = false
		r.Notes = appendNote(r.Notes, fmt.Sprintf("insufficient balance: consumption of %s not billed", consumption.Format()))
		if err := l.store.CreateReading(ctx, r); err != nil {
			return nil, err
		}

		l.logger.Warn("meter reading recorded without billing",
			"reading_id", r.ID.String(),
			"property_id", r.PropertyID.String(),
			"unbilled_consumption", consumption.Format(),
		)
		l.plugins.EmitReadingRecorded(ctx, r)
		return r, debitErr
	}

	r.BillingApplied = true
	if err := l.store.CreateReading(ctx, r); err != nil {
		return nil, err
	}

	l.logger.Info("meter reading recorded",
		"reading_id", r.ID.String(),
		"property_id", r.PropertyID.String(),
		"reading", r.Reading.Format(),
		"consumption", r.Consumption.Format(),
		"estimated", r.IsEstimated,
	)
	l.plugins.EmitReadingRecorded(ctx, r)
	return r, nil
}

// RecordRawConsumption is the entry point for devices that report a
// consumption delta rather than an absolute register value. It
// synthesizes the absolute reading as previous + units and follows the
// same path as RecordReading.
func (l *Ledger) RecordRawConsumption(ctx context.Context, propertyID id.PropertyID, units types.Volume, at time.Time, estimated bool, notes string) (*reading.MeterReading, error) {
	if units.IsNegative() {
		return nil, ValidationError{Field: "units", Message: "must not be negative"}
	}
	defer l.lockProperty(propertyID)()

	var base types.Volume
	prior, err := l.store.LatestReading(ctx, propertyID)
	switch {
	case err == nil:
		base = prior.Reading
	case errors.Is(err, ErrReadingNotFound):
		base = 0
	default:
		return nil, err
	}

	return l.recordReading(ctx, RecordReadingInput{
		PropertyID:  propertyID,
		Reading:     base.Add(units),
		ReadingDate: at,
		IsEstimated: estimated,
		Notes:       notes,
	})
}

// AmendReading corrects the register value of a property's most recent
// reading. Consumption is recomputed against the preceding reading and
// the owning property is compensated in the same atomic unit: total
// consumption and balance shift by the difference between the new and
// previously applied consumption.
//
// Only the latest reading can be amended; older rows would require
// recomputing every subsequent reading and are rejected with
// ErrNotLatestReading.
func (l *Ledger) AmendReading(ctx context.Context, readingID id.ReadingID, newValue types.Volume) (*reading.MeterReading, error) {
	if newValue.IsNegative() {
		return nil, ValidationError{Field: "reading", Message: "must not be negative"}
	}

	r, err := l.store.GetReading(ctx, readingID)
	if err != nil {
		return nil, err
	}
	defer l.lockProperty(r.PropertyID)()

	// Re-read under the lock; a concurrent amendment may have rewritten
	// the row between the lookup and lock acquisition.
	if r, err = l.store.GetReading(ctx, readingID); err != nil {
		return nil, err
	}

	latest, err := l.store.LatestReading(ctx, r.PropertyID)
	if err != nil {
		return nil, err
	}
	if latest.ID.String() != r.ID.String() {
		return nil, fmt.Errorf("%w: reading %s", ErrNotLatestReading, readingID)
	}

	prior, err := l.priorReading(ctx, r)
	if err != nil {
		return nil, err
	}
	var priorValue types.Volume
	if prior != nil {
		priorValue = prior.Reading
	}
	if newValue.LessThan(priorValue) {
		return nil, fmt.Errorf("%w: got %s, previous %s",
			ErrNonMonotonicReading, newValue.Format(), priorValue.Format())
	}

	newConsumption := newValue.Subtract(priorValue)
	applied := r.Consumption // zero when billing was never applied
	delta := newConsumption.Subtract(applied)

	r.Reading = newValue
	r.Consumption = newConsumption
	r.BillingApplied = true

	change, err := l.store.ApplyAmendment(ctx, r, delta)
	if err != nil {
		return nil, err
	}

	l.logger.Info("meter reading amended",
		"reading_id", r.ID.String(),
		"property_id", r.PropertyID.String(),
		"reading", r.Reading.Format(),
		"consumption", r.Consumption.Format(),
		"delta", delta.Format(),
	)
	l.plugins.EmitReadingAmended(ctx, r, delta)
	if delta.IsPositive() && !l.lowBalanceThreshold.LessThan(change.Current) {
		l.plugins.EmitLowBalance(ctx, r.PropertyID, change.Current)
	}

	return r, nil
}

// priorReading finds the reading immediately preceding r for the same
// property, or nil when r is the property's first row.
func (l *Ledger) priorReading(ctx context.Context, r *reading.MeterReading) (*reading.MeterReading, error) {
	all, err := l.store.ListReadings(ctx, r.PropertyID, reading.ListOpts{})
	if err != nil {
		return nil, err
	}
	var prior *reading.MeterReading
	for _, candidate := range all {
		if candidate.ID.String() == r.ID.String() {
			break
		}
		prior = candidate
	}
	return prior, nil
}

// ListReadings returns a property's readings ordered by reading date.
func (l *Ledger) ListReadings(ctx context.Context, propertyID id.PropertyID, opts reading.ListOpts) ([]*reading.MeterReading, error) {
	return l.store.ListReadings(ctx, propertyID, opts)
}

// GetReading retrieves a reading by ID.
func (l *Ledger) GetReading(ctx context.Context, readingID id.ReadingID) (*reading.MeterReading, error) {
	return l.store.GetReading(ctx, readingID)
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
