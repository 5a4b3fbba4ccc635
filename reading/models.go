// Package reading defines the meter reading model.
package reading

import (
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/types"
)

// MeterReading is one observation of a property's cumulative meter.
//
// Reading is the absolute register value and must be monotonically
// non-decreasing per property in ReadingDate order. Consumption is
// derived: this reading minus the immediately preceding one. When a
// debit is rejected for insufficient balance the row is still persisted
// with Consumption zero and BillingApplied false, so the physical meter
// event survives for audit even though billing could not be applied.
type MeterReading struct {
	types.Entity
	ID             id.ReadingID  `json:"id"`
	PropertyID     id.PropertyID `json:"property_id"`
	Reading        types.Volume  `json:"reading"`
	Consumption    types.Volume  `json:"consumption"`
	ReadingDate    time.Time     `json:"reading_date"`
	IsEstimated    bool          `json:"is_estimated"`
	BillingApplied bool          `json:"billing_applied"`
	Notes          string        `json:"notes,omitempty"`
}

// ListOpts controls reading queries.
type ListOpts struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}
