// Package rate defines time-bounded price schedules per property category.
package rate

import (
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/types"
)

// Category classifies a property for pricing purposes.
type Category string

const (
	CategoryResidential   Category = "residential"
	CategoryCommercial    Category = "commercial"
	CategoryIndustrial    Category = "industrial"
	CategoryInstitutional Category = "institutional"
)

// Valid reports whether c is one of the known property categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryResidential, CategoryCommercial, CategoryIndustrial, CategoryInstitutional:
		return true
	}
	return false
}

// Schedule is a time-bounded price policy for a property category.
//
// At most one schedule per category may be open (EffectiveUntil == nil)
// at any time; activating a new schedule closes the previous one at the
// new schedule's EffectiveFrom. The window is [EffectiveFrom, EffectiveUntil).
type Schedule struct {
	types.Entity
	ID             id.ScheduleID `json:"id"`
	Category       Category      `json:"category"`
	UnitPrice      types.Money   `json:"unit_price"`     // currency per kilolitre, > 0
	FixedCharge    types.Money   `json:"fixed_charge"`   // subtracted before conversion, >= 0
	MinimumCharge  types.Money   `json:"minimum_charge"` // payments below this are rejected, >= 0
	EffectiveFrom  time.Time     `json:"effective_from"`
	EffectiveUntil *time.Time    `json:"effective_until,omitempty"`
}

// Covers reports whether the schedule is active at the given instant.
func (s *Schedule) Covers(at time.Time) bool {
	if at.Before(s.EffectiveFrom) {
		return false
	}
	return s.EffectiveUntil == nil || at.Before(*s.EffectiveUntil)
}

// Open reports whether the schedule has no closing bound yet.
func (s *Schedule) Open() bool { return s.EffectiveUntil == nil }
