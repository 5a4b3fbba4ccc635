// Package store defines the unified storage interface for Prepaid.
//
// The engine keeps all policy decisions (expiry, monotonicity,
// conversion) to itself; the store owns only the conflict-sensitive
// conditions that require atomicity: the token redeemed flag, the
// balance floor, and the rate schedule window swap. Every backend must
// execute ApplyRedemption, ApplyConsumption, ApplyAmendment, and
// ActivateSchedule as single atomic units: concurrent callers observe
// either the whole mutation or none of it.
package store

import (
	"context"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// BalanceChange reports the before/after state of an atomic balance
// mutation.
type BalanceChange struct {
	PropertyID id.PropertyID
	Previous   types.Volume
	Current    types.Volume
	At         time.Time
}

// TokenListOpts controls token queries.
type TokenListOpts struct {
	Redeemed *bool // nil: all; otherwise filter by redemption state
	Limit    int
	Offset   int
}

// Store is the unified storage interface for all Prepaid entities.
type Store interface {
	// Property methods
	CreateProperty(ctx context.Context, p *property.Property) error
	GetProperty(ctx context.Context, propertyID id.PropertyID) (*property.Property, error)
	GetPropertyByMeter(ctx context.Context, meterNumber string) (*property.Property, error)
	UpdateProperty(ctx context.Context, p *property.Property) error

	// Rate schedule methods.
	// ActivateSchedule closes any open schedule for s.Category (setting
	// its EffectiveUntil to s.EffectiveFrom) and inserts s in one atomic
	// unit, so ResolveSchedule never observes two open schedules, nor a
	// gap for an instant that should be covered.
	ActivateSchedule(ctx context.Context, s *rate.Schedule) error
	ResolveSchedule(ctx context.Context, category rate.Category, at time.Time) (*rate.Schedule, error)
	ListSchedules(ctx context.Context, category rate.Category) ([]*rate.Schedule, error)

	// Token methods.
	// CreateToken fails with ErrDuplicateCode when the redemption code
	// collides and ErrAlreadyExists when a token for the same payment
	// already exists; both are enforced as uniqueness constraints.
	CreateToken(ctx context.Context, t *token.Token) error
	GetToken(ctx context.Context, tokenID id.TokenID) (*token.Token, error)
	GetTokenByCode(ctx context.Context, code string) (*token.Token, error)
	GetTokenByPayment(ctx context.Context, paymentID id.PaymentID) (*token.Token, error)
	ListTokens(ctx context.Context, propertyID id.PropertyID, opts TokenListOpts) ([]*token.Token, error)

	// Atomic balance operations.
	// ApplyRedemption marks the token redeemed, credits its units to the
	// owning property, and stamps last_token_redemption, conditional on
	// is_redeemed still being false. Exactly one concurrent caller wins;
	// the rest get ErrTokenAlreadyRedeemed.
	ApplyRedemption(ctx context.Context, tokenID id.TokenID, at time.Time) (*BalanceChange, error)
	// ApplyConsumption debits units from the property balance and adds
	// them to total consumption, conditional on the balance covering
	// the debit. Fails with ErrInsufficientBalance otherwise, applying
	// nothing. The balance can never go negative through this call.
	ApplyConsumption(ctx context.Context, propertyID id.PropertyID, units types.Volume) (*BalanceChange, error)

	// Meter reading methods.
	CreateReading(ctx context.Context, r *reading.MeterReading) error
	GetReading(ctx context.Context, readingID id.ReadingID) (*reading.MeterReading, error)
	// LatestReading returns the most recent reading for the property by
	// reading date, or ErrReadingNotFound when none exists.
	LatestReading(ctx context.Context, propertyID id.PropertyID) (*reading.MeterReading, error)
	ListReadings(ctx context.Context, propertyID id.PropertyID, opts reading.ListOpts) ([]*reading.MeterReading, error)
	// ApplyAmendment rewrites an existing reading row and compensates
	// the owning property (total consumption and balance shift by delta)
	// in one atomic unit. A positive delta that the balance cannot cover
	// fails with ErrInsufficientBalance, applying nothing.
	ApplyAmendment(ctx context.Context, r *reading.MeterReading, delta types.Volume) (*BalanceChange, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
