// Package plugin provides an extensible hook system for Prepaid.
// Plugins can hook into billing lifecycle events to extend functionality:
// alerting, metrics, audit trails, notification delivery.
package plugin

import (
	"context"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, ledger interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Rate schedule hooks
// ──────────────────────────────────────────────────

// OnRateActivated is called when a new rate schedule goes live for a
// category, after any previously open schedule has been closed.
type OnRateActivated interface {
	Plugin
	OnRateActivated(ctx context.Context, s *rate.Schedule) error
}

// ──────────────────────────────────────────────────
// Token hooks
// ──────────────────────────────────────────────────

// OnTokenIssued is called when a token is issued for a completed payment.
// It is not called when idempotent re-issuance returns an existing token.
type OnTokenIssued interface {
	Plugin
	OnTokenIssued(ctx context.Context, t *token.Token) error
}

// OnTokenRedeemed is called after a token has been redeemed and the
// property balance credited.
type OnTokenRedeemed interface {
	Plugin
	OnTokenRedeemed(ctx context.Context, t *token.Token, previous, current types.Volume) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnBalanceDebited is called after consumption has been debited from a
// property balance.
type OnBalanceDebited interface {
	Plugin
	OnBalanceDebited(ctx context.Context, propertyID id.PropertyID, consumption, previous, current types.Volume) error
}

// OnLowBalance is the alert trigger: called when a debit leaves a
// property at or below the low-balance threshold. Delivery is
// best-effort and fire-and-forget; a failing alert never rolls back the
// debit that caused it.
type OnLowBalance interface {
	Plugin
	OnLowBalance(ctx context.Context, propertyID id.PropertyID, currentBalance types.Volume) error
}

// ──────────────────────────────────────────────────
// Meter reading hooks
// ──────────────────────────────────────────────────

// OnReadingRecorded is called after a meter reading has been persisted,
// whether or not billing was applied.
type OnReadingRecorded interface {
	Plugin
	OnReadingRecorded(ctx context.Context, r *reading.MeterReading) error
}

// OnReadingAmended is called after an existing reading has been
// corrected and the owning property compensated.
type OnReadingAmended interface {
	Plugin
	OnReadingAmended(ctx context.Context, r *reading.MeterReading, delta types.Volume) error
}
