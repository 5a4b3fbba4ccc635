// Package audit bridges ledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend
// on any particular audit store. Callers inject a RecorderFunc adapter
// that bridges to their backend at wiring time; SlogRecorder writes
// events to a structured logger for deployments without a dedicated
// audit sink.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/plugin"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin            = (*Hook)(nil)
	_ plugin.OnRateActivated   = (*Hook)(nil)
	_ plugin.OnTokenIssued     = (*Hook)(nil)
	_ plugin.OnTokenRedeemed   = (*Hook)(nil)
	_ plugin.OnBalanceDebited  = (*Hook)(nil)
	_ plugin.OnLowBalance      = (*Hook)(nil)
	_ plugin.OnReadingRecorded = (*Hook)(nil)
	_ plugin.OnReadingAmended  = (*Hook)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Event is a single audit trail entry.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// SlogRecorder returns a Recorder that writes events to logger. Useful
// as a default audit sink when no dedicated backend is wired.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, event *Event) error {
		logger.InfoContext(ctx, "audit",
			slog.String("action", event.Action),
			slog.String("resource", event.Resource),
			slog.String("resource_id", event.ResourceID),
			slog.String("category", event.Category),
			slog.String("outcome", event.Outcome),
			slog.String("severity", event.Severity),
			slog.Any("metadata", event.Metadata),
		)
		return nil
	})
}

// Hook bridges ledger lifecycle events to an audit trail backend.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements plugin.Plugin.
func (h *Hook) Name() string { return "audit-hook" }

// OnRateActivated implements plugin.OnRateActivated.
func (h *Hook) OnRateActivated(ctx context.Context, s *rate.Schedule) error {
	return h.record(ctx, ActionRateActivated, SeverityInfo, OutcomeSuccess,
		ResourceRate, s.ID.String(), CategoryBilling,
		"category", string(s.Category),
		"unit_price", s.UnitPrice.String(),
		"effective_from", s.EffectiveFrom,
	)
}

// OnTokenIssued implements plugin.OnTokenIssued.
func (h *Hook) OnTokenIssued(ctx context.Context, t *token.Token) error {
	return h.record(ctx, ActionTokenIssued, SeverityInfo, OutcomeSuccess,
		ResourceToken, t.ID.String(), CategoryVending,
		"property_id", t.PropertyID.String(),
		"payment_id", t.PaymentID.String(),
		"units", t.Units.String(),
		"amount", t.IssuedAmount.String(),
	)
}

// OnTokenRedeemed implements plugin.OnTokenRedeemed.
func (h *Hook) OnTokenRedeemed(ctx context.Context, t *token.Token, previous, current types.Volume) error {
	return h.record(ctx, ActionTokenRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceToken, t.ID.String(), CategoryVending,
		"property_id", t.PropertyID.String(),
		"units", t.Units.String(),
		"previous_balance", previous.String(),
		"new_balance", current.String(),
	)
}

// OnBalanceDebited implements plugin.OnBalanceDebited.
func (h *Hook) OnBalanceDebited(ctx context.Context, propertyID id.PropertyID, consumption, previous, current types.Volume) error {
	return h.record(ctx, ActionBalanceDebited, SeverityInfo, OutcomeSuccess,
		ResourceProperty, propertyID.String(), CategoryBilling,
		"consumption", consumption.String(),
		"previous_balance", previous.String(),
		"new_balance", current.String(),
	)
}

// OnLowBalance implements plugin.OnLowBalance.
func (h *Hook) OnLowBalance(ctx context.Context, propertyID id.PropertyID, currentBalance types.Volume) error {
	return h.record(ctx, ActionLowBalance, SeverityWarning, OutcomeSuccess,
		ResourceProperty, propertyID.String(), CategoryBilling,
		"balance", currentBalance.String(),
	)
}

// OnReadingRecorded implements plugin.OnReadingRecorded.
func (h *Hook) OnReadingRecorded(ctx context.Context, r *reading.MeterReading) error {
	severity := SeverityInfo
	if !r.BillingApplied {
		severity = SeverityWarning
	}
	return h.record(ctx, ActionReadingRecorded, severity, OutcomeSuccess,
		ResourceReading, r.ID.String(), CategoryMetering,
		"property_id", r.PropertyID.String(),
		"reading", r.Reading.String(),
		"consumption", r.Consumption.String(),
		"billing_applied", r.BillingApplied,
	)
}

// OnReadingAmended implements plugin.OnReadingAmended.
func (h *Hook) OnReadingAmended(ctx context.Context, r *reading.MeterReading, delta types.Volume) error {
	return h.record(ctx, ActionReadingAmended, SeverityInfo, OutcomeSuccess,
		ResourceReading, r.ID.String(), CategoryMetering,
		"property_id", r.PropertyID.String(),
		"reading", r.Reading.String(),
		"delta", delta.String(),
	)
}

func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
