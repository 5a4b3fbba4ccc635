// Package observability provides a metrics plugin for the prepaid
// ledger that records lifecycle event counts as Prometheus metrics.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/plugin"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// Ensure MetricsPlugin implements required interfaces.
var (
	_ plugin.Plugin            = (*MetricsPlugin)(nil)
	_ plugin.OnRateActivated   = (*MetricsPlugin)(nil)
	_ plugin.OnTokenIssued     = (*MetricsPlugin)(nil)
	_ plugin.OnTokenRedeemed   = (*MetricsPlugin)(nil)
	_ plugin.OnBalanceDebited  = (*MetricsPlugin)(nil)
	_ plugin.OnLowBalance      = (*MetricsPlugin)(nil)
	_ plugin.OnReadingRecorded = (*MetricsPlugin)(nil)
	_ plugin.OnReadingAmended  = (*MetricsPlugin)(nil)
)

// MetricsPlugin records ledger lifecycle metrics. Register it as a
// ledger plugin and expose its registry over /metrics.
type MetricsPlugin struct {
	RatesActivated   prometheus.Counter
	TokensIssued     prometheus.Counter
	TokensRedeemed   prometheus.Counter
	UnitsCredited    prometheus.Counter
	BalanceDebits    prometheus.Counter
	UnitsConsumed    prometheus.Counter
	LowBalanceAlerts prometheus.Counter
	ReadingsRecorded prometheus.Counter
	ReadingsAmended  prometheus.Counter
}

// NewMetricsPlugin creates a MetricsPlugin and registers its collectors
// with reg. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewMetricsPlugin(reg prometheus.Registerer) *MetricsPlugin {
	m := &MetricsPlugin{
		RatesActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_rates_activated_total",
			Help: "Rate schedules activated.",
		}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_tokens_issued_total",
			Help: "Credit tokens issued against completed payments.",
		}),
		TokensRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_tokens_redeemed_total",
			Help: "Credit tokens redeemed.",
		}),
		UnitsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_units_credited_centiunits_total",
			Help: "Water units credited to balances, in hundredths of a kilolitre.",
		}),
		BalanceDebits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_balance_debits_total",
			Help: "Successful balance debits.",
		}),
		UnitsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_units_consumed_centiunits_total",
			Help: "Water units debited from balances, in hundredths of a kilolitre.",
		}),
		LowBalanceAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_low_balance_alerts_total",
			Help: "Low balance alerts fired.",
		}),
		ReadingsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_readings_recorded_total",
			Help: "Meter readings recorded.",
		}),
		ReadingsAmended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_readings_amended_total",
			Help: "Meter readings amended.",
		}),
	}
	reg.MustRegister(
		m.RatesActivated, m.TokensIssued, m.TokensRedeemed, m.UnitsCredited,
		m.BalanceDebits, m.UnitsConsumed, m.LowBalanceAlerts,
		m.ReadingsRecorded, m.ReadingsAmended,
	)
	return m
}

func (m *MetricsPlugin) Name() string { return "observability.metrics" }

func (m *MetricsPlugin) OnRateActivated(ctx context.Context, s *rate.Schedule) error {
	m.RatesActivated.Inc()
	return nil
}

func (m *MetricsPlugin) OnTokenIssued(ctx context.Context, t *token.Token) error {
	m.TokensIssued.Inc()
	return nil
}

func (m *MetricsPlugin) OnTokenRedeemed(ctx context.Context, t *token.Token, previous, current types.Volume) error {
	m.TokensRedeemed.Inc()
	m.UnitsCredited.Add(float64(t.Units.Centi()))
	return nil
}

func (m *MetricsPlugin) OnBalanceDebited(ctx context.Context, propertyID id.PropertyID, consumption, previous, current types.Volume) error {
	m.BalanceDebits.Inc()
	m.UnitsConsumed.Add(float64(consumption.Centi()))
	return nil
}

func (m *MetricsPlugin) OnLowBalance(ctx context.Context, propertyID id.PropertyID, currentBalance types.Volume) error {
	m.LowBalanceAlerts.Inc()
	return nil
}

func (m *MetricsPlugin) OnReadingRecorded(ctx context.Context, r *reading.MeterReading) error {
	m.ReadingsRecorded.Inc()
	return nil
}

func (m *MetricsPlugin) OnReadingAmended(ctx context.Context, r *reading.MeterReading, delta types.Volume) error {
	m.ReadingsAmended.Inc()
	return nil
}
