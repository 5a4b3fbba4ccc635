package prepaid

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/plugin"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/types"
)

// DefaultLowBalanceThreshold is the balance at or below which a debit
// triggers a low-balance alert.
var DefaultLowBalanceThreshold = types.Units(5)

// DefaultTokenValidity is how long an issued token remains redeemable.
const DefaultTokenValidity = 365 * 24 * time.Hour

// Ledger is the prepaid billing engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Per-property serialization for the reading pipeline: deriving
	// consumption against the latest reading and persisting the new row
	// spans multiple store calls, so concurrent submissions for the same
	// property must not interleave between them.
	propLocks sync.Map // property ID string -> *sync.Mutex

	// Configuration
	lowBalanceThreshold types.Volume
	tokenValidity       time.Duration
	now                 func() time.Time
}

// lockProperty serializes reading-pipeline operations for one property.
// The returned func releases the lock.
func (l *Ledger) lockProperty(propertyID id.PropertyID) func() {
	v, _ := l.propLocks.LoadOrStore(propertyID.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:               s,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		lowBalanceThreshold: DefaultLowBalanceThreshold,
		tokenValidity:       DefaultTokenValidity,
		now:                 func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithLowBalanceThreshold sets the balance at or below which debits
// trigger a low-balance alert.
func WithLowBalanceThreshold(threshold types.Volume) Option {
	return func(l *Ledger) {
		l.lowBalanceThreshold = threshold
	}
}

// WithTokenValidity sets how long issued tokens remain redeemable.
func WithTokenValidity(d time.Duration) Option {
	return func(l *Ledger) {
		l.tokenValidity = d
	}
}

// WithClock overrides the time source. Intended for tests that need to
// control token expiry and schedule windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("prepaid ledger started",
		"low_balance_threshold", l.lowBalanceThreshold.Format(),
		"token_validity", l.tokenValidity,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Rate catalog
// ──────────────────────────────────────────────────

// ActivateSchedule puts a new rate schedule into effect for its
// category. Any currently open schedule for the category is closed at
// the new schedule's EffectiveFrom in the same atomic unit, so resolves
// never observe two active schedules nor a gap.
func (l *Ledger) ActivateSchedule(ctx context.Context, s *rate.Schedule) error {
	if !s.Category.Valid() {
		return ValidationError{Field: "category", Message: "unknown property category"}
	}
	if !s.UnitPrice.IsPositive() {
		return ValidationError{Field: "unit_price", Message: "must be greater than zero"}
	}
	if s.FixedCharge.IsNegative() {
		return ValidationError{Field: "fixed_charge", Message: "must not be negative"}
	}
	if s.MinimumCharge.IsNegative() {
		return ValidationError{Field: "minimum_charge", Message: "must not be negative"}
	}
	if s.ID.IsNil() {
		s.ID = id.NewScheduleID()
	}
	if s.EffectiveFrom.IsZero() {
		s.EffectiveFrom = l.now()
	}
	s.Entity = types.NewEntity()

	if err := l.store.ActivateSchedule(ctx, s); err != nil {
		return err
	}

	l.logger.Info("rate schedule activated",
		"schedule_id", s.ID.String(),
		"category", string(s.Category),
		"unit_price", s.UnitPrice.String(),
		"effective_from", s.EffectiveFrom,
	)
	l.plugins.EmitRateActivated(ctx, s)
	return nil
}

// ResolveRate returns the schedule covering the category at the given
// instant, or ErrRateNotConfigured. Callers must not fall back to a
// default rate.
func (l *Ledger) ResolveRate(ctx context.Context, category rate.Category, at time.Time) (*rate.Schedule, error) {
	return l.store.ResolveSchedule(ctx, category, at)
}

// ListSchedules returns the rate history for a category, oldest first.
// An empty category returns all schedules.
func (l *Ledger) ListSchedules(ctx context.Context, category rate.Category) ([]*rate.Schedule, error) {
	return l.store.ListSchedules(ctx, category)
}

// ──────────────────────────────────────────────────
// Property lifecycle
// ──────────────────────────────────────────────────

// CreateProperty registers a new metered property with a zero balance
// and seeds its baseline meter reading (reading 0, consumption 0), so
// the first real reading computes consumption against a known floor.
func (l *Ledger) CreateProperty(ctx context.Context, p *property.Property) error {
	if !p.Category.Valid() {
		return ValidationError{Field: "category", Message: "unknown property category"}
	}
	if p.ID.IsNil() {
		p.ID = id.NewPropertyID()
	}
	p.Entity = types.NewEntity()
	p.CurrentBalance = 0
	p.TotalConsumption = 0
	p.LastTokenRedemption = nil

	if err := l.store.CreateProperty(ctx, p); err != nil {
		return err
	}

	baseline := &reading.MeterReading{
		Entity:         types.NewEntity(),
		ID:             id.NewReadingID(),
		PropertyID:     p.ID,
		Reading:        0,
		Consumption:    0,
		ReadingDate:    l.now(),
		BillingApplied: true,
		Notes:          "baseline reading at property creation",
	}
	if err := l.store.CreateReading(ctx, baseline); err != nil {
		return err
	}

	l.logger.Info("property created",
		"property_id", p.ID.String(),
		"meter_number", p.MeterNumber,
		"category", string(p.Category),
	)
	return nil
}

// GetProperty retrieves a property by ID.
func (l *Ledger) GetProperty(ctx context.Context, propertyID id.PropertyID) (*property.Property, error) {
	return l.store.GetProperty(ctx, propertyID)
}

// GetPropertyByMeter retrieves a property by its meter number.
func (l *Ledger) GetPropertyByMeter(ctx context.Context, meterNumber string) (*property.Property, error) {
	return l.store.GetPropertyByMeter(ctx, meterNumber)
}
