package prepaid_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/payment"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/store/memory"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLedger builds a ledger over the memory store with a commercial
// rate already configured: $2.50 per kL, $20.00 fixed charge, $30.00
// minimum charge.
func newTestLedger(t *testing.T, opts ...prepaid.Option) *prepaid.Ledger {
	t.Helper()

	opts = append([]prepaid.Option{prepaid.WithLogger(discardLogger())}, opts...)
	l := prepaid.New(memory.New(), opts...)

	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Stop() })

	sched := &rate.Schedule{
		Category:      rate.CategoryCommercial,
		UnitPrice:     types.USD(250),
		FixedCharge:   types.USD(2000),
		MinimumCharge: types.USD(3000),
	}
	if err := l.ActivateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}
	return l
}

func newTestProperty(t *testing.T, l *prepaid.Ledger) *property.Property {
	t.Helper()

	p := &property.Property{
		MeterNumber: "MTR-" + id.NewPropertyID().String()[:12],
		Category:    rate.CategoryCommercial,
		Address:     "12 Riverside Dr",
	}
	if err := l.CreateProperty(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

// completedPayment issues a completed payment of the given major-unit
// dollar amount against the property.
func completedPayment(p *property.Property, dollars int64) *payment.Payment {
	return &payment.Payment{
		Entity:     types.NewEntity(),
		ID:         id.NewPaymentID(),
		PropertyID: p.ID,
		Amount:     types.USD(dollars * 100),
		Status:     payment.StatusCompleted,
		Reference:  "gw-ref",
	}
}

// creditProperty issues and redeems a token so the property holds the
// units that the payment converts to.
func creditProperty(t *testing.T, l *prepaid.Ledger, p *property.Property, dollars int64) types.Volume {
	t.Helper()

	ctx := context.Background()
	tok, err := l.IssueToken(ctx, completedPayment(p, dollars))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Redeem(ctx, tok.Code); err != nil {
		t.Fatal(err)
	}
	return tok.Units
}

// ──────────────────────────────────────────────────
// Conversion
// ──────────────────────────────────────────────────

func TestConvert(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name    string
		amount  types.Money
		want    types.Volume
		wantErr error
	}{
		{"standard payment", types.USD(10000), types.Units(32), nil},
		{"exactly minimum", types.USD(3000), types.Centiunits(400), nil},
		{"below minimum", types.USD(2999), 0, prepaid.ErrBelowMinimumCharge},
		{"consumed by fixed charge", types.USD(2000), 0, prepaid.ErrBelowMinimumCharge},
		{"large payment", types.USD(100000), types.Units(392), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Convert(ctx, tt.amount, rate.CategoryCommercial, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvertRounding(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Residential: $3.00 per kL, no fixed or minimum charge, so the
	// payment amount is the billable amount.
	sched := &rate.Schedule{
		Category:      rate.CategoryResidential,
		UnitPrice:     types.USD(300),
		FixedCharge:   types.Zero("usd"),
		MinimumCharge: types.Zero("usd"),
	}
	if err := l.ActivateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		amount types.Money
		want   types.Volume
	}{
		{types.USD(1000), types.Centiunits(333)}, // 3.333... rounds down
		{types.USD(500), types.Centiunits(167)},  // 1.666... rounds up
		{types.USD(300), types.Units(1)},
		{types.USD(0), 0},
	}

	for _, tt := range tests {
		got, err := l.Convert(ctx, tt.amount, rate.CategoryResidential, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Convert(%s): got %s, want %s", tt.amount, got, tt.want)
		}
	}
}

func TestConvertCurrencyMismatch(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Well-formed money in the wrong currency is rejected as input, not
	// fed into cross-currency arithmetic.
	_, err := l.Convert(ctx, types.ZAR(10000), rate.CategoryCommercial, time.Now())
	if !prepaid.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// The issuance path rejects it the same way.
	p := newTestProperty(t, l)
	pay := completedPayment(p, 100)
	pay.Amount = types.ZAR(10000)
	if _, err := l.IssueToken(ctx, pay); !prepaid.IsValidation(err) {
		t.Fatalf("expected validation error from issuance, got %v", err)
	}
}

// faultyRateStore fails schedule resolution with a given error.
type faultyRateStore struct {
	store.Store
	err error
}

func (s faultyRateStore) ResolveSchedule(ctx context.Context, category rate.Category, at time.Time) (*rate.Schedule, error) {
	return nil, s.err
}

func TestConvertPropagatesStoreErrors(t *testing.T) {
	cause := errors.New("connection reset")
	l := prepaid.New(faultyRateStore{Store: memory.New(), err: cause}, prepaid.WithLogger(discardLogger()))

	_, err := l.Convert(context.Background(), types.USD(10000), rate.CategoryCommercial, time.Now())
	if !errors.Is(err, cause) {
		t.Fatalf("store error should propagate unchanged, got %v", err)
	}
	if errors.Is(err, prepaid.ErrRateNotConfigured) {
		t.Error("transient store error must not be reported as a missing rate")
	}
}

func TestConvertNoRateConfigured(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Convert(context.Background(), types.USD(10000), rate.CategoryIndustrial, time.Now())
	if !errors.Is(err, prepaid.ErrRateNotConfigured) {
		t.Fatalf("expected ErrRateNotConfigured, got %v", err)
	}
}

func TestConvertFixedChargeAbsorption(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Institutional: fixed charge equals the minimum, so a minimum
	// payment converts to exactly zero units without error.
	sched := &rate.Schedule{
		Category:      rate.CategoryInstitutional,
		UnitPrice:     types.USD(250),
		FixedCharge:   types.USD(3000),
		MinimumCharge: types.USD(3000),
	}
	if err := l.ActivateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	got, err := l.Convert(ctx, types.USD(3000), rate.CategoryInstitutional, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero units, got %s", got)
	}
}

// ──────────────────────────────────────────────────
// Rate schedules
// ──────────────────────────────────────────────────

func TestActivateScheduleSwap(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Now()
	later := base.Add(24 * time.Hour)

	next := &rate.Schedule{
		Category:      rate.CategoryCommercial,
		UnitPrice:     types.USD(300),
		FixedCharge:   types.USD(2000),
		MinimumCharge: types.USD(3000),
		EffectiveFrom: later,
	}
	if err := l.ActivateSchedule(ctx, next); err != nil {
		t.Fatal(err)
	}

	before, err := l.ResolveRate(ctx, rate.CategoryCommercial, later.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if before.UnitPrice.Amount != 250 {
		t.Errorf("before swap: unit price %d, want 250", before.UnitPrice.Amount)
	}

	after, err := l.ResolveRate(ctx, rate.CategoryCommercial, later.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if after.UnitPrice.Amount != 300 {
		t.Errorf("after swap: unit price %d, want 300", after.UnitPrice.Amount)
	}

	schedules, err := l.ListSchedules(ctx, rate.CategoryCommercial)
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}
	first := schedules[0]
	if first.EffectiveUntil == nil || !first.EffectiveUntil.Equal(later) {
		t.Error("previous schedule should be closed at the new schedule's start")
	}
	if schedules[1].EffectiveUntil != nil {
		t.Error("new schedule should be open")
	}
}

func TestActivateScheduleValidation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		sched *rate.Schedule
	}{
		{"unknown category", &rate.Schedule{
			Category: "villa", UnitPrice: types.USD(250),
		}},
		{"zero unit price", &rate.Schedule{
			Category: rate.CategoryCommercial, UnitPrice: types.Zero("usd"),
		}},
		{"negative fixed charge", &rate.Schedule{
			Category: rate.CategoryCommercial, UnitPrice: types.USD(250), FixedCharge: types.USD(-100),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.ActivateSchedule(ctx, tt.sched)
			if !prepaid.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Token issuance
// ──────────────────────────────────────────────────

func TestIssueToken(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	pay := completedPayment(p, 100)
	tok, err := l.IssueToken(ctx, pay)
	if err != nil {
		t.Fatal(err)
	}

	if tok.Units != types.Units(32) {
		t.Errorf("units: got %s, want 32.00 kL", tok.Units)
	}
	if len(tok.Code) != 20 {
		t.Errorf("code length: got %d, want 20", len(tok.Code))
	}
	if tok.IsRedeemed {
		t.Error("new token should not be redeemed")
	}
	if tok.ExpiresAt.IsZero() {
		t.Error("token should carry an expiry")
	}

	// Issuing the balance must not move until redemption.
	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CurrentBalance.IsZero() {
		t.Errorf("balance moved at issuance: %s", got.CurrentBalance)
	}
}

func TestIssueTokenIdempotent(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	pay := completedPayment(p, 100)
	first, err := l.IssueToken(ctx, pay)
	if err != nil {
		t.Fatal(err)
	}

	second, err := l.IssueToken(ctx, pay)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID.String() != first.ID.String() {
		t.Errorf("redelivery issued a new token: %s vs %s", second.ID, first.ID)
	}
	if second.Code != first.Code {
		t.Error("redelivery changed the code")
	}
}

func TestIssueTokenRequiresCompletedPayment(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)

	for _, status := range []payment.Status{payment.StatusPending, payment.StatusFailed, payment.StatusRefunded} {
		pay := completedPayment(p, 100)
		pay.Status = status
		if _, err := l.IssueToken(context.Background(), pay); !errors.Is(err, prepaid.ErrPaymentNotCompleted) {
			t.Errorf("status %s: expected ErrPaymentNotCompleted, got %v", status, err)
		}
	}
}

func TestIssueTokenBelowMinimum(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)

	if _, err := l.IssueToken(context.Background(), completedPayment(p, 29)); !errors.Is(err, prepaid.ErrBelowMinimumCharge) {
		t.Fatalf("expected ErrBelowMinimumCharge, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Redemption
// ──────────────────────────────────────────────────

func TestRedeem(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	tok, err := l.IssueToken(ctx, completedPayment(p, 100))
	if err != nil {
		t.Fatal(err)
	}

	// Grouped entry must redeem the same as bare digits.
	result, err := l.Redeem(ctx, token.FormatCode(tok.Code))
	if err != nil {
		t.Fatal(err)
	}
	if !result.PreviousBalance.IsZero() {
		t.Errorf("previous balance: got %s, want zero", result.PreviousBalance)
	}
	if result.NewBalance != types.Units(32) {
		t.Errorf("new balance: got %s, want 32.00 kL", result.NewBalance)
	}

	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentBalance != types.Units(32) {
		t.Errorf("stored balance: got %s, want 32.00 kL", got.CurrentBalance)
	}
	if got.LastTokenRedemption == nil {
		t.Error("last token redemption not stamped")
	}

	if _, err := l.Redeem(ctx, tok.Code); !errors.Is(err, prepaid.ErrTokenAlreadyRedeemed) {
		t.Fatalf("second redemption: expected ErrTokenAlreadyRedeemed, got %v", err)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.Redeem(context.Background(), "00000000000000000000"); !errors.Is(err, prepaid.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	l := newTestLedger(t, prepaid.WithClock(func() time.Time { return clock() }))
	p := newTestProperty(t, l)
	ctx := context.Background()

	tok, err := l.IssueToken(ctx, completedPayment(p, 100))
	if err != nil {
		t.Fatal(err)
	}

	clock = func() time.Time { return now.Add(prepaid.DefaultTokenValidity + time.Hour) }

	if _, err := l.Redeem(ctx, tok.Code); !errors.Is(err, prepaid.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	// Expired redemption must not have moved the balance.
	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CurrentBalance.IsZero() {
		t.Errorf("balance moved on expired token: %s", got.CurrentBalance)
	}
}

func TestConcurrentRedemption(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	tok, err := l.IssueToken(ctx, completedPayment(p, 100))
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Redeem(ctx, tok.Code); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", succeeded)
	}
	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentBalance != tok.Units {
		t.Errorf("balance: got %s, want %s", got.CurrentBalance, tok.Units)
	}
}

// ──────────────────────────────────────────────────
// Readings and debits
// ──────────────────────────────────────────────────

func TestRecordReading(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100) // 32.00 kL

	r, err := l.RecordReading(ctx, prepaid.RecordReadingInput{
		PropertyID: p.ID,
		Reading:    types.Units(10),
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Consumption != types.Units(10) {
		t.Errorf("consumption: got %s, want 10.00 kL", r.Consumption)
	}
	if !r.BillingApplied {
		t.Error("billing should be applied")
	}

	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentBalance != types.Units(22) {
		t.Errorf("balance: got %s, want 22.00 kL", got.CurrentBalance)
	}
	if got.TotalConsumption != types.Units(10) {
		t.Errorf("total consumption: got %s, want 10.00 kL", got.TotalConsumption)
	}
}

func TestRecordReadingMonotonic(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100)

	if _, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)}); err != nil {
		t.Fatal(err)
	}

	_, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(9)})
	if !errors.Is(err, prepaid.ErrNonMonotonicReading) {
		t.Fatalf("expected ErrNonMonotonicReading, got %v", err)
	}

	// Estimated readings get no exemption from monotonicity.
	_, err = l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(9), IsEstimated: true})
	if !errors.Is(err, prepaid.ErrNonMonotonicReading) {
		t.Fatalf("estimated reading: expected ErrNonMonotonicReading, got %v", err)
	}

	// Balance untouched by the rejected reading.
	got, _ := l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(22) {
		t.Errorf("balance: got %s, want 22.00 kL", got.CurrentBalance)
	}
}

func TestRecordReadingRetroactiveDate(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100)

	now := time.Now()
	if _, err := l.RecordReading(ctx, prepaid.RecordReadingInput{
		PropertyID: p.ID, Reading: types.Units(10), ReadingDate: now,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := l.RecordReading(ctx, prepaid.RecordReadingInput{
		PropertyID: p.ID, Reading: types.Units(11), ReadingDate: now.Add(-time.Hour),
	})
	if !prepaid.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecordReadingZeroConsumption(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100)

	if _, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)}); err != nil {
		t.Fatal(err)
	}

	r, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Consumption.IsZero() {
		t.Errorf("consumption: got %s, want zero", r.Consumption)
	}
	if !r.BillingApplied {
		t.Error("zero consumption readings count as billed")
	}

	got, _ := l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(22) {
		t.Errorf("balance: got %s, want 22.00 kL", got.CurrentBalance)
	}
}

func TestRecordReadingInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100) // 32.00 kL

	// 50 kL of consumption against a 32 kL balance.
	r, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(50)})
	if !errors.Is(err, prepaid.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if r == nil {
		t.Fatal("reading row should survive the failed debit")
	}
	if !r.Consumption.IsZero() {
		t.Errorf("unbilled reading consumption: got %s, want zero", r.Consumption)
	}
	if r.BillingApplied {
		t.Error("billing must not be marked applied")
	}
	if !strings.Contains(r.Notes, "insufficient balance") {
		t.Errorf("notes should record the unbilled consumption, got %q", r.Notes)
	}

	// Balance and total consumption unchanged.
	got, _ := l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(32) {
		t.Errorf("balance: got %s, want 32.00 kL", got.CurrentBalance)
	}
	if !got.TotalConsumption.IsZero() {
		t.Errorf("total consumption: got %s, want zero", got.TotalConsumption)
	}

	// The row is durable and the register moved forward: the next
	// reading computes consumption against 50, not 0.
	latest, err := l.ListReadings(ctx, p.ID, reading.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	last := latest[len(latest)-1]
	if last.Reading != types.Units(50) {
		t.Errorf("latest reading: got %s, want 50.00 kL", last.Reading)
	}
}

func TestRecordRawConsumption(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100)

	r, err := l.RecordRawConsumption(ctx, p.ID, types.Units(7), time.Now(), true, "vendor delta")
	if err != nil {
		t.Fatal(err)
	}
	if r.Reading != types.Units(7) {
		t.Errorf("synthesized reading: got %s, want 7.00 kL", r.Reading)
	}
	if r.Consumption != types.Units(7) {
		t.Errorf("consumption: got %s, want 7.00 kL", r.Consumption)
	}
	if !r.IsEstimated {
		t.Error("estimated flag lost")
	}

	r2, err := l.RecordRawConsumption(ctx, p.ID, types.Units(3), time.Now(), false, "")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reading != types.Units(10) {
		t.Errorf("second synthesized reading: got %s, want 10.00 kL", r2.Reading)
	}

	got, _ := l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(22) {
		t.Errorf("balance: got %s, want 22.00 kL", got.CurrentBalance)
	}
}

func TestConcurrentReadingSubmission(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 270) // 100.00 kL

	// Racing submissions of the same register value must bill its
	// consumption at most once; later writers observe the updated prior
	// reading and derive zero.
	const attempts = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)})
		}()
	}
	close(start)
	wg.Wait()

	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalConsumption != types.Units(10) {
		t.Errorf("total consumption: got %s, want 10.00 kL", got.TotalConsumption)
	}
	if got.CurrentBalance != types.Units(90) {
		t.Errorf("balance: got %s, want 90.00 kL", got.CurrentBalance)
	}
}

func TestDebitConservation(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	// $270 converts to (27000-2000)/250 = 100.00 kL.
	units := creditProperty(t, l, p, 270)
	if units != types.Units(100) {
		t.Fatalf("setup: expected 100.00 kL, got %s", units)
	}

	const attempts = 20
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Debit(ctx, p.ID, types.Units(10)) // half are expected to fail
		}()
	}
	wg.Wait()

	got, err := l.GetProperty(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentBalance.IsNegative() {
		t.Fatalf("balance went negative: %s", got.CurrentBalance)
	}
	// Conservation: whatever was debited is exactly what moved into
	// total consumption.
	sum := got.CurrentBalance.Add(got.TotalConsumption)
	if sum != types.Units(100) {
		t.Errorf("balance + consumption = %s, want 100.00 kL", sum)
	}
	if got.CurrentBalance != types.Units(0) {
		t.Errorf("10 of 20 debits should have succeeded, final balance %s", got.CurrentBalance)
	}
}

// ──────────────────────────────────────────────────
// Low-balance alerts
// ──────────────────────────────────────────────────

// alertRecorder captures low-balance notifications.
type alertRecorder struct {
	mu     sync.Mutex
	fired  int
	lastAt types.Volume
}

func (a *alertRecorder) Name() string { return "test.alerts" }

func (a *alertRecorder) OnLowBalance(ctx context.Context, propertyID id.PropertyID, balance types.Volume) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fired++
	a.lastAt = balance
	return nil
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fired
}

func TestLowBalanceAlert(t *testing.T) {
	rec := &alertRecorder{}
	l := newTestLedger(t, prepaid.WithPlugin(rec))
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 270) // 100.00 kL

	// 100 -> 15: above the 5 kL threshold, silent.
	if _, err := l.Debit(ctx, p.ID, types.Units(85)); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatalf("alert fired above threshold")
	}

	// 15 -> 3: at or below threshold, fires.
	res, err := l.Debit(ctx, p.ID, types.Units(12))
	if err != nil {
		t.Fatal(err)
	}
	if !res.LowBalance {
		t.Error("result should flag low balance")
	}
	if rec.count() != 1 {
		t.Fatalf("expected one alert, got %d", rec.count())
	}
	if rec.lastAt != types.Units(3) {
		t.Errorf("alert balance: got %s, want 3.00 kL", rec.lastAt)
	}
}

func TestZeroDebitAlertsAtLowBalance(t *testing.T) {
	rec := &alertRecorder{}
	l := newTestLedger(t, prepaid.WithPlugin(rec))
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100) // 32.00 kL

	if _, err := l.Debit(ctx, p.ID, types.Units(29)); err != nil { // 3.00 kL left, fires
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Fatalf("setup: expected one alert, got %d", rec.count())
	}

	// The trigger is the resulting balance, not the debit size: a zero
	// debit against an already-low balance still alerts.
	res, err := l.Debit(ctx, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.LowBalance {
		t.Error("zero debit at low balance should flag LowBalance")
	}
	if rec.count() != 2 {
		t.Errorf("expected a second alert, got %d", rec.count())
	}
}

// failingAlerter always reports delivery failure.
type failingAlerter struct{}

func (failingAlerter) Name() string { return "test.failing-alerts" }

func (failingAlerter) OnLowBalance(ctx context.Context, propertyID id.PropertyID, balance types.Volume) error {
	return errors.New("alert channel down")
}

func TestLowBalanceAlertFailureDoesNotRollBack(t *testing.T) {
	l := newTestLedger(t, prepaid.WithPlugin(failingAlerter{}))
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 100) // 32.00 kL

	res, err := l.Debit(ctx, p.ID, types.Units(30))
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBalance != types.Units(2) {
		t.Errorf("debit should stand despite alert failure, balance %s", res.NewBalance)
	}
}

// ──────────────────────────────────────────────────
// Amendments
// ──────────────────────────────────────────────────

func TestAmendReading(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 270) // 100.00 kL

	r, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)})
	if err != nil {
		t.Fatal(err)
	}

	// Correct the register upward: 2 kL more consumption.
	amended, err := l.AmendReading(ctx, r.ID, types.Units(12))
	if err != nil {
		t.Fatal(err)
	}
	if amended.Reading != types.Units(12) {
		t.Errorf("amended reading: got %s, want 12.00 kL", amended.Reading)
	}
	if amended.Consumption != types.Units(12) {
		t.Errorf("amended consumption: got %s, want 12.00 kL", amended.Consumption)
	}

	got, _ := l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(88) {
		t.Errorf("balance: got %s, want 88.00 kL", got.CurrentBalance)
	}
	if got.TotalConsumption != types.Units(12) {
		t.Errorf("total consumption: got %s, want 12.00 kL", got.TotalConsumption)
	}

	// Correct downward: refund 4 kL.
	if _, err := l.AmendReading(ctx, r.ID, types.Units(8)); err != nil {
		t.Fatal(err)
	}
	got, _ = l.GetProperty(ctx, p.ID)
	if got.CurrentBalance != types.Units(92) {
		t.Errorf("balance after downward amendment: got %s, want 92.00 kL", got.CurrentBalance)
	}
	if got.TotalConsumption != types.Units(8) {
		t.Errorf("total consumption after downward amendment: got %s, want 8.00 kL", got.TotalConsumption)
	}
}

func TestAmendReadingOnlyLatest(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	creditProperty(t, l, p, 270)

	first, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(10)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordReading(ctx, prepaid.RecordReadingInput{PropertyID: p.ID, Reading: types.Units(20)}); err != nil {
		t.Fatal(err)
	}

	if _, err := l.AmendReading(ctx, first.ID, types.Units(12)); !errors.Is(err, prepaid.ErrNotLatestReading) {
		t.Fatalf("expected ErrNotLatestReading, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Property lifecycle
// ──────────────────────────────────────────────────

func TestCreatePropertySeedsBaseline(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	readings, err := l.ListReadings(ctx, p.ID, reading.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected baseline reading, got %d rows", len(readings))
	}
	if !readings[0].Reading.IsZero() || !readings[0].Consumption.IsZero() {
		t.Error("baseline reading should be zero")
	}
}

func TestCreatePropertyRejectsUnknownCategory(t *testing.T) {
	l := newTestLedger(t)

	err := l.CreateProperty(context.Background(), &property.Property{
		MeterNumber: "MTR-X", Category: "villa",
	})
	if !prepaid.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListTokensOldestFirst(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)
	ctx := context.Background()

	first, err := l.IssueToken(ctx, completedPayment(p, 50))
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	second, err := l.IssueToken(ctx, completedPayment(p, 60))
	if err != nil {
		t.Fatal(err)
	}

	tokens, err := l.ListTokens(ctx, p.ID, store.TokenListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].ID.String() != first.ID.String() || tokens[1].ID.String() != second.ID.String() {
		t.Error("tokens should list oldest first")
	}
}

func TestGetPropertyByMeter(t *testing.T) {
	l := newTestLedger(t)
	p := newTestProperty(t, l)

	got, err := l.GetPropertyByMeter(context.Background(), p.MeterNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != p.ID.String() {
		t.Errorf("got %s, want %s", got.ID, p.ID)
	}

	if _, err := l.GetPropertyByMeter(context.Background(), "MTR-UNKNOWN"); !errors.Is(err, prepaid.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}
