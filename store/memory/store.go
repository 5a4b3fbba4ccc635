// Package memory provides an in-memory Store for tests and demos.
// All conditional mutations run under the store write lock, which gives
// the same linearization the SQL backends get from transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	properties map[string]*property.Property
	schedules  map[string]*rate.Schedule
	tokens     map[string]*token.Token
	tokenCodes map[string]string // code -> token id
	readings   map[string]*reading.MeterReading
}

func New() *Store {
	return &Store{
		properties: make(map[string]*property.Property),
		schedules:  make(map[string]*rate.Schedule),
		tokens:     make(map[string]*token.Token),
		tokenCodes: make(map[string]string),
		readings:   make(map[string]*reading.MeterReading),
	}
}

// Property store implementation

func (s *Store) CreateProperty(_ context.Context, p *property.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.properties[p.ID.String()]; exists {
		return prepaid.ErrAlreadyExists
	}
	for _, existing := range s.properties {
		if existing.MeterNumber == p.MeterNumber {
			return prepaid.ErrAlreadyExists
		}
	}
	cp := *p
	s.properties[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetProperty(_ context.Context, propertyID id.PropertyID) (*property.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.properties[propertyID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, prepaid.ErrPropertyNotFound
}

func (s *Store) GetPropertyByMeter(_ context.Context, meterNumber string) (*property.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.properties {
		if p.MeterNumber == meterNumber {
			cp := *p
			return &cp, nil
		}
	}
	return nil, prepaid.ErrPropertyNotFound
}

func (s *Store) UpdateProperty(_ context.Context, p *property.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.properties[p.ID.String()]
	if !ok {
		return prepaid.ErrPropertyNotFound
	}
	// Balance fields are owned by the atomic operations; only the soft
	// fields follow the caller's copy.
	existing.MeterNumber = p.MeterNumber
	existing.Category = p.Category
	existing.Address = p.Address
	existing.Touch()
	return nil
}

// Rate schedule store implementation

func (s *Store) ActivateSchedule(_ context.Context, sched *rate.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.schedules {
		if existing.Category == sched.Category && existing.Open() {
			until := sched.EffectiveFrom
			existing.EffectiveUntil = &until
			existing.Touch()
		}
	}
	cp := *sched
	s.schedules[sched.ID.String()] = &cp
	return nil
}

func (s *Store) ResolveSchedule(_ context.Context, category rate.Category, at time.Time) (*rate.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sched := range s.schedules {
		if sched.Category == category && sched.Covers(at) {
			cp := *sched
			return &cp, nil
		}
	}
	return nil, prepaid.ErrRateNotConfigured
}

func (s *Store) ListSchedules(_ context.Context, category rate.Category) ([]*rate.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rate.Schedule, 0)
	for _, sched := range s.schedules {
		if category == "" || sched.Category == category {
			cp := *sched
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EffectiveFrom.Before(result[j].EffectiveFrom)
	})
	return result, nil
}

// Token store implementation

func (s *Store) CreateToken(_ context.Context, t *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokenCodes[t.Code]; exists {
		return prepaid.ErrDuplicateCode
	}
	for _, existing := range s.tokens {
		if existing.PaymentID.String() == t.PaymentID.String() {
			return prepaid.ErrAlreadyExists
		}
	}
	cp := *t
	s.tokens[t.ID.String()] = &cp
	s.tokenCodes[t.Code] = t.ID.String()
	return nil
}

func (s *Store) GetToken(_ context.Context, tokenID id.TokenID) (*token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokens[tokenID.String()]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, prepaid.ErrTokenNotFound
}

func (s *Store) GetTokenByCode(_ context.Context, code string) (*token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tokenID, ok := s.tokenCodes[code]; ok {
		if t, ok := s.tokens[tokenID]; ok {
			cp := *t
			return &cp, nil
		}
	}
	return nil, prepaid.ErrTokenNotFound
}

func (s *Store) GetTokenByPayment(_ context.Context, paymentID id.PaymentID) (*token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.PaymentID.String() == paymentID.String() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, prepaid.ErrTokenNotFound
}

func (s *Store) ListTokens(_ context.Context, propertyID id.PropertyID, opts store.TokenListOpts) ([]*token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*token.Token, 0)
	for _, t := range s.tokens {
		if t.PropertyID.String() != propertyID.String() {
			continue
		}
		if opts.Redeemed != nil && t.IsRedeemed != *opts.Redeemed {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Atomic balance operations

func (s *Store) ApplyRedemption(_ context.Context, tokenID id.TokenID, at time.Time) (*store.BalanceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID.String()]
	if !ok {
		return nil, prepaid.ErrTokenNotFound
	}
	if t.IsRedeemed {
		return nil, prepaid.ErrTokenAlreadyRedeemed
	}
	p, ok := s.properties[t.PropertyID.String()]
	if !ok {
		return nil, prepaid.ErrPropertyNotFound
	}

	previous := p.CurrentBalance
	t.IsRedeemed = true
	redeemedAt := at
	t.RedeemedAt = &redeemedAt
	t.Touch()
	p.CurrentBalance = p.CurrentBalance.Add(t.Units)
	lastRedemption := at
	p.LastTokenRedemption = &lastRedemption
	p.Touch()

	return &store.BalanceChange{
		PropertyID: p.ID,
		Previous:   previous,
		Current:    p.CurrentBalance,
		At:         at,
	}, nil
}

func (s *Store) ApplyConsumption(_ context.Context, propertyID id.PropertyID, units types.Volume) (*store.BalanceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[propertyID.String()]
	if !ok {
		return nil, prepaid.ErrPropertyNotFound
	}
	if p.CurrentBalance.LessThan(units) {
		return nil, prepaid.ErrInsufficientBalance
	}

	previous := p.CurrentBalance
	p.CurrentBalance = p.CurrentBalance.Subtract(units)
	p.TotalConsumption = p.TotalConsumption.Add(units)
	p.Touch()

	return &store.BalanceChange{
		PropertyID: p.ID,
		Previous:   previous,
		Current:    p.CurrentBalance,
		At:         time.Now().UTC(),
	}, nil
}

// Meter reading store implementation

func (s *Store) CreateReading(_ context.Context, r *reading.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.readings[r.ID.String()]; exists {
		return prepaid.ErrAlreadyExists
	}
	cp := *r
	s.readings[r.ID.String()] = &cp
	return nil
}

func (s *Store) GetReading(_ context.Context, readingID id.ReadingID) (*reading.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.readings[readingID.String()]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, prepaid.ErrReadingNotFound
}

func (s *Store) LatestReading(_ context.Context, propertyID id.PropertyID) (*reading.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestLocked(propertyID)
	if latest == nil {
		return nil, prepaid.ErrReadingNotFound
	}
	cp := *latest
	return &cp, nil
}

// latestLocked returns the most recent reading for a property. Ties on
// reading date break on creation time, matching append order.
func (s *Store) latestLocked(propertyID id.PropertyID) *reading.MeterReading {
	var latest *reading.MeterReading
	for _, r := range s.readings {
		if r.PropertyID.String() != propertyID.String() {
			continue
		}
		if latest == nil ||
			r.ReadingDate.After(latest.ReadingDate) ||
			(r.ReadingDate.Equal(latest.ReadingDate) && r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	return latest
}

func (s *Store) ListReadings(_ context.Context, propertyID id.PropertyID, opts reading.ListOpts) ([]*reading.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*reading.MeterReading, 0)
	for _, r := range s.readings {
		if r.PropertyID.String() != propertyID.String() {
			continue
		}
		if !opts.Start.IsZero() && r.ReadingDate.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !r.ReadingDate.Before(opts.End) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ReadingDate.Equal(result[j].ReadingDate) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ReadingDate.Before(result[j].ReadingDate)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) ApplyAmendment(_ context.Context, r *reading.MeterReading, delta types.Volume) (*store.BalanceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.readings[r.ID.String()]
	if !ok {
		return nil, prepaid.ErrReadingNotFound
	}
	p, ok := s.properties[r.PropertyID.String()]
	if !ok {
		return nil, prepaid.ErrPropertyNotFound
	}
	if delta.IsPositive() && p.CurrentBalance.LessThan(delta) {
		return nil, prepaid.ErrInsufficientBalance
	}

	previous := p.CurrentBalance
	*existing = *r
	existing.Touch()
	p.TotalConsumption = p.TotalConsumption.Add(delta)
	p.CurrentBalance = p.CurrentBalance.Subtract(delta)
	p.Touch()

	return &store.BalanceChange{
		PropertyID: p.ID,
		Previous:   previous,
		Current:    p.CurrentBalance,
		At:         time.Now().UTC(),
	}, nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
