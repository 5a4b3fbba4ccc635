package mongo

import (
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// ==================== Property models ====================

type propertyModel struct {
	ID                  string     `bson:"_id"`
	MeterNumber         string     `bson:"meter_number"`
	Category            string     `bson:"category"`
	CurrentBalance      int64      `bson:"current_balance"`
	TotalConsumption    int64      `bson:"total_consumption"`
	LastTokenRedemption *time.Time `bson:"last_token_redemption,omitempty"`
	Address             string     `bson:"address,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

func toPropertyModel(p *property.Property) *propertyModel {
	return &propertyModel{
		ID:                  p.ID.String(),
		MeterNumber:         p.MeterNumber,
		Category:            string(p.Category),
		CurrentBalance:      p.CurrentBalance.Centi(),
		TotalConsumption:    p.TotalConsumption.Centi(),
		LastTokenRedemption: p.LastTokenRedemption,
		Address:             p.Address,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func fromPropertyModel(m *propertyModel) (*property.Property, error) {
	propertyID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &property.Property{
		Entity:              types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                  propertyID,
		MeterNumber:         m.MeterNumber,
		Category:            rate.Category(m.Category),
		CurrentBalance:      types.Centiunits(m.CurrentBalance),
		TotalConsumption:    types.Centiunits(m.TotalConsumption),
		LastTokenRedemption: m.LastTokenRedemption,
		Address:             m.Address,
	}, nil
}

// ==================== Rate schedule models ====================

type scheduleModel struct {
	ID             string     `bson:"_id"`
	Category       string     `bson:"category"`
	UnitPrice      int64      `bson:"unit_price"`
	FixedCharge    int64      `bson:"fixed_charge"`
	MinimumCharge  int64      `bson:"minimum_charge"`
	Currency       string     `bson:"currency"`
	EffectiveFrom  time.Time  `bson:"effective_from"`
	EffectiveUntil *time.Time `bson:"effective_until,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toScheduleModel(s *rate.Schedule) *scheduleModel {
	return &scheduleModel{
		ID:             s.ID.String(),
		Category:       string(s.Category),
		UnitPrice:      s.UnitPrice.Amount,
		FixedCharge:    s.FixedCharge.Amount,
		MinimumCharge:  s.MinimumCharge.Amount,
		Currency:       s.UnitPrice.Currency,
		EffectiveFrom:  s.EffectiveFrom,
		EffectiveUntil: s.EffectiveUntil,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromScheduleModel(m *scheduleModel) (*rate.Schedule, error) {
	scheduleID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &rate.Schedule{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             scheduleID,
		Category:       rate.Category(m.Category),
		UnitPrice:      types.Money{Amount: m.UnitPrice, Currency: m.Currency},
		FixedCharge:    types.Money{Amount: m.FixedCharge, Currency: m.Currency},
		MinimumCharge:  types.Money{Amount: m.MinimumCharge, Currency: m.Currency},
		EffectiveFrom:  m.EffectiveFrom,
		EffectiveUntil: m.EffectiveUntil,
	}, nil
}

// ==================== Token models ====================

type tokenModel struct {
	ID           string     `bson:"_id"`
	PropertyID   string     `bson:"property_id"`
	PaymentID    string     `bson:"payment_id"`
	Code         string     `bson:"code"`
	Units        int64      `bson:"units"`
	IssuedAmount int64      `bson:"issued_amount"`
	Currency     string     `bson:"currency"`
	IsRedeemed   bool       `bson:"is_redeemed"`
	RedeemedAt   *time.Time `bson:"redeemed_at,omitempty"`
	ExpiresAt    time.Time  `bson:"expires_at"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func toTokenModel(t *token.Token) *tokenModel {
	return &tokenModel{
		ID:           t.ID.String(),
		PropertyID:   t.PropertyID.String(),
		PaymentID:    t.PaymentID.String(),
		Code:         t.Code,
		Units:        t.Units.Centi(),
		IssuedAmount: t.IssuedAmount.Amount,
		Currency:     t.IssuedAmount.Currency,
		IsRedeemed:   t.IsRedeemed,
		RedeemedAt:   t.RedeemedAt,
		ExpiresAt:    t.ExpiresAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func fromTokenModel(m *tokenModel) (*token.Token, error) {
	tokenID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	propertyID, err := id.Parse(m.PropertyID)
	if err != nil {
		return nil, err
	}
	paymentID, err := id.Parse(m.PaymentID)
	if err != nil {
		return nil, err
	}
	return &token.Token{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           tokenID,
		PropertyID:   propertyID,
		PaymentID:    paymentID,
		Code:         m.Code,
		Units:        types.Centiunits(m.Units),
		IssuedAmount: types.Money{Amount: m.IssuedAmount, Currency: m.Currency},
		IsRedeemed:   m.IsRedeemed,
		RedeemedAt:   m.RedeemedAt,
		ExpiresAt:    m.ExpiresAt,
	}, nil
}

// ==================== Meter reading models ====================

type readingModel struct {
	ID             string    `bson:"_id"`
	PropertyID     string    `bson:"property_id"`
	Reading        int64     `bson:"reading"`
	Consumption    int64     `bson:"consumption"`
	ReadingDate    time.Time `bson:"reading_date"`
	IsEstimated    bool      `bson:"is_estimated"`
	BillingApplied bool      `bson:"billing_applied"`
	Notes          string    `bson:"notes,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toReadingModel(r *reading.MeterReading) *readingModel {
	return &readingModel{
		ID:             r.ID.String(),
		PropertyID:     r.PropertyID.String(),
		Reading:        r.Reading.Centi(),
		Consumption:    r.Consumption.Centi(),
		ReadingDate:    r.ReadingDate,
		IsEstimated:    r.IsEstimated,
		BillingApplied: r.BillingApplied,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromReadingModel(m *readingModel) (*reading.MeterReading, error) {
	readingID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	propertyID, err := id.Parse(m.PropertyID)
	if err != nil {
		return nil, err
	}
	return &reading.MeterReading{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             readingID,
		PropertyID:     propertyID,
		Reading:        types.Centiunits(m.Reading),
		Consumption:    types.Centiunits(m.Consumption),
		ReadingDate:    m.ReadingDate,
		IsEstimated:    m.IsEstimated,
		BillingApplied: m.BillingApplied,
		Notes:          m.Notes,
	}, nil
}
