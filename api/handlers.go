package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/payment"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// ─── rates ───────────────────────────────────────────────────────────

type activateRateRequest struct {
	Category      string `json:"category"`
	UnitPrice     string `json:"unit_price"`
	FixedCharge   string `json:"fixed_charge"`
	MinimumCharge string `json:"minimum_charge"`
	Currency      string `json:"currency"`
	EffectiveFrom string `json:"effective_from,omitempty"`
}

func (s *Server) handleActivateRate(w http.ResponseWriter, r *http.Request) {
	var req activateRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	unitPrice, err := types.ParseMoney(req.UnitPrice, req.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unit_price: "+err.Error())
		return
	}
	fixedCharge, err := types.ParseMoney(orZero(req.FixedCharge), req.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "fixed_charge: "+err.Error())
		return
	}
	minimumCharge, err := types.ParseMoney(orZero(req.MinimumCharge), req.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "minimum_charge: "+err.Error())
		return
	}

	sched := &rate.Schedule{
		Category:      rate.Category(req.Category),
		UnitPrice:     unitPrice,
		FixedCharge:   fixedCharge,
		MinimumCharge: minimumCharge,
	}
	if req.EffectiveFrom != "" {
		from, err := time.Parse(time.RFC3339, req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "effective_from: "+err.Error())
			return
		}
		sched.EffectiveFrom = from
	}

	if err := s.ledger.ActivateSchedule(r.Context(), sched); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleListRates(w http.ResponseWriter, r *http.Request) {
	category := rate.Category(chi.URLParam(r, "category"))
	if !category.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "unknown property category")
		return
	}
	schedules, err := s.ledger.ListSchedules(r.Context(), category)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

// ─── properties ──────────────────────────────────────────────────────

type createPropertyRequest struct {
	MeterNumber string `json:"meter_number"`
	Category    string `json:"category"`
	Address     string `json:"address,omitempty"`
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var req createPropertyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p := &property.Property{
		MeterNumber: req.MeterNumber,
		Category:    rate.Category(req.Category),
		Address:     req.Address,
	}
	if err := s.ledger.CreateProperty(r.Context(), p); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}
	p, err := s.ledger.GetProperty(r.Context(), propertyID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}

	opts := store.TokenListOpts{}
	switch r.URL.Query().Get("redeemed") {
	case "true":
		v := true
		opts.Redeemed = &v
	case "false":
		v := false
		opts.Redeemed = &v
	}

	tokens, err := s.ledger.ListTokens(r.Context(), propertyID, opts)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}

	opts := reading.ListOpts{}
	if v := r.URL.Query().Get("start"); v != "" {
		if opts.Start, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "start: "+err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if opts.End, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "end: "+err.Error())
			return
		}
	}

	readings, err := s.ledger.ListReadings(r.Context(), propertyID, opts)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"readings": readings})
}

// ─── payments and tokens ─────────────────────────────────────────────

type confirmPaymentRequest struct {
	PaymentID  string `json:"payment_id,omitempty"`
	PropertyID string `json:"property_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference,omitempty"`
}

type tokenResponse struct {
	*token.Token
	DisplayCode string `json:"display_code"`
}

// handleConfirmPayment records a completed payment and issues its
// credit token. Retrying with the same payment_id returns the already
// issued token, so gateway callbacks can be delivered more than once.
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	propertyID, err := id.ParsePropertyID(req.PropertyID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}
	amount, err := types.ParseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "amount: "+err.Error())
		return
	}

	pay := &payment.Payment{
		Entity:     types.NewEntity(),
		PropertyID: propertyID,
		Amount:     amount,
		Status:     payment.StatusCompleted,
		Reference:  req.Reference,
	}
	if req.PaymentID != "" {
		if pay.ID, err = id.ParsePaymentID(req.PaymentID); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid payment id")
			return
		}
	} else {
		pay.ID = id.NewPaymentID()
	}

	t, err := s.ledger.IssueToken(r.Context(), pay)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: t, DisplayCode: token.FormatCode(t.Code)})
}

type redeemTokenRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemToken(w http.ResponseWriter, r *http.Request) {
	var req redeemTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusUnprocessableEntity, "code is required")
		return
	}

	result, err := s.ledger.Redeem(r.Context(), req.Code)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── readings and consumption ────────────────────────────────────────

type recordReadingRequest struct {
	PropertyID  string `json:"property_id"`
	Reading     string `json:"reading"`
	ReadingDate string `json:"reading_date,omitempty"`
	IsEstimated bool   `json:"is_estimated,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	var req recordReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	propertyID, err := id.ParsePropertyID(req.PropertyID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}
	value, err := types.ParseVolume(req.Reading)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reading: "+err.Error())
		return
	}

	in := prepaid.RecordReadingInput{
		PropertyID:  propertyID,
		Reading:     value,
		IsEstimated: req.IsEstimated,
		Notes:       req.Notes,
	}
	if req.ReadingDate != "" {
		if in.ReadingDate, err = time.Parse(time.RFC3339, req.ReadingDate); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "reading_date: "+err.Error())
			return
		}
	}

	rec, err := s.ledger.RecordReading(r.Context(), in)
	if err != nil {
		// The reading row survives an uncovered debit; return it with the
		// 402 so callers can reconcile later.
		if rec != nil && errors.Is(err, prepaid.ErrInsufficientBalance) {
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error": map[string]interface{}{
					"message": err.Error(),
					"type":    "error",
				},
				"reading": rec,
			})
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type amendReadingRequest struct {
	Reading string `json:"reading"`
}

func (s *Server) handleAmendReading(w http.ResponseWriter, r *http.Request) {
	readingID, err := id.ParseReadingID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid reading id")
		return
	}

	var req amendReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	value, err := types.ParseVolume(req.Reading)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reading: "+err.Error())
		return
	}

	rec, err := s.ledger.AmendReading(r.Context(), readingID, value)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type recordConsumptionRequest struct {
	PropertyID  string `json:"property_id"`
	Units       string `json:"units"`
	At          string `json:"at,omitempty"`
	IsEstimated bool   `json:"is_estimated,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (s *Server) handleRecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req recordConsumptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	propertyID, err := id.ParsePropertyID(req.PropertyID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid property id")
		return
	}
	units, err := types.ParseVolume(req.Units)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "units: "+err.Error())
		return
	}

	at := time.Now().UTC()
	if req.At != "" {
		if at, err = time.Parse(time.RFC3339, req.At); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "at: "+err.Error())
			return
		}
	}

	rec, err := s.ledger.RecordRawConsumption(r.Context(), propertyID, units, at, req.IsEstimated, req.Notes)
	if err != nil {
		if rec != nil && errors.Is(err, prepaid.ErrInsufficientBalance) {
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error": map[string]interface{}{
					"message": err.Error(),
					"type":    "error",
				},
				"reading": rec,
			})
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
