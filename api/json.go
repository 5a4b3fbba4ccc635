package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aquastack/prepaid"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeLedgerError maps ledger errors onto HTTP status codes: rejected
// input is 422, state conflicts are 409, missing entities are 404, an
// uncovered debit is 402, a category without a configured rate is 503,
// and everything else is a 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prepaid.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, prepaid.ErrRateNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, prepaid.ErrPaymentNotCompleted),
		errors.Is(err, prepaid.ErrNotLatestReading):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case prepaid.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case prepaid.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case prepaid.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
