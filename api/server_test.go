package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := prepaid.New(memory.New(), prepaid.WithLogger(logger))
	if err := l.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Stop() })

	srv := httptest.NewServer(NewServer(l, func() error { return nil }).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := getJSON(t, srv, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body: got %v", body)
	}
}

// TestVendingFlow walks the full pipeline over HTTP: rate activation,
// property registration, payment confirmation, token redemption, and a
// billed meter reading.
func TestVendingFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv, "/v1/rates", `{
		"category": "commercial",
		"unit_price": "2.50",
		"fixed_charge": "20.00",
		"minimum_charge": "30.00",
		"currency": "usd"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("activate rate: status %d", resp.StatusCode)
	}

	resp, prop := postJSON(t, srv, "/v1/properties", `{
		"meter_number": "MTR-1001",
		"category": "commercial",
		"address": "4 Harbour Rd"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create property: status %d", resp.StatusCode)
	}
	propertyID, _ := prop["id"].(string)
	if propertyID == "" {
		t.Fatalf("property response missing id: %v", prop)
	}

	resp, tok := postJSON(t, srv, "/v1/payments/confirm", fmt.Sprintf(`{
		"property_id": %q,
		"amount": "100.00",
		"currency": "usd",
		"reference": "gw-tx-1001"
	}`, propertyID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("confirm payment: status %d, body %v", resp.StatusCode, tok)
	}
	code, _ := tok["code"].(string)
	if len(code) != 20 {
		t.Fatalf("token code: got %q", code)
	}
	display, _ := tok["display_code"].(string)
	if len(display) != 24 {
		t.Errorf("display code: got %q", display)
	}

	resp, redeemed := postJSON(t, srv, "/v1/tokens/redeem", fmt.Sprintf(`{"code": %q}`, code))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: status %d, body %v", resp.StatusCode, redeemed)
	}

	// $100 at $2.50/kL with a $20 fixed charge credits 32.00 kL.
	resp, prop = getJSON(t, srv, "/v1/properties/"+propertyID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get property: status %d", resp.StatusCode)
	}
	balance, _ := prop["current_balance"].(map[string]interface{})
	if balance["centiunits"] != float64(3200) {
		t.Errorf("balance: got %v", prop["current_balance"])
	}

	resp, rec := postJSON(t, srv, "/v1/readings", fmt.Sprintf(`{
		"property_id": %q,
		"reading": "10.00"
	}`, propertyID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record reading: status %d, body %v", resp.StatusCode, rec)
	}
	if rec["billing_applied"] != true {
		t.Errorf("billing_applied: got %v", rec["billing_applied"])
	}
}

func TestRedeemTwiceConflicts(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/v1/rates", `{
		"category": "commercial",
		"unit_price": "2.50",
		"minimum_charge": "30.00",
		"currency": "usd"
	}`)
	_, prop := postJSON(t, srv, "/v1/properties", `{
		"meter_number": "MTR-1002",
		"category": "commercial"
	}`)
	propertyID := prop["id"].(string)

	_, tok := postJSON(t, srv, "/v1/payments/confirm", fmt.Sprintf(`{
		"property_id": %q, "amount": "50.00", "currency": "usd"
	}`, propertyID))
	code := tok["code"].(string)

	resp, _ := postJSON(t, srv, "/v1/tokens/redeem", fmt.Sprintf(`{"code": %q}`, code))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first redeem: status %d", resp.StatusCode)
	}
	resp, body := postJSON(t, srv, "/v1/tokens/redeem", fmt.Sprintf(`{"code": %q}`, code))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second redeem: status %d, body %v", resp.StatusCode, body)
	}
}

func TestReadingInsufficientBalanceReturnsRow(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/v1/rates", `{
		"category": "residential",
		"unit_price": "2.00",
		"currency": "usd"
	}`)
	_, prop := postJSON(t, srv, "/v1/properties", `{
		"meter_number": "MTR-1003",
		"category": "residential"
	}`)
	propertyID := prop["id"].(string)

	// No credit at all: any consumption is uncovered.
	resp, body := postJSON(t, srv, "/v1/readings", fmt.Sprintf(`{
		"property_id": %q,
		"reading": "5.00"
	}`, propertyID))
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, body %v", resp.StatusCode, body)
	}
	if _, ok := body["error"]; !ok {
		t.Error("expected error payload")
	}
	rec, ok := body["reading"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected persisted reading in response, got %v", body)
	}
	if rec["billing_applied"] != false {
		t.Errorf("billing_applied: got %v", rec["billing_applied"])
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	_, prop := postJSON(t, srv, "/v1/properties", `{
		"meter_number": "MTR-1004",
		"category": "industrial"
	}`)
	propertyID := prop["id"].(string)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"rate not configured", "/v1/payments/confirm",
			fmt.Sprintf(`{"property_id": %q, "amount": "50.00", "currency": "usd"}`, propertyID),
			http.StatusServiceUnavailable},
		{"unknown token", "/v1/tokens/redeem",
			`{"code": "00000000000000000000"}`,
			http.StatusNotFound},
		{"unknown category", "/v1/properties",
			`{"meter_number": "MTR-X", "category": "villa"}`,
			http.StatusUnprocessableEntity},
		{"duplicate meter", "/v1/properties",
			`{"meter_number": "MTR-1004", "category": "industrial"}`,
			http.StatusConflict},
		{"malformed body", "/v1/readings",
			`{"property_id": 42}`,
			http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, srv, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status: got %d, want %d (body %v)", resp.StatusCode, tt.status, body)
			}
		})
	}
}
