// Package api provides the HTTP server for the prepaid ledger daemon.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquastack/prepaid"
)

// Server is the prepaid HTTP API server.
type Server struct {
	ledger         *prepaid.Ledger
	health         func() error
	metricsEnabled bool
}

// NewServer creates a new API server over the given ledger. The health
// func is called by GET /health; pass the store's Ping bound to a
// context, or nil to report plain liveness.
func NewServer(ledger *prepaid.Ledger, health func() error) *Server {
	return &Server{ledger: ledger, health: health}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/rates", s.handleActivateRate)
		r.Get("/rates/{category}", s.handleListRates)

		r.Post("/properties", s.handleCreateProperty)
		r.Get("/properties/{id}", s.handleGetProperty)
		r.Get("/properties/{id}/tokens", s.handleListTokens)
		r.Get("/properties/{id}/readings", s.handleListReadings)

		r.Post("/payments/confirm", s.handleConfirmPayment)
		r.Post("/tokens/redeem", s.handleRedeemToken)

		r.Post("/readings", s.handleRecordReading)
		r.Patch("/readings/{id}", s.handleAmendReading)
		r.Post("/consumption", s.handleRecordConsumption)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
