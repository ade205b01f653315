// Package http exposes the public submission endpoint plus health,
// readiness, and metrics routes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submitter ingests validated observation batches.
type Submitter interface {
	Submit(ctx context.Context, items []domain.SubmitItem, nickname string) error
	CheckReadiness(ctx context.Context) error
}

// nicknameHeader carries the optional pseudonymous submitter identity.
const nicknameHeader = "X-Nickname"

type submitRequest struct {
	Items []submitItem `json:"items"`
}

// submitItem is the wire shape of one observation. Lat and lon are decoded
// as json.Number so their decimal text reaches normalization unrounded.
type submitItem struct {
	Time             string              `json:"time"`
	Lat              json.Number         `json:"lat"`
	Lon              json.Number         `json:"lon"`
	Accuracy         int                 `json:"accuracy"`
	Altitude         int                 `json:"altitude"`
	AltitudeAccuracy int                 `json:"altitude_accuracy"`
	Radio            string              `json:"radio"`
	Cell             []domain.CellTower  `json:"cell"`
	Wifi             []domain.WifiSignal `json:"wifi"`
}

type requestError struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type errorResponse struct {
	Errors []requestError `json:"errors"`
}

var errNoSignals = errors.New("item without cell or wifi entries")

// Server exposes the submission API over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the submit, health, readiness, and
// metrics routes.
func NewServer(addr string, submitter Submitter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("POST /v1/submit", s.handleSubmit(submitter))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(submitter))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(submitter Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		decoder.UseNumber()

		var req submitRequest
		if err := decoder.Decode(&req); err != nil {
			writeValidationError(w, "body", "Invalid JSON body.")
			return
		}

		items, err := toSubmitItems(req.Items)
		if err != nil {
			writeValidationError(w, "body",
				"You need to provide a mapping with least one cell or wifi entry.")
			return
		}

		if err := submitter.Submit(r.Context(), items, r.Header.Get(nicknameHeader)); err != nil {
			s.logger.Error("submit failed", "items", len(items), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "submission could not be processed",
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// toSubmitItems converts wire items into pipeline input. Every item must
// carry at least one cell or wifi entry; one bare item rejects the batch.
func toSubmitItems(items []submitItem) ([]domain.SubmitItem, error) {
	out := make([]domain.SubmitItem, 0, len(items))
	for _, item := range items {
		if len(item.Cell) == 0 && len(item.Wifi) == 0 {
			return nil, errNoSignals
		}
		out = append(out, domain.SubmitItem{
			Time:             item.Time,
			Lat:              item.Lat.String(),
			Lon:              item.Lon.String(),
			Accuracy:         item.Accuracy,
			Altitude:         item.Altitude,
			AltitudeAccuracy: item.AltitudeAccuracy,
			Radio:            item.Radio,
			Cell:             item.Cell,
			Wifi:             item.Wifi,
		})
	}
	return out, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeValidationError(w http.ResponseWriter, name, description string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Errors: []requestError{{Name: name, Description: description}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
