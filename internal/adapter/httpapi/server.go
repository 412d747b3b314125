// Package httpapi is the read-side query façade: reporters fetch consensus,
// bias, and raw record views over HTTP while the usual health, readiness,
// and metrics endpoints ride alongside.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// BiasService is the slice of the bias engine the API serves.
type BiasService interface {
	Consensus(ctx context.Context, city string, targetDate time.Time, horizon int, source string) (domain.SpatialConsensus, error)
	Spread(ctx context.Context, city string, targetDate time.Time, horizon int, source string) (domain.SpatialConsensus, []domain.GridpointForecast, error)
	BiasByHorizon(ctx context.Context, q bias.Query) (bias.Report, error)
}

// RecordReader serves the raw stored records.
type RecordReader interface {
	GetForecasts(ctx context.Context, filter store.ForecastFilter) ([]domain.ForecastRecord, error)
	GetActuals(ctx context.Context, filter store.ActualFilter) ([]domain.ActualRecord, error)
}

// Server exposes the query façade plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	engine     BiasService
	records    RecordReader
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(addr string, engine BiasService, records RecordReader, ready ReadinessChecker, logger *slog.Logger, metrics *observability.Metrics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		engine:  engine,
		records: records,
		logger:  logger,
		metrics: metrics,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/consensus", s.handleConsensus)
	mux.HandleFunc("GET /api/v1/spread", s.handleSpread)
	mux.HandleFunc("GET /api/v1/bias", s.handleBias)
	mux.HandleFunc("GET /api/v1/forecasts", s.handleForecasts)
	mux.HandleFunc("GET /api/v1/actuals", s.handleActuals)

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
