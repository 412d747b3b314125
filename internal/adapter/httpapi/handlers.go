package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

var validate = validator.New()

// consensusQuery holds query parameters shared by the consensus and spread
// endpoints.
type consensusQuery struct {
	City    string    `validate:"required"`
	Date    time.Time `validate:"required"`
	Horizon int       `validate:"gte=0"`
	Source  string    `validate:"required"`
}

// biasQuery holds query parameters for the bias endpoint. Horizon bounds are
// optional; From/To default to the full stored history.
type biasQuery struct {
	City       string `validate:"required"`
	Source     string `validate:"required"`
	From       time.Time
	To         time.Time
	MinHorizon *int
	MaxHorizon *int
}

// recordsQuery holds query parameters for the raw forecast and actual
// record endpoints.
type recordsQuery struct {
	City       string `validate:"required"`
	Source     string
	From       time.Time
	To         time.Time
	MinHorizon *int
	MaxHorizon *int
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	defer s.observe("consensus", time.Now())

	q, err := parseConsensusQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	consensus, err := s.engine.Consensus(r.Context(), q.City, q.Date, q.Horizon, q.Source)
	if err != nil {
		s.writeQueryError(w, err, "no consensus for requested group")
		return
	}
	writeJSON(w, http.StatusOK, consensus)
}

func (s *Server) handleSpread(w http.ResponseWriter, r *http.Request) {
	defer s.observe("spread", time.Now())

	q, err := parseConsensusQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	consensus, points, err := s.engine.Spread(r.Context(), q.City, q.Date, q.Horizon, q.Source)
	if err != nil {
		s.writeQueryError(w, err, "no forecasts for requested group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consensus":  consensus,
		"gridpoints": points,
	})
}

func (s *Server) handleBias(w http.ResponseWriter, r *http.Request) {
	defer s.observe("bias", time.Now())

	q, err := parseBiasQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.engine.BiasByHorizon(r.Context(), bias.Query{
		City:       q.City,
		Source:     q.Source,
		From:       q.From,
		To:         q.To,
		MinHorizon: q.MinHorizon,
		MaxHorizon: q.MaxHorizon,
	})
	if err != nil {
		s.writeQueryError(w, err, "no forecasts for requested window")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	defer s.observe("forecasts", time.Now())

	q, err := parseRecordsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := s.records.GetForecasts(r.Context(), store.ForecastFilter{
		City:       q.City,
		Source:     q.Source,
		TargetFrom: q.From,
		TargetTo:   q.To,
		MinHorizon: q.MinHorizon,
		MaxHorizon: q.MaxHorizon,
	})
	if err != nil {
		s.writeQueryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forecasts": records, "count": len(records)})
}

func (s *Server) handleActuals(w http.ResponseWriter, r *http.Request) {
	defer s.observe("actuals", time.Now())

	q, err := parseRecordsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := s.records.GetActuals(r.Context(), store.ActualFilter{
		City:   q.City,
		Source: q.Source,
		From:   q.From,
		To:     q.To,
	})
	if err != nil {
		s.writeQueryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actuals": records, "count": len(records)})
}

// writeQueryError maps engine and store errors onto HTTP statuses. An
// aggregation gap is a 404 with an explicit message so "no data" can never
// be mistaken for "bias is zero".
func (s *Server) writeQueryError(w http.ResponseWriter, err error, gapMessage string) {
	switch {
	case errors.Is(err, bias.ErrAggregationGap):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  gapMessage,
			"detail": err.Error(),
		})
	case errors.Is(err, store.ErrStoreUnavailable):
		s.logger.Error("query failed, store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (s *Server) observe(query string, start time.Time) {
	s.metrics.QueryDuration.With(prometheus.Labels{"query": query}).Observe(time.Since(start).Seconds())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseConsensusQuery(r *http.Request) (consensusQuery, error) {
	q := consensusQuery{
		City:   r.URL.Query().Get("city"),
		Source: r.URL.Query().Get("source"),
	}
	var err error
	if q.Date, err = parseDateParam(r, "date"); err != nil {
		return q, err
	}
	if q.Horizon, err = parseIntParam(r, "horizon", 0); err != nil {
		return q, err
	}
	return q, validate.Struct(q)
}

func parseBiasQuery(r *http.Request) (biasQuery, error) {
	q := biasQuery{
		City:   r.URL.Query().Get("city"),
		Source: r.URL.Query().Get("source"),
	}
	var err error
	if q.From, err = parseDateParam(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseDateParam(r, "to"); err != nil {
		return q, err
	}
	if q.MinHorizon, err = parseOptionalIntParam(r, "min_horizon"); err != nil {
		return q, err
	}
	if q.MaxHorizon, err = parseOptionalIntParam(r, "max_horizon"); err != nil {
		return q, err
	}
	return q, validate.Struct(q)
}

func parseRecordsQuery(r *http.Request) (recordsQuery, error) {
	q := recordsQuery{
		City:   r.URL.Query().Get("city"),
		Source: r.URL.Query().Get("source"),
	}
	var err error
	if q.From, err = parseDateParam(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseDateParam(r, "to"); err != nil {
		return q, err
	}
	if q.MinHorizon, err = parseOptionalIntParam(r, "min_horizon"); err != nil {
		return q, err
	}
	if q.MaxHorizon, err = parseOptionalIntParam(r, "max_horizon"); err != nil {
		return q, err
	}
	return q, validate.Struct(q)
}

// parseDateParam accepts YYYY-MM-DD or RFC 3339; dates are normalized to
// UTC midnight. Absent values parse to the zero time.
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + ": expected YYYY-MM-DD or RFC 3339")
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), nil
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + name + ": expected integer")
	}
	return n, nil
}

func parseOptionalIntParam(r *http.Request, name string) (*int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, errors.New("invalid " + name + ": expected integer")
	}
	return &n, nil
}
