// Package ingest is the write-side entry point for collectors: raw records
// come in, validated records go to the store, and every rejection or dropped
// field is reported rather than swallowed.
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

// Upserter is the slice of the store the ingest service needs.
type Upserter interface {
	UpsertForecast(ctx context.Context, rec domain.ForecastRecord) (store.UpsertOutcome, error)
	UpsertActual(ctx context.Context, rec domain.ActualRecord, allowCorrection bool) (store.UpsertOutcome, error)
}

// Service validates and stores raw records submitted by a collector.
type Service struct {
	store            Upserter
	logger           *slog.Logger
	metrics          *observability.Metrics
	allowCorrections bool
}

// NewService builds an ingest Service. allowCorrections controls whether a
// conflicting actual overwrites stored ground truth or is rejected.
func NewService(st Upserter, logger *slog.Logger, metrics *observability.Metrics, allowCorrections bool) *Service {
	return &Service{store: st, logger: logger, metrics: metrics, allowCorrections: allowCorrections}
}

// SubmitForecast validates one raw forecast record and stores it. The
// returned outcome distinguishes a fresh insert from an idempotent replay.
func (s *Service) SubmitForecast(ctx context.Context, raw domain.RawForecastRecord) (store.UpsertOutcome, error) {
	s.metrics.RecordsConsumed.WithLabelValues("forecast").Inc()

	result, err := domain.ValidateForecast(raw)
	if err != nil {
		s.metrics.ValidationErrors.WithLabelValues("forecast", domain.ValidationReason(err)).Inc()
		return "", err
	}
	s.reportDropped("forecast", result.Record.City, result.Dropped)

	outcome, err := s.store.UpsertForecast(ctx, result.Record)
	if err != nil {
		return "", err
	}
	s.metrics.Upserts.WithLabelValues("forecast", string(outcome)).Inc()
	s.logger.Debug("forecast stored",
		"city", result.Record.City,
		"gridpoint", result.Record.Gridpoint(),
		"target_date", result.Record.TargetDate.Format("2006-01-02"),
		"forecast_horizon", result.Record.ForecastHorizon,
		"outcome", outcome,
	)
	return outcome, nil
}

// SubmitActual validates one raw observation record and stores it.
// A conflicting payload for stored ground truth returns
// store.ErrCorrectionConflict unless corrections are enabled.
func (s *Service) SubmitActual(ctx context.Context, raw domain.RawActualRecord) (store.UpsertOutcome, error) {
	s.metrics.RecordsConsumed.WithLabelValues("actual").Inc()

	result, err := domain.ValidateActual(raw)
	if err != nil {
		s.metrics.ValidationErrors.WithLabelValues("actual", domain.ValidationReason(err)).Inc()
		return "", err
	}
	s.reportDropped("actual", result.Record.City, result.Dropped)

	outcome, err := s.store.UpsertActual(ctx, result.Record, s.allowCorrections)
	if err != nil {
		if errors.Is(err, store.ErrCorrectionConflict) {
			s.metrics.CorrectionConflicts.Inc()
		}
		return "", err
	}
	s.metrics.Upserts.WithLabelValues("actual", string(outcome)).Inc()
	return outcome, nil
}

func (s *Service) reportDropped(kind, city string, dropped []error) {
	for _, derr := range dropped {
		s.metrics.DroppedFields.WithLabelValues(kind, domain.ValidationReason(derr)).Inc()
		s.logger.Warn("malformed field discarded", "kind", kind, "city", city, "error", derr)
	}
}
