// Package pipeline orchestrates the ingestion loop: batches of raw events
// come off the forecast and actual topics, get validated and stored, and
// rejects go back out so the collector sees every failure.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

// BatchExtractor reads up to batchSize raw events from the source topics.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Submitter validates and stores parsed records.
type Submitter interface {
	SubmitForecast(ctx context.Context, raw domain.RawForecastRecord) (store.UpsertOutcome, error)
	SubmitActual(ctx context.Context, raw domain.RawActualRecord) (store.UpsertOutcome, error)
}

// RejectPublisher reports records that failed validation back toward the
// collector.
type RejectPublisher interface {
	PublishReject(ctx context.Context, rejected domain.RejectedRecord) error
}

// Pipeline orchestrates the extract-validate-store loop.
type Pipeline struct {
	extractor     BatchExtractor
	submitter     Submitter
	rejects       RejectPublisher
	logger        *slog.Logger
	metrics       *observability.Metrics
	ready         atomic.Bool
	batchSize     int
	forecastTopic string
	actualTopic   string
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, s Submitter, r RejectPublisher, logger *slog.Logger, metrics *observability.Metrics, batchSize int, forecastTopic, actualTopic string) *Pipeline {
	return &Pipeline{
		extractor:     e,
		submitter:     s,
		rejects:       r,
		logger:        logger,
		metrics:       metrics,
		batchSize:     batchSize,
		forecastTopic: forecastTopic,
		actualTopic:   actualTopic,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one message,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run executes the ingestion loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-validate-store cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	stored, ok := p.submitBatch(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if stored > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// submitBatch routes each event by topic, submits it, and commits offsets.
// Returns the number of stored records and false if the pipeline should stop.
// A store outage aborts the batch before committing the failed offset, so
// the remaining events are redelivered.
func (p *Pipeline) submitBatch(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	stored := 0
	for _, raw := range rawBatch {
		err := p.submitOne(ctx, raw)
		switch {
		case err == nil:
			stored++
			p.commitOffset(ctx, raw)
		case errors.Is(err, store.ErrStoreUnavailable):
			p.logger.Error("store unavailable, batch aborted", "error", err,
				"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
			return stored, p.backoffOrStop(ctx, backoff, maxBackoff)
		default:
			// Bad payloads are rejected, never retried.
			p.rejectRecord(ctx, raw, err)
			p.commitOffset(ctx, raw)
		}
	}
	return stored, true
}

func (p *Pipeline) submitOne(ctx context.Context, raw domain.RawEvent) error {
	switch raw.Topic {
	case p.forecastTopic:
		var rec domain.RawForecastRecord
		if err := json.Unmarshal(raw.Value, &rec); err != nil {
			p.metrics.RecordsConsumed.WithLabelValues("forecast").Inc()
			p.metrics.ValidationErrors.WithLabelValues("forecast", "malformed_payload").Inc()
			return err
		}
		_, err := p.submitter.SubmitForecast(ctx, rec)
		return err
	case p.actualTopic:
		var rec domain.RawActualRecord
		if err := json.Unmarshal(raw.Value, &rec); err != nil {
			p.metrics.RecordsConsumed.WithLabelValues("actual").Inc()
			p.metrics.ValidationErrors.WithLabelValues("actual", "malformed_payload").Inc()
			return err
		}
		_, err := p.submitter.SubmitActual(ctx, rec)
		return err
	default:
		return errors.New("event from unrouted topic " + raw.Topic)
	}
}

func (p *Pipeline) rejectRecord(ctx context.Context, raw domain.RawEvent, cause error) {
	p.logger.Warn("record rejected",
		"error", cause,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	if p.rejects == nil {
		return
	}
	rejected := domain.RejectedRecord{
		Topic:      raw.Topic,
		Reason:     domain.ValidationReason(cause),
		Detail:     cause.Error(),
		Payload:    raw.Value,
		OccurredAt: raw.Timestamp,
	}
	if err := p.rejects.PublishReject(ctx, rejected); err != nil {
		p.logger.Error("publish reject failed", "error", err, "topic", raw.Topic)
		return
	}
	p.metrics.RejectsPublished.Inc()
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
