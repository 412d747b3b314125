// Package report runs the periodic bias summary job: for each configured
// city and source it recomputes per-horizon error statistics over a trailing
// window, logs the summary, and exports the mean errors as gauges.
package report

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
)

// BiasReporter is the slice of the bias engine the reporter needs.
type BiasReporter interface {
	BiasByHorizon(ctx context.Context, q bias.Query) (bias.Report, error)
}

// CityLister supplies the city list when none is configured.
type CityLister interface {
	Cities(ctx context.Context) ([]string, error)
}

// Options configure the summary job.
type Options struct {
	Cities   []string // empty means every city present in the store
	Sources  []string
	Interval time.Duration
	Window   time.Duration // trailing target-date window per run
}

// Reporter owns the scheduled summary job.
type Reporter struct {
	engine    BiasReporter
	cities    CityLister
	logger    *slog.Logger
	metrics   *observability.Metrics
	scheduler *gocron.Scheduler
	clock     clockwork.Clock
	opts      Options
}

// New creates a Reporter. Pass a nil clock for real time.
func New(engine BiasReporter, cities CityLister, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, opts Options) *Reporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reporter{
		engine:    engine,
		cities:    cities,
		logger:    logger,
		metrics:   metrics,
		scheduler: gocron.NewScheduler(time.UTC),
		clock:     clock,
		opts:      opts,
	}
}

// Start schedules the periodic summary job and begins running it in the
// background.
func (r *Reporter) Start() error {
	minutes := int(r.opts.Interval.Minutes())
	if minutes <= 0 {
		minutes = 360
	}

	_, err := r.scheduler.Every(minutes).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	r.scheduler.StartAsync()
	r.logger.Info("bias summary job scheduled", "interval_minutes", minutes)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (r *Reporter) Stop() {
	r.scheduler.Stop()
}

// RunOnce produces one summary pass over every configured city and source.
func (r *Reporter) RunOnce(ctx context.Context) {
	cities := r.opts.Cities
	if len(cities) == 0 {
		var err error
		cities, err = r.cities.Cities(ctx)
		if err != nil {
			r.logger.Error("summary job could not list cities", "error", err)
			return
		}
	}

	to := r.clock.Now().UTC()
	from := to.Add(-r.opts.Window)
	for _, city := range cities {
		for _, source := range r.opts.Sources {
			r.summarize(ctx, city, source, from, to)
		}
	}
}

func (r *Reporter) summarize(ctx context.Context, city, source string, from, to time.Time) {
	report, err := r.engine.BiasByHorizon(ctx, bias.Query{
		City:   city,
		Source: source,
		From:   from,
		To:     to,
	})
	if errors.Is(err, bias.ErrAggregationGap) {
		r.logger.Info("no forecasts in summary window", "city", city, "source", source)
		return
	}
	if err != nil {
		r.logger.Error("summary computation failed", "city", city, "source", source, "error", err)
		return
	}

	for _, h := range report.Horizons {
		horizon := strconv.Itoa(h.ForecastHorizon)
		r.metrics.BiasMeanError.WithLabelValues(city, source, horizon, "high").Set(h.High.Mean)
		r.metrics.BiasMeanError.WithLabelValues(city, source, horizon, "low").Set(h.Low.Mean)

		attrs := []any{
			"city", city,
			"source", source,
			"forecast_horizon", h.ForecastHorizon,
			"samples_high", h.High.Samples,
			"mean_high_error", h.High.Mean,
			"mae_high", h.High.MAE,
			"rmse_high", h.High.RMSE,
			"mean_low_error", h.Low.Mean,
			"mae_low", h.Low.MAE,
		}
		switch {
		case h.HighBias.Detected:
			r.logger.Warn("persistent high-temperature bias", append(attrs, "direction", h.HighBias.Direction, "magnitude", h.HighBias.Magnitude)...)
		case h.LowBias.Detected:
			r.logger.Warn("persistent low-temperature bias", append(attrs, "direction", h.LowBias.Direction, "magnitude", h.LowBias.Magnitude)...)
		default:
			r.logger.Info("horizon summary", attrs...)
		}
	}
	if len(report.Pending) > 0 || len(report.Unreliable) > 0 {
		r.logger.Info("summary coverage gaps",
			"city", city,
			"source", source,
			"pending_dates", len(report.Pending),
			"unreliable_dates", len(report.Unreliable),
		)
	}
}
