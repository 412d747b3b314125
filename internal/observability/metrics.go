package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and query layer.
type Metrics struct {
	RecordsConsumed     *prometheus.CounterVec // labels: kind={forecast,actual}
	ValidationErrors    *prometheus.CounterVec // labels: kind, reason
	DroppedFields       *prometheus.CounterVec // labels: kind, reason
	Upserts             *prometheus.CounterVec // labels: kind, outcome={inserted,unchanged,corrected}
	CorrectionConflicts prometheus.Counter
	RejectsPublished    prometheus.Counter
	PipelineRunning     prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Query layer metrics.
	QueryDuration *prometheus.HistogramVec // labels: query={consensus,bias,spread,forecasts,actuals}

	// Bias summary report metrics.
	BiasMeanError *prometheus.GaugeVec // labels: city, source, horizon, side={high,low}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsConsumed,
		m.ValidationErrors,
		m.DroppedFields,
		m.Upserts,
		m.CorrectionConflicts,
		m.RejectsPublished,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.QueryDuration,
		m.BiasMeanError,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "records_consumed_total",
			Help:      "Total raw records read from the source topics.",
		}, []string{"kind"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "validation_errors_total",
			Help:      "Total records rejected by validation.",
		}, []string{"kind", "reason"}),
		DroppedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "dropped_fields_total",
			Help:      "Total malformed fields discarded from otherwise valid records.",
		}, []string{"kind", "reason"}),
		Upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "upserts_total",
			Help:      "Total store upserts by record kind and outcome.",
		}, []string{"kind", "outcome"}),
		CorrectionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "correction_conflicts_total",
			Help:      "Total actuals rejected for conflicting with stored ground truth.",
		}),
		RejectsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forecast_bias",
			Name:      "rejects_published_total",
			Help:      "Total rejected records published back to the reject topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecast_bias",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forecast_bias",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forecast_bias",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch validate-upsert cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forecast_bias",
			Name:      "query_duration_seconds",
			Help:      "Duration of read-side queries by query type.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"query"}),
		BiasMeanError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forecast_bias",
			Name:      "mean_error_degrees",
			Help:      "Mean signed forecast error from the latest summary report.",
		}, []string{"city", "source", "horizon", "side"}),
	}
}
