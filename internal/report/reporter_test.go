package report

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
)

type mockBiasEngine struct {
	mu      sync.Mutex
	queries []bias.Query
	report  bias.Report
	err     error
}

func (m *mockBiasEngine) BiasByHorizon(_ context.Context, q bias.Query) (bias.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return bias.Report{}, m.err
	}
	return m.report, nil
}

type mockCityLister struct {
	cities []string
}

func (m *mockCityLister) Cities(context.Context) ([]string, error) { return m.cities, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce(t *testing.T) {
	fixedTime := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(fixedTime)

	report := bias.Report{
		City:   "New York",
		Source: "nws",
		Horizons: []bias.HorizonSummary{{
			HorizonBias: domain.HorizonBias{
				ForecastHorizon: 2,
				High:            domain.ErrorStats{Samples: 31, Mean: 1.2},
				Low:             domain.ErrorStats{Samples: 31, Mean: -0.1},
			},
			HighBias: domain.BiasFinding{Detected: true, Direction: "warm", Magnitude: 1.2, SufficientData: true},
		}},
	}

	t.Run("queries trailing window per city and source", func(t *testing.T) {
		engine := &mockBiasEngine{report: report}
		metrics := observability.NewMetricsForTesting()
		r := New(engine, &mockCityLister{}, testLogger(), metrics, clock, Options{
			Cities:   []string{"New York", "Boston"},
			Sources:  []string{"nws"},
			Interval: time.Hour,
			Window:   90 * 24 * time.Hour,
		})

		r.RunOnce(context.Background())

		require.Len(t, engine.queries, 2)
		assert.Equal(t, "New York", engine.queries[0].City)
		assert.Equal(t, "Boston", engine.queries[1].City)
		assert.Equal(t, fixedTime, engine.queries[0].To)
		assert.Equal(t, fixedTime.Add(-90*24*time.Hour), engine.queries[0].From)

		gauge := metrics.BiasMeanError.WithLabelValues("New York", "nws", "2", "high")
		assert.InDelta(t, 1.2, testutil.ToFloat64(gauge), 1e-9)
	})

	t.Run("falls back to stored cities", func(t *testing.T) {
		engine := &mockBiasEngine{report: report}
		r := New(engine, &mockCityLister{cities: []string{"Chicago"}}, testLogger(),
			observability.NewMetricsForTesting(), clock, Options{
				Sources:  []string{"nws"},
				Interval: time.Hour,
				Window:   time.Hour,
			})

		r.RunOnce(context.Background())

		require.Len(t, engine.queries, 1)
		assert.Equal(t, "Chicago", engine.queries[0].City)
	})

	t.Run("aggregation gap is not an error", func(t *testing.T) {
		engine := &mockBiasEngine{err: bias.ErrAggregationGap}
		r := New(engine, &mockCityLister{}, testLogger(),
			observability.NewMetricsForTesting(), clock, Options{
				Cities:   []string{"New York"},
				Sources:  []string{"nws"},
				Interval: time.Hour,
				Window:   time.Hour,
			})

		// Must not panic or export stale gauges.
		r.RunOnce(context.Background())
		assert.Len(t, engine.queries, 1)
	})
}
