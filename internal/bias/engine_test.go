package bias

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

// fakeReader serves canned records, applying the same filter semantics the
// real store does for the fields the engine uses.
type fakeReader struct {
	forecasts []domain.ForecastRecord
	actuals   []domain.ActualRecord
	err       error
}

func (f *fakeReader) GetForecasts(_ context.Context, filter store.ForecastFilter) ([]domain.ForecastRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ForecastRecord
	for _, rec := range f.forecasts {
		if filter.City != "" && rec.City != filter.City {
			continue
		}
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		if !filter.TargetFrom.IsZero() && rec.TargetDate.Before(filter.TargetFrom) {
			continue
		}
		if !filter.TargetTo.IsZero() && rec.TargetDate.After(filter.TargetTo) {
			continue
		}
		if filter.MinHorizon != nil && rec.ForecastHorizon < *filter.MinHorizon {
			continue
		}
		if filter.MaxHorizon != nil && rec.ForecastHorizon > *filter.MaxHorizon {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeReader) GetActuals(_ context.Context, filter store.ActualFilter) ([]domain.ActualRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ActualRecord
	for _, rec := range f.actuals {
		if filter.City != "" && rec.City != filter.City {
			continue
		}
		if !filter.From.IsZero() && rec.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Date.After(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func fptr(v float64) *float64 { return &v }

func forecastAt(gridX int, targetDate time.Time, horizon int, high, low float64) domain.ForecastRecord {
	issued := targetDate.AddDate(0, 0, -horizon).Add(10 * time.Hour)
	return domain.ForecastRecord{
		City:            "New York",
		GridID:          "OKX",
		GridX:           gridX,
		GridY:           35,
		ForecastTime:    issued,
		TargetDate:      targetDate,
		ForecastHorizon: horizon,
		HighTemp:        &high,
		LowTemp:         &low,
		Source:          "nws",
	}
}

func actualAt(date time.Time, high, low float64) domain.ActualRecord {
	return domain.ActualRecord{
		City:     "New York",
		Date:     date,
		HighTemp: &high,
		LowTemp:  &low,
		Source:   "nws",
	}
}

func newTestEngine(reader Reader, opts Options) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(reader, logger, opts)
}

func TestConsensus(t *testing.T) {
	ctx := context.Background()
	targetDate := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	t.Run("aggregates one group", func(t *testing.T) {
		reader := &fakeReader{forecasts: []domain.ForecastRecord{
			forecastAt(33, targetDate, 2, 72, 58),
			forecastAt(34, targetDate, 2, 74, 60),
			forecastAt(35, targetDate, 2, 73, 59),
			// Different horizon, must not leak into the group.
			forecastAt(33, targetDate, 3, 90, 70),
		}}
		engine := newTestEngine(reader, Options{})

		consensus, err := engine.Consensus(ctx, "New York", targetDate, 2, "nws")
		require.NoError(t, err)
		assert.Equal(t, 3, consensus.GridCount)
		assert.InDelta(t, 73.0, consensus.ConsensusHigh, 1e-9)
		assert.Equal(t, 72.0, consensus.MinHigh)
		assert.Equal(t, 74.0, consensus.MaxHigh)
	})

	t.Run("gap when nothing qualifies", func(t *testing.T) {
		engine := newTestEngine(&fakeReader{}, Options{})
		_, err := engine.Consensus(ctx, "New York", targetDate, 2, "nws")
		assert.ErrorIs(t, err, ErrAggregationGap)
	})

	t.Run("store errors pass through", func(t *testing.T) {
		engine := newTestEngine(&fakeReader{err: store.ErrStoreUnavailable}, Options{})
		_, err := engine.Consensus(ctx, "New York", targetDate, 2, "nws")
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	})
}

func TestSpread(t *testing.T) {
	ctx := context.Background()
	targetDate := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	reader := &fakeReader{forecasts: []domain.ForecastRecord{
		forecastAt(33, targetDate, 2, 72, 58),
		forecastAt(34, targetDate, 2, 74, 60),
	}}
	engine := newTestEngine(reader, Options{})

	consensus, points, err := engine.Spread(ctx, "New York", targetDate, 2, "nws")
	require.NoError(t, err)
	assert.Equal(t, 2, consensus.GridCount)
	require.Len(t, points, 2)
	assert.InDelta(t, -1.0, points[0].HighDeviation, 1e-9)
	assert.InDelta(t, 1.0, points[1].HighDeviation, 1e-9)
}

func TestBiasByHorizon(t *testing.T) {
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }

	// Three days of three-gridpoint forecasts at horizon 2, each running
	// 3 degrees warm on highs, with observed outcomes for the first two
	// days only.
	var forecasts []domain.ForecastRecord
	for d := 1; d <= 3; d++ {
		forecasts = append(forecasts,
			forecastAt(33, day(d), 2, 72, 58),
			forecastAt(34, day(d), 2, 74, 60),
			forecastAt(35, day(d), 2, 73, 59),
		)
	}
	actuals := []domain.ActualRecord{
		actualAt(day(1), 70, 56),
		actualAt(day(2), 70, 56),
	}

	t.Run("joins and summarizes per horizon", func(t *testing.T) {
		reader := &fakeReader{forecasts: forecasts, actuals: actuals}
		engine := newTestEngine(reader, Options{MinGridCount: 3, MinSampleDays: 2})

		report, err := engine.BiasByHorizon(ctx, Query{City: "New York", Source: "nws"})
		require.NoError(t, err)
		require.Len(t, report.Horizons, 1)

		h := report.Horizons[0]
		assert.Equal(t, 2, h.ForecastHorizon)
		assert.Equal(t, 2, h.High.Samples)
		assert.InDelta(t, 3.0, h.High.Mean, 1e-9)
		assert.InDelta(t, 3.0, h.Low.Mean, 1e-9)
		assert.True(t, h.HighBias.Detected)
		assert.Equal(t, "warm", h.HighBias.Direction)

		require.Len(t, report.Pending, 1)
		assert.Equal(t, day(3), report.Pending[0])
		assert.Empty(t, report.Unreliable)
	})

	t.Run("thin groups reported unreliable", func(t *testing.T) {
		reader := &fakeReader{forecasts: forecasts, actuals: actuals}
		engine := newTestEngine(reader, Options{MinGridCount: 5})

		report, err := engine.BiasByHorizon(ctx, Query{City: "New York", Source: "nws"})
		require.NoError(t, err)
		assert.Empty(t, report.Horizons)
		assert.Len(t, report.Unreliable, 2)
	})

	t.Run("dates without actuals never enter the output", func(t *testing.T) {
		reader := &fakeReader{forecasts: forecasts}
		engine := newTestEngine(reader, Options{MinGridCount: 3})

		report, err := engine.BiasByHorizon(ctx, Query{City: "New York", Source: "nws"})
		require.NoError(t, err)
		assert.Empty(t, report.Horizons)
		assert.Len(t, report.Pending, 3)
	})

	t.Run("cold bias direction", func(t *testing.T) {
		cold := []domain.ForecastRecord{
			forecastAt(33, day(1), 1, 65, 50),
			forecastAt(34, day(1), 1, 65, 50),
			forecastAt(35, day(1), 1, 65, 50),
		}
		reader := &fakeReader{forecasts: cold, actuals: []domain.ActualRecord{actualAt(day(1), 70, 56)}}
		engine := newTestEngine(reader, Options{MinGridCount: 3, MinSampleDays: 1})

		report, err := engine.BiasByHorizon(ctx, Query{City: "New York", Source: "nws"})
		require.NoError(t, err)
		require.Len(t, report.Horizons, 1)
		assert.Equal(t, "cold", report.Horizons[0].HighBias.Direction)
	})

	t.Run("same source actual preferred over others", func(t *testing.T) {
		other := actualAt(day(1), 100, 80)
		other.Source = "airport"
		reader := &fakeReader{
			forecasts: forecasts[:3],
			actuals:   []domain.ActualRecord{other, actualAt(day(1), 70, 56)},
		}
		engine := newTestEngine(reader, Options{MinGridCount: 3, MinSampleDays: 1})

		report, err := engine.BiasByHorizon(ctx, Query{City: "New York", Source: "nws"})
		require.NoError(t, err)
		require.Len(t, report.Horizons, 1)
		assert.InDelta(t, 3.0, report.Horizons[0].High.Mean, 1e-9)
	})

	t.Run("no forecasts at all is a gap", func(t *testing.T) {
		engine := newTestEngine(&fakeReader{}, Options{})
		_, err := engine.BiasByHorizon(ctx, Query{City: "New York"})
		assert.ErrorIs(t, err, ErrAggregationGap)
	})
}
