package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/ingest"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
	"github.com/couchcryptid/forecast-bias-service/internal/pipeline"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

func readFixtureEvents(t *testing.T, file, topic string) []domain.RawEvent {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("..", "..", "data", "mock", file))
	require.NoError(t, err)

	var payloads []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &payloads))
	require.NotEmpty(t, payloads)

	events := make([]domain.RawEvent, 0, len(payloads))
	for i, p := range payloads {
		events = append(events, domain.RawEvent{
			Topic:     topic,
			Offset:    int64(i),
			Value:     p,
			Timestamp: time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC),
		})
	}
	return events
}

// Runs the mock collector output through the real ingest service and a real
// sqlite store, then queries the result through the bias engine.
func TestPipeline_Run_WithMockJSONData(t *testing.T) {
	logger := testLogger()
	metrics := observability.NewMetricsForTesting()

	st, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := readFixtureEvents(t, "nyc_forecasts_250601_combined.json", testForecastTopic)
	events = append(events, readFixtureEvents(t, "nyc_actuals_250602_combined.json", testActualTopic)...)

	var committed atomic.Int64
	commit := func(context.Context) error { committed.Add(1); return nil }
	for i := range events {
		events[i].Commit = commit
	}

	ext := &mockExtractor{events: events}
	rej := &mockRejectPublisher{}
	svc := ingest.NewService(st, logger, metrics, false)
	p := pipeline.New(ext, svc, rej, logger, metrics, 50, testForecastTopic, testActualTopic)

	ctx := context.Background()
	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, p.Run(runCtx))
	assert.Equal(t, int64(len(events)), committed.Load())

	// The fixture carries one forecast with no city; it is rejected, the
	// other twelve land in the store alongside the three actuals.
	require.Len(t, rej.rejected, 1)
	assert.Equal(t, testForecastTopic, rej.rejected[0].Topic)
	assert.Equal(t, "missing_field", rej.rejected[0].Reason)

	forecasts, err := st.GetForecasts(ctx, store.ForecastFilter{City: "New York"})
	require.NoError(t, err)
	assert.Len(t, forecasts, 12)

	actuals, err := st.GetActuals(ctx, store.ActualFilter{City: "New York"})
	require.NoError(t, err)
	assert.Len(t, actuals, 3)

	engine := bias.NewEngine(st, logger, bias.Options{
		MinGridCount:  3,
		BiasThreshold: 0.5,
		MinSampleDays: 1,
	})

	t.Run("consensus over the fixture gridpoints", func(t *testing.T) {
		consensus, err := engine.Consensus(ctx, "New York",
			time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC), 1, "nws")
		require.NoError(t, err)
		assert.Equal(t, 3, consensus.GridCount)
		assert.InDelta(t, 79.0, consensus.ConsensusHigh, 1e-9)
		assert.InDelta(t, 64.0, consensus.ConsensusLow, 1e-9)
		assert.Equal(t, 78.0, consensus.MinHigh)
		assert.Equal(t, 80.0, consensus.MaxHigh)
	})

	t.Run("bias report over the fixture window", func(t *testing.T) {
		report, err := engine.BiasByHorizon(ctx, bias.Query{
			City:   "New York",
			Source: "nws",
			From:   time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
			To:     time.Date(2025, time.June, 4, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Empty(t, report.Pending)
		assert.Empty(t, report.Unreliable)
		require.Len(t, report.Horizons, 2)

		oneDay := report.Horizons[0]
		assert.Equal(t, 1, oneDay.ForecastHorizon)
		assert.Equal(t, 2, oneDay.High.Samples)
		assert.InDelta(t, 3.0, oneDay.High.Mean, 1e-9)
		assert.InDelta(t, 2.0, oneDay.Low.Mean, 1e-9)
		assert.True(t, oneDay.HighBias.Detected)
		assert.Equal(t, "warm", oneDay.HighBias.Direction)

		twoDay := report.Horizons[1]
		assert.Equal(t, 2, twoDay.ForecastHorizon)
		assert.InDelta(t, 4.0, twoDay.High.Mean, 1e-9)
		assert.InDelta(t, 2.5, twoDay.Low.Mean, 1e-9)
		assert.True(t, twoDay.HighBias.Detected)
	})
}
