package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridRecord(x, y int, high, low float64, issued time.Time) ForecastRecord {
	return ForecastRecord{
		City:            "New York",
		GridID:          "OKX",
		GridX:           x,
		GridY:           y,
		ForecastTime:    issued,
		TargetDate:      time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		ForecastHorizon: 2,
		HighTemp:        &high,
		LowTemp:         &low,
		Source:          "nws",
	}
}

func TestComputeConsensus(t *testing.T) {
	issued := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("three gridpoints", func(t *testing.T) {
		records := []ForecastRecord{
			gridRecord(33, 35, 72, 58, issued),
			gridRecord(33, 36, 74, 60, issued),
			gridRecord(34, 35, 73, 59, issued),
		}
		consensus, ok := ComputeConsensus(records)

		require.True(t, ok)
		assert.Equal(t, "New York", consensus.City)
		assert.Equal(t, 2, consensus.ForecastHorizon)
		assert.Equal(t, 3, consensus.GridCount)
		assert.InDelta(t, 73.0, consensus.ConsensusHigh, 1e-9)
		assert.Equal(t, 72.0, consensus.MinHigh)
		assert.Equal(t, 74.0, consensus.MaxHigh)
		assert.InDelta(t, 59.0, consensus.ConsensusLow, 1e-9)
		assert.Equal(t, 2.0, consensus.HighSpread())
	})

	t.Run("latest issuance wins per gridpoint", func(t *testing.T) {
		later := issued.Add(6 * time.Hour)
		records := []ForecastRecord{
			gridRecord(33, 35, 70, 55, issued),
			gridRecord(33, 35, 76, 60, later),
			gridRecord(33, 36, 74, 58, issued),
		}
		consensus, ok := ComputeConsensus(records)

		require.True(t, ok)
		assert.Equal(t, 2, consensus.GridCount)
		assert.InDelta(t, 75.0, consensus.ConsensusHigh, 1e-9)
	})

	t.Run("records missing temperatures skipped", func(t *testing.T) {
		partial := gridRecord(34, 36, 0, 0, issued)
		partial.HighTemp = nil
		partial.LowTemp = nil
		records := []ForecastRecord{
			gridRecord(33, 35, 72, 58, issued),
			partial,
		}
		consensus, ok := ComputeConsensus(records)

		require.True(t, ok)
		assert.Equal(t, 1, consensus.GridCount)
	})

	t.Run("no qualifying records", func(t *testing.T) {
		partial := gridRecord(33, 35, 0, 0, issued)
		partial.HighTemp = nil
		partial.LowTemp = nil
		_, ok := ComputeConsensus([]ForecastRecord{partial})
		assert.False(t, ok)

		_, ok = ComputeConsensus(nil)
		assert.False(t, ok)
	})

	t.Run("single gridpoint degenerate group", func(t *testing.T) {
		consensus, ok := ComputeConsensus([]ForecastRecord{gridRecord(33, 35, 72, 58, issued)})

		require.True(t, ok)
		assert.Equal(t, 1, consensus.GridCount)
		assert.Equal(t, 72.0, consensus.ConsensusHigh)
		assert.Equal(t, consensus.MinHigh, consensus.MaxHigh)
	})
}

func TestGridpointSpread(t *testing.T) {
	issued := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []ForecastRecord{
		gridRecord(34, 35, 73, 59, issued),
		gridRecord(33, 35, 72, 58, issued),
		gridRecord(33, 36, 74, 60, issued),
	}

	consensus, points, ok := GridpointSpread(records)

	require.True(t, ok)
	assert.Equal(t, 3, consensus.GridCount)
	require.Len(t, points, 3)
	// Stable order on gridpoint key.
	assert.Equal(t, "OKX/33/35", points[0].Gridpoint)
	assert.Equal(t, "OKX/33/36", points[1].Gridpoint)
	assert.Equal(t, "OKX/34/35", points[2].Gridpoint)
	assert.InDelta(t, -1.0, points[0].HighDeviation, 1e-9)
	assert.InDelta(t, 1.0, points[1].HighDeviation, 1e-9)
	assert.InDelta(t, 0.0, points[2].HighDeviation, 1e-9)
}
