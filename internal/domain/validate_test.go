package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestParseRawForecast(t *testing.T) {
	fixedTime := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixedTime))
	defer SetClock(nil)

	t.Run("complete record", func(t *testing.T) {
		data := []byte(`{"city":"New York","grid_id":"OKX","grid_x":33,"grid_y":35,"forecast_time":"2025-06-01T10:00:00Z","target_date":"2025-06-03","high_temp":78.0,"low_temp":64.0,"conditions":"Partly Cloudy","precipitation_chance":30,"source":"nws"}`)
		result, err := ParseRawForecast(RawEvent{Value: data})

		require.NoError(t, err)
		assert.Empty(t, result.Dropped)
		rec := result.Record
		assert.Equal(t, "New York", rec.City)
		assert.Equal(t, "OKX", rec.GridID)
		assert.Equal(t, 33, rec.GridX)
		assert.Equal(t, 35, rec.GridY)
		assert.Equal(t, "OKX/33/35", rec.Gridpoint())
		assert.Equal(t, 2, rec.ForecastHorizon)
		require.NotNil(t, rec.HighTemp)
		assert.Equal(t, 78.0, *rec.HighTemp)
		require.NotNil(t, rec.PrecipitationChance)
		assert.Equal(t, 30, *rec.PrecipitationChance)
		assert.Equal(t, fixedTime, rec.CollectedAt)
		assert.True(t, strings.HasPrefix(rec.ID, "fc-"))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseRawForecast(RawEvent{Value: []byte("{invalid json")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse raw forecast")
	})

	t.Run("deterministic ID", func(t *testing.T) {
		data := []byte(`{"city":"New York","grid_id":"OKX","grid_x":33,"grid_y":35,"forecast_time":"2025-06-01T10:00:00Z","target_date":"2025-06-03","high_temp":78.0,"low_temp":64.0,"source":"nws"}`)
		first, err := ParseRawForecast(RawEvent{Value: data})
		require.NoError(t, err)
		second, err := ParseRawForecast(RawEvent{Value: data})
		require.NoError(t, err)
		assert.Equal(t, first.Record.ID, second.Record.ID)
	})
}

func TestValidateForecast(t *testing.T) {
	base := RawForecastRecord{
		City:         "New York",
		GridID:       "OKX",
		GridX:        33,
		GridY:        35,
		ForecastTime: "2025-06-01T10:00:00Z",
		TargetDate:   "2025-06-03",
		HighTemp:     fptr(78),
		LowTemp:      fptr(64),
		Source:       "nws",
	}

	t.Run("missing fields accumulate", func(t *testing.T) {
		raw := base
		raw.City = ""
		raw.Source = "  "
		_, err := ValidateForecast(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)
		assert.Contains(t, err.Error(), "city")
		assert.Contains(t, err.Error(), "source")
	})

	t.Run("naive timestamp treated as UTC", func(t *testing.T) {
		raw := base
		raw.ForecastTime = "2025-06-01T10:00:00"
		result, err := ValidateForecast(raw)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), result.Record.ForecastTime)
	})

	t.Run("negative horizon rejected", func(t *testing.T) {
		raw := base
		raw.TargetDate = "2025-05-30"
		_, err := ValidateForecast(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNegativeHorizon)
	})

	t.Run("inverted range drops both temps but keeps record", func(t *testing.T) {
		raw := base
		raw.HighTemp = fptr(60)
		raw.LowTemp = fptr(70)
		result, err := ValidateForecast(raw)

		require.NoError(t, err)
		require.Len(t, result.Dropped, 1)
		assert.ErrorIs(t, result.Dropped[0], ErrInvertedTemperatureRange)
		assert.Nil(t, result.Record.HighTemp)
		assert.Nil(t, result.Record.LowTemp)
	})

	t.Run("precip chance out of range rejected", func(t *testing.T) {
		raw := base
		raw.PrecipitationChance = iptr(140)
		_, err := ValidateForecast(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPrecipChanceOutOfRange)
	})

	t.Run("negative precip chance rejected", func(t *testing.T) {
		raw := base
		raw.PrecipitationChance = iptr(-5)
		_, err := ValidateForecast(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPrecipChanceOutOfRange)
	})

	t.Run("boundary precip chances kept", func(t *testing.T) {
		for _, chance := range []int{0, 100} {
			raw := base
			raw.PrecipitationChance = iptr(chance)
			result, err := ValidateForecast(raw)

			require.NoError(t, err)
			assert.Empty(t, result.Dropped)
			require.NotNil(t, result.Record.PrecipitationChance)
			assert.Equal(t, chance, *result.Record.PrecipitationChance)
		}
	})

	t.Run("missing temps allowed", func(t *testing.T) {
		raw := base
		raw.HighTemp = nil
		raw.LowTemp = nil
		result, err := ValidateForecast(raw)

		require.NoError(t, err)
		assert.Empty(t, result.Dropped)
		assert.False(t, result.Record.HasTemperatures())
	})
}

func TestValidateActual(t *testing.T) {
	base := RawActualRecord{
		City:      "New York",
		StationID: "KNYC",
		Date:      "2025-06-03",
		HighTemp:  fptr(70),
		LowTemp:   fptr(58),
		Source:    "nws",
	}

	t.Run("complete record", func(t *testing.T) {
		result, err := ValidateActual(base)

		require.NoError(t, err)
		rec := result.Record
		assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), rec.Date)
		assert.Equal(t, "KNYC", rec.StationID)
		assert.True(t, strings.HasPrefix(rec.ID, "ob-"))
	})

	t.Run("negative precipitation rejected", func(t *testing.T) {
		raw := base
		raw.Precipitation = fptr(-0.4)
		_, err := ValidateActual(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNegativePrecipitation)
	})

	t.Run("missing date rejected", func(t *testing.T) {
		raw := base
		raw.Date = ""
		_, err := ValidateActual(raw)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("correction keeps the same ID", func(t *testing.T) {
		first, err := ValidateActual(base)
		require.NoError(t, err)

		corrected := base
		corrected.HighTemp = fptr(71)
		second, err := ValidateActual(corrected)
		require.NoError(t, err)

		assert.Equal(t, first.Record.ID, second.Record.ID)
		assert.False(t, first.Record.SamePayload(second.Record))
	})
}

func TestDeriveHorizon(t *testing.T) {
	tests := []struct {
		name     string
		issued   time.Time
		target   time.Time
		expected int
	}{
		{"same day", time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0},
		{"late issuance still counts calendar days", time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC), time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), 2},
		{"nine days out", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), 9},
		{"target in the past", time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveHorizon(tt.issued, tt.target))
		})
	}
}

func TestValidationReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"missing field", ErrMissingField, "missing_field"},
		{"negative horizon", ErrNegativeHorizon, "negative_horizon"},
		{"inverted range", ErrInvertedTemperatureRange, "inverted_range"},
		{"precip chance", ErrPrecipChanceOutOfRange, "precip_chance_out_of_range"},
		{"unknown", assert.AnError, "malformed_payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidationReason(tt.err))
		})
	}
}
