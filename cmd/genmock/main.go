// Command genmock generates the mock collector fixtures the pipeline test
// suite reads. It runs every generated payload through the actual domain
// validation so the fixtures always match real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
)

// gridpoints spans a small block of the OKX grid around Central Park.
var gridpoints = []struct {
	x, y   int
	offset float64 // degrees relative to the city-wide base forecast
}{
	{x: 33, y: 35, offset: 0},
	{x: 33, y: 36, offset: 2},
	{x: 34, y: 35, offset: 1},
}

// issuances gives each forecast day a base high/low per issuance time, so a
// later issuance revises the earlier one and both survive in the fixture.
var issuances = []struct {
	forecastTime string
	days         []forecastDay
}{
	{
		forecastTime: "2025-06-01T11:00:00Z",
		days: []forecastDay{
			{target: "2025-06-02", high: 75, low: 60, conditions: "Partly Sunny", precipChance: 20},
			{target: "2025-06-03", high: 80, low: 64, conditions: "Mostly Sunny", precipChance: 10},
		},
	},
	{
		forecastTime: "2025-06-02T11:00:00Z",
		days: []forecastDay{
			{target: "2025-06-03", high: 78, low: 63, conditions: "Mostly Sunny", precipChance: 10},
			{target: "2025-06-04", high: 70, low: 55, conditions: "Chance Rain Showers", precipChance: 50},
		},
	},
}

type forecastDay struct {
	target       string
	high, low    float64
	conditions   string
	precipChance int
}

type observedDay struct {
	date          string
	high, low     float64
	conditions    string
	precipitation float64
}

var observations = []observedDay{
	{date: "2025-06-02", high: 73, low: 59, conditions: "Partly Cloudy", precipitation: 0},
	{date: "2025-06-03", high: 76, low: 62, conditions: "Sunny", precipitation: 0.12},
	{date: "2025-06-04", high: 68, low: 54, conditions: "Rain Showers", precipitation: 0.4},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "data/mock", "output directory for fixture JSON")
	flag.Parse()

	// Fix the clock so CollectedAt is reproducible across runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	forecasts, err := buildForecasts()
	if err != nil {
		return fmt.Errorf("building forecasts: %w", err)
	}
	actuals, err := buildActuals()
	if err != nil {
		return fmt.Errorf("building actuals: %w", err)
	}

	forecastPath := filepath.Join(*outDir, "nyc_forecasts_250601_combined.json")
	if err := writeJSON(forecastPath, forecasts); err != nil {
		return fmt.Errorf("writing forecast fixture: %w", err)
	}
	log.Printf("wrote forecast fixture: %s (%d records)", forecastPath, len(forecasts))

	actualPath := filepath.Join(*outDir, "nyc_actuals_250602_combined.json")
	if err := writeJSON(actualPath, actuals); err != nil {
		return fmt.Errorf("writing actual fixture: %w", err)
	}
	log.Printf("wrote actual fixture: %s (%d records)", actualPath, len(actuals))

	return nil
}

func buildForecasts() ([]domain.RawForecastRecord, error) {
	var records []domain.RawForecastRecord //nolint:prealloc // size depends on the issuance table

	for _, iss := range issuances {
		for _, day := range iss.days {
			for _, gp := range gridpoints {
				high := day.high + gp.offset
				low := day.low + gp.offset
				chance := day.precipChance
				rec := domain.RawForecastRecord{
					City:                "New York",
					GridID:              "OKX",
					GridX:               gp.x,
					GridY:               gp.y,
					ForecastTime:        iss.forecastTime,
					TargetDate:          day.target,
					HighTemp:            &high,
					LowTemp:             &low,
					Conditions:          day.conditions,
					PrecipitationChance: &chance,
					Source:              "nws",
				}
				if err := verifyForecast(rec); err != nil {
					return nil, err
				}
				records = append(records, rec)
			}
		}
	}

	// One record with a missing city, kept last so the valid ones land
	// first. It exercises the reject path in the fixture-driven tests.
	bad := records[len(records)-1]
	bad.City = ""
	records = append(records, bad)

	return records, nil
}

// verifyForecast runs the payload through the real validation path and fails
// if the fixture would be dropped or lose fields in the pipeline.
func verifyForecast(rec domain.RawForecastRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	result, err := domain.ParseRawForecast(domain.RawEvent{Value: value})
	if err != nil {
		return fmt.Errorf("fixture record invalid: %w", err)
	}
	if len(result.Dropped) > 0 {
		return fmt.Errorf("fixture record %s drops fields: %v", result.Record.ID, result.Dropped)
	}
	return nil
}

func buildActuals() ([]domain.RawActualRecord, error) {
	records := make([]domain.RawActualRecord, 0, len(observations))
	for _, obs := range observations {
		high := obs.high
		low := obs.low
		precip := obs.precipitation
		rec := domain.RawActualRecord{
			City:          "New York",
			StationID:     "KNYC",
			Date:          obs.date,
			HighTemp:      &high,
			LowTemp:       &low,
			Conditions:    obs.conditions,
			Precipitation: &precip,
			Source:        "nws",
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		if _, err := domain.ParseRawActual(domain.RawEvent{Value: value}); err != nil {
			return nil, fmt.Errorf("fixture record invalid: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
