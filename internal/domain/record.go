package domain

import (
	"context"
	"fmt"
	"time"
)

// RawForecastRecord is the flat JSON payload the collector publishes for one
// forecast day at one gridpoint. Temperatures and precipitation chance are
// pointers because the source page may omit any of them.
type RawForecastRecord struct {
	City                string   `json:"city"`
	GridID              string   `json:"grid_id"`
	GridX               int      `json:"grid_x"`
	GridY               int      `json:"grid_y"`
	ForecastTime        string   `json:"forecast_time"` // issuance instant, RFC 3339
	TargetDate          string   `json:"target_date"`   // YYYY-MM-DD
	HighTemp            *float64 `json:"high_temp"`
	LowTemp             *float64 `json:"low_temp"`
	Conditions          string   `json:"conditions"`
	PrecipitationChance *int     `json:"precipitation_chance"` // percent, 0-100
	Source              string   `json:"source"`
}

// RawActualRecord is the flat JSON payload the collector publishes once
// ground truth for a city/date is available.
type RawActualRecord struct {
	City          string   `json:"city"`
	StationID     string   `json:"station_id"`
	Date          string   `json:"date"` // YYYY-MM-DD
	HighTemp      *float64 `json:"high_temp"`
	LowTemp       *float64 `json:"low_temp"`
	Conditions    string   `json:"conditions"`
	Precipitation *float64 `json:"precipitation"` // observed amount, not a chance
	Source        string   `json:"source"`
}

// RawEvent represents an unprocessed message from a raw topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ForecastRecord is one validated prediction: one target date, issued at one
// forecast time, for one gridpoint of one city, from one source. Immutable
// once stored; a later issuance for the same target date is a new record.
type ForecastRecord struct {
	ID                  string    `json:"id"`
	City                string    `json:"city"`
	GridID              string    `json:"grid_id"`
	GridX               int       `json:"grid_x"`
	GridY               int       `json:"grid_y"`
	ForecastTime        time.Time `json:"forecast_time"`
	TargetDate          time.Time `json:"target_date"` // UTC midnight
	ForecastHorizon     int       `json:"forecast_horizon"`
	HighTemp            *float64  `json:"high_temp,omitempty"`
	LowTemp             *float64  `json:"low_temp,omitempty"`
	Conditions          string    `json:"conditions,omitempty"`
	PrecipitationChance *int      `json:"precipitation_chance,omitempty"`
	Source              string    `json:"source"`
	CollectedAt         time.Time `json:"collected_at"`
}

// Gridpoint returns the canonical key for the record's grid location,
// e.g. "OKX/33/35". Distinctness of gridpoints in a consensus group is
// counted on this key.
func (r ForecastRecord) Gridpoint() string {
	return fmt.Sprintf("%s/%d/%d", r.GridID, r.GridX, r.GridY)
}

// HasTemperatures reports whether both the high and low temperature are
// populated. Only such records qualify for consensus and accuracy joins.
func (r ForecastRecord) HasTemperatures() bool {
	return r.HighTemp != nil && r.LowTemp != nil
}

// ActualRecord is one observed outcome for a city/date from one source.
// Unique on (city, date, source); immutable barring an explicit correction.
type ActualRecord struct {
	ID            string    `json:"id"`
	City          string    `json:"city"`
	StationID     string    `json:"station_id,omitempty"`
	Date          time.Time `json:"date"` // UTC midnight
	HighTemp      *float64  `json:"high_temp,omitempty"`
	LowTemp       *float64  `json:"low_temp,omitempty"`
	Conditions    string    `json:"conditions,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	Source        string    `json:"source"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SamePayload reports whether two actuals agree on every observed field.
// A re-collection with an equal payload is an idempotent no-op; a differing
// payload is a correction and must be handled explicitly.
func (r ActualRecord) SamePayload(other ActualRecord) bool {
	return equalFloatPtr(r.HighTemp, other.HighTemp) &&
		equalFloatPtr(r.LowTemp, other.LowTemp) &&
		equalFloatPtr(r.Precipitation, other.Precipitation) &&
		r.Conditions == other.Conditions &&
		r.StationID == other.StationID
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RejectedRecord describes a raw payload that failed validation. Rejects are
// published back toward the collector so that no error is silently dropped.
type RejectedRecord struct {
	Topic      string    `json:"topic"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail"`
	Payload    []byte    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}
