package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrMissingField marks a required field that is absent or blank.
	ErrMissingField = errors.New("missing required field")
	// ErrNegativeHorizon marks a forecast whose target date precedes its
	// issuance date. Such records cannot be real predictions.
	ErrNegativeHorizon = errors.New("negative forecast horizon")
	// ErrInvertedTemperatureRange marks a high below the low. The record is
	// kept with both temperatures dropped rather than rejected outright.
	ErrInvertedTemperatureRange = errors.New("inverted temperature range")
	// ErrPrecipChanceOutOfRange marks a precipitation chance outside 0-100.
	// The record is rejected; only inverted temperatures recover by field drop.
	ErrPrecipChanceOutOfRange = errors.New("precipitation chance out of range")
	// ErrNegativePrecipitation marks an observed precipitation amount below
	// zero. Rejects the record, same as an out-of-range chance.
	ErrNegativePrecipitation = errors.New("negative precipitation amount")
)

// ForecastResult is the outcome of validating one raw forecast payload.
// Dropped carries recoverable field errors: the record is still usable and
// stored, but the offending fields were cleared.
type ForecastResult struct {
	Record  ForecastRecord
	Dropped []error
}

// ActualResult is the outcome of validating one raw observation payload.
type ActualResult struct {
	Record  ActualRecord
	Dropped []error
}

// ParseRawForecast deserializes a RawEvent's value and validates it into a
// ForecastRecord. A non-nil error means the payload is unusable and should
// be rejected end to end.
func ParseRawForecast(raw RawEvent) (ForecastResult, error) {
	var rec RawForecastRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return ForecastResult{}, fmt.Errorf("parse raw forecast: %w", err)
	}
	return ValidateForecast(rec)
}

// ParseRawActual deserializes a RawEvent's value and validates it into an
// ActualRecord.
func ParseRawActual(raw RawEvent) (ActualResult, error) {
	var rec RawActualRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return ActualResult{}, fmt.Errorf("parse raw actual: %w", err)
	}
	return ValidateActual(rec)
}

// ValidateForecast checks a raw forecast record and builds the canonical
// ForecastRecord. The forecast horizon is always derived from the issuance
// and target dates; a horizon claimed by the producer is never trusted.
func ValidateForecast(raw RawForecastRecord) (ForecastResult, error) {
	var errs *multierror.Error
	if strings.TrimSpace(raw.City) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: city", ErrMissingField))
	}
	if strings.TrimSpace(raw.GridID) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: grid_id", ErrMissingField))
	}
	if strings.TrimSpace(raw.Source) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: source", ErrMissingField))
	}

	forecastTime, err := parseInstant(raw.ForecastTime)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: forecast_time (%v)", ErrMissingField, err))
	}
	targetDate, err := parseDate(raw.TargetDate)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: target_date (%v)", ErrMissingField, err))
	}
	if raw.PrecipitationChance != nil {
		if p := *raw.PrecipitationChance; p < 0 || p > 100 {
			errs = multierror.Append(errs, fmt.Errorf("%w: %d", ErrPrecipChanceOutOfRange, p))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return ForecastResult{}, err
	}

	horizon := DeriveHorizon(forecastTime, targetDate)
	if horizon < 0 {
		return ForecastResult{}, fmt.Errorf("%w: issued %s for %s",
			ErrNegativeHorizon, forecastTime.Format("2006-01-02"), targetDate.Format("2006-01-02"))
	}

	rec := ForecastRecord{
		City:                strings.TrimSpace(raw.City),
		GridID:              strings.TrimSpace(raw.GridID),
		GridX:               raw.GridX,
		GridY:               raw.GridY,
		ForecastTime:        forecastTime,
		TargetDate:          targetDate,
		ForecastHorizon:     horizon,
		HighTemp:            raw.HighTemp,
		LowTemp:             raw.LowTemp,
		Conditions:          strings.TrimSpace(raw.Conditions),
		PrecipitationChance: raw.PrecipitationChance,
		Source:              strings.TrimSpace(raw.Source),
		CollectedAt:         clock.Now().UTC(),
	}

	var dropped []error
	if rec.HighTemp != nil && rec.LowTemp != nil && *rec.HighTemp < *rec.LowTemp {
		dropped = append(dropped, fmt.Errorf("%w: high %g below low %g",
			ErrInvertedTemperatureRange, *rec.HighTemp, *rec.LowTemp))
		rec.HighTemp = nil
		rec.LowTemp = nil
	}

	rec.ID = ForecastID(rec.City, rec.GridID, rec.GridX, rec.GridY, rec.ForecastTime, rec.TargetDate, rec.Source)
	return ForecastResult{Record: rec, Dropped: dropped}, nil
}

// ValidateActual checks a raw observation record and builds the canonical
// ActualRecord.
func ValidateActual(raw RawActualRecord) (ActualResult, error) {
	var errs *multierror.Error
	if strings.TrimSpace(raw.City) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: city", ErrMissingField))
	}
	if strings.TrimSpace(raw.Source) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: source", ErrMissingField))
	}
	date, err := parseDate(raw.Date)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: date (%v)", ErrMissingField, err))
	}
	if raw.Precipitation != nil && *raw.Precipitation < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: %g", ErrNegativePrecipitation, *raw.Precipitation))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return ActualResult{}, err
	}

	rec := ActualRecord{
		City:          strings.TrimSpace(raw.City),
		StationID:     strings.TrimSpace(raw.StationID),
		Date:          date,
		HighTemp:      raw.HighTemp,
		LowTemp:       raw.LowTemp,
		Conditions:    strings.TrimSpace(raw.Conditions),
		Precipitation: raw.Precipitation,
		Source:        strings.TrimSpace(raw.Source),
		CollectedAt:   clock.Now().UTC(),
	}

	var dropped []error
	if rec.HighTemp != nil && rec.LowTemp != nil && *rec.HighTemp < *rec.LowTemp {
		dropped = append(dropped, fmt.Errorf("%w: high %g below low %g",
			ErrInvertedTemperatureRange, *rec.HighTemp, *rec.LowTemp))
		rec.HighTemp = nil
		rec.LowTemp = nil
	}

	rec.ID = ActualID(rec.City, rec.Date, rec.Source)
	return ActualResult{Record: rec, Dropped: dropped}, nil
}

// DeriveHorizon counts whole calendar days between the issuance date and the
// target date, both taken in UTC. A forecast issued late on June 1 for June 3
// is horizon 2 regardless of the hour.
func DeriveHorizon(forecastTime, targetDate time.Time) int {
	issued := midnightUTC(forecastTime)
	target := midnightUTC(targetDate)
	return int(target.Sub(issued).Hours() / 24)
}

// ValidationReason maps a validation error to a stable, low-cardinality
// label for metrics and reject headers.
func ValidationReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrNegativeHorizon):
		return "negative_horizon"
	case errors.Is(err, ErrInvertedTemperatureRange):
		return "inverted_range"
	case errors.Is(err, ErrPrecipChanceOutOfRange):
		return "precip_chance_out_of_range"
	case errors.Is(err, ErrNegativePrecipitation):
		return "negative_precipitation"
	default:
		return "malformed_payload"
	}
}

// parseInstant parses an issuance timestamp. RFC 3339 is preferred; a naive
// ISO timestamp without an offset is treated as UTC.
func parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t, nil
}

// parseDate parses a YYYY-MM-DD date as UTC midnight.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty")
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	}
	return t, nil
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
