package store

import (
	"time"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
)

// forecastRow is the persistence shape of a domain.ForecastRecord. The
// unique index over the identity tuple is what makes upserts idempotent at
// the database level even when two consumers race on the same payload.
type forecastRow struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	City                string    `gorm:"column:city;index:idx_forecast_identity,unique;index:idx_forecast_city_date"`
	GridID              string    `gorm:"column:grid_id;index:idx_forecast_identity,unique"`
	GridX               int       `gorm:"column:grid_x;index:idx_forecast_identity,unique"`
	GridY               int       `gorm:"column:grid_y;index:idx_forecast_identity,unique"`
	ForecastTime        time.Time `gorm:"column:forecast_time;index:idx_forecast_identity,unique"`
	TargetDate          time.Time `gorm:"column:target_date;index:idx_forecast_identity,unique;index:idx_forecast_city_date"`
	ForecastHorizon     int       `gorm:"column:forecast_horizon;index"`
	HighTemp            *float64  `gorm:"column:high_temp"`
	LowTemp             *float64  `gorm:"column:low_temp"`
	Conditions          string    `gorm:"column:conditions"`
	PrecipitationChance *int      `gorm:"column:precipitation_chance"`
	Source              string    `gorm:"column:source;index:idx_forecast_identity,unique"`
	CollectedAt         time.Time `gorm:"column:collected_at"`
}

func (forecastRow) TableName() string { return "forecasts" }

// actualRow is the persistence shape of a domain.ActualRecord, unique on
// (city, date, source).
type actualRow struct {
	ID            string    `gorm:"column:id;primaryKey"`
	City          string    `gorm:"column:city;index:idx_actual_identity,unique"`
	StationID     string    `gorm:"column:station_id"`
	Date          time.Time `gorm:"column:date;index:idx_actual_identity,unique"`
	HighTemp      *float64  `gorm:"column:high_temp"`
	LowTemp       *float64  `gorm:"column:low_temp"`
	Conditions    string    `gorm:"column:conditions"`
	Precipitation *float64  `gorm:"column:precipitation"`
	Source        string    `gorm:"column:source;index:idx_actual_identity,unique"`
	CollectedAt   time.Time `gorm:"column:collected_at"`
}

func (actualRow) TableName() string { return "actuals" }

func toForecastRow(rec domain.ForecastRecord) forecastRow {
	return forecastRow{
		ID:                  rec.ID,
		City:                rec.City,
		GridID:              rec.GridID,
		GridX:               rec.GridX,
		GridY:               rec.GridY,
		ForecastTime:        rec.ForecastTime.UTC(),
		TargetDate:          rec.TargetDate.UTC(),
		ForecastHorizon:     rec.ForecastHorizon,
		HighTemp:            rec.HighTemp,
		LowTemp:             rec.LowTemp,
		Conditions:          rec.Conditions,
		PrecipitationChance: rec.PrecipitationChance,
		Source:              rec.Source,
		CollectedAt:         rec.CollectedAt.UTC(),
	}
}

func (r forecastRow) toDomain() domain.ForecastRecord {
	return domain.ForecastRecord{
		ID:                  r.ID,
		City:                r.City,
		GridID:              r.GridID,
		GridX:               r.GridX,
		GridY:               r.GridY,
		ForecastTime:        r.ForecastTime.UTC(),
		TargetDate:          r.TargetDate.UTC(),
		ForecastHorizon:     r.ForecastHorizon,
		HighTemp:            r.HighTemp,
		LowTemp:             r.LowTemp,
		Conditions:          r.Conditions,
		PrecipitationChance: r.PrecipitationChance,
		Source:              r.Source,
		CollectedAt:         r.CollectedAt.UTC(),
	}
}

func toActualRow(rec domain.ActualRecord) actualRow {
	return actualRow{
		ID:            rec.ID,
		City:          rec.City,
		StationID:     rec.StationID,
		Date:          rec.Date.UTC(),
		HighTemp:      rec.HighTemp,
		LowTemp:       rec.LowTemp,
		Conditions:    rec.Conditions,
		Precipitation: rec.Precipitation,
		Source:        rec.Source,
		CollectedAt:   rec.CollectedAt.UTC(),
	}
}

func (r actualRow) toDomain() domain.ActualRecord {
	return domain.ActualRecord{
		ID:            r.ID,
		City:          r.City,
		StationID:     r.StationID,
		Date:          r.Date.UTC(),
		HighTemp:      r.HighTemp,
		LowTemp:       r.LowTemp,
		Conditions:    r.Conditions,
		Precipitation: r.Precipitation,
		Source:        r.Source,
		CollectedAt:   r.CollectedAt.UTC(),
	}
}
