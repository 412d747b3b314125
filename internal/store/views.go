package store

import (
	"fmt"
	"strings"
)

// The two derived views are part of the schema contract: reporters that talk
// SQL directly get the same pointwise accuracy and grid consensus the service
// computes in process. Both are plain views, recomputed on read, so stored
// forecasts and actuals stay the single source of truth.
const (
	forecastAccuracyBody = `
SELECT
    f.city,
    f.grid_id,
    f.grid_x,
    f.grid_y,
    f.target_date,
    f.forecast_horizon,
    f.source,
    f.high_temp        AS forecast_high,
    f.low_temp         AS forecast_low,
    a.high_temp        AS actual_high,
    a.low_temp         AS actual_low,
    f.high_temp - a.high_temp AS high_error,
    f.low_temp - a.low_temp   AS low_error
FROM forecasts f
INNER JOIN actuals a
    ON f.city = a.city AND f.target_date = a.date
WHERE f.high_temp IS NOT NULL
  AND f.low_temp IS NOT NULL
  AND a.high_temp IS NOT NULL
  AND a.low_temp IS NOT NULL`

	spatialConsensusBody = `
SELECT
    city,
    target_date,
    forecast_horizon,
    source,
    COUNT(DISTINCT grid_id || '/' || grid_x || '/' || grid_y) AS grid_count,
    AVG(high_temp) AS consensus_high,
    MIN(high_temp) AS min_high,
    MAX(high_temp) AS max_high,
    AVG(low_temp)  AS consensus_low,
    MIN(low_temp)  AS min_low,
    MAX(low_temp)  AS max_low
FROM forecasts
WHERE high_temp IS NOT NULL
  AND low_temp IS NOT NULL
GROUP BY city, target_date, forecast_horizon, source`
)

func (s *Store) createViews(driver string) error {
	views := map[string]string{
		"forecast_accuracy": forecastAccuracyBody,
		"spatial_consensus": spatialConsensusBody,
	}
	for _, name := range []string{"forecast_accuracy", "spatial_consensus"} {
		body := views[name]
		var stmt string
		if driver == "postgres" {
			// Integer grid coordinates need an explicit cast before ||.
			body = strings.Replace(body,
				`grid_id || '/' || grid_x || '/' || grid_y`,
				`grid_id || '/' || grid_x::text || '/' || grid_y::text`, 1)
			stmt = fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", name, body)
		} else {
			stmt = fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS %s", name, body)
		}
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create view %s: %w", name, err)
		}
	}
	return nil
}
