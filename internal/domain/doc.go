// Package domain models NOAA gridpoint weather forecasts and observed
// actuals for spatial-ensemble bias detection.
//
// # Data Source
//
// The upstream collector service scrapes a multi-day forecast for every
// gridpoint of each tracked city (a city maps to one NWS forecast office
// grid, e.g. "OKX", with roughly 29 gridpoints around an airport). Each
// scraped day is published as flat JSON to the raw forecast topic; once a
// target date has passed, the observed outcome for the city is published to
// the raw actuals topic.
//
// # Identity and Supersession
//
// A forecast is identified by the tuple
//
//	(city, grid_id, grid_x, grid_y, target_date, forecast_time, source)
//
// Re-collecting the identical issuance is an idempotent no-op. A later
// issuance for the same target date (different forecast_time) is a new
// immutable fact, never an overwrite: the full issuance history is what the
// bias engine analyzes by forecast horizon. Forecast rows are never deleted.
//
// Record IDs are deterministic SHA-256 hashes of the identity tuple. This
// enables idempotent upserts (ON CONFLICT DO NOTHING) and replay safety
// without distributed coordination. See [ForecastID] and [ActualID].
//
// # Forecast Horizon
//
// The horizon is the whole number of days between the issuance date and the
// target date: 0 = same-day forecast. It is always derived here, never
// trusted from the collector, and a negative horizon (a forecast issued
// after its target date) rejects the record.
//
// # Spatial Consensus
//
// Averaging independently sited gridpoints cancels location-specific noise
// and isolates a source-level bias signal. Each distinct gridpoint
// contributes exactly once to a consensus (latest issuance within the
// group); forecasts missing either temperature are excluded rather than
// treated as zero, and an empty group yields an explicit no-consensus
// result instead of zeros.
package domain
