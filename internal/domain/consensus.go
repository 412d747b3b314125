package domain

import (
	"sort"
	"time"
)

// SpatialConsensus summarizes the forecasts of every gridpoint in a city's
// grid for one (target date, horizon, source) group. Gridpoints are weighted
// equally; a low GridCount signals partial collection and callers decide
// whether to trust it.
type SpatialConsensus struct {
	City            string    `json:"city"`
	TargetDate      time.Time `json:"target_date"`
	ForecastHorizon int       `json:"forecast_horizon"`
	Source          string    `json:"source"`
	GridCount       int       `json:"grid_count"`
	ConsensusHigh   float64   `json:"consensus_high"`
	MinHigh         float64   `json:"min_high"`
	MaxHigh         float64   `json:"max_high"`
	ConsensusLow    float64   `json:"consensus_low"`
	MinLow          float64   `json:"min_low"`
	MaxLow          float64   `json:"max_low"`
}

// HighSpread returns the max-to-min spread of high temperatures across the
// grid, a cheap proxy for spatial disagreement.
func (c SpatialConsensus) HighSpread() float64 { return c.MaxHigh - c.MinHigh }

// LowSpread returns the max-to-min spread of low temperatures across the grid.
func (c SpatialConsensus) LowSpread() float64 { return c.MaxLow - c.MinLow }

// ComputeConsensus aggregates forecast records belonging to one
// (city, target date, horizon, source) group into a SpatialConsensus.
// If a gridpoint appears more than once, only its latest issuance counts;
// earlier issuances were superseded. Records missing either temperature are
// skipped. Returns false when no record qualifies.
func ComputeConsensus(records []ForecastRecord) (SpatialConsensus, bool) {
	latest := make(map[string]ForecastRecord, len(records))
	for _, rec := range records {
		if !rec.HasTemperatures() {
			continue
		}
		key := rec.Gridpoint()
		if prev, ok := latest[key]; !ok || rec.ForecastTime.After(prev.ForecastTime) {
			latest[key] = rec
		}
	}
	if len(latest) == 0 {
		return SpatialConsensus{}, false
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	first := latest[keys[0]]
	out := SpatialConsensus{
		City:            first.City,
		TargetDate:      first.TargetDate,
		ForecastHorizon: first.ForecastHorizon,
		Source:          first.Source,
		GridCount:       len(latest),
		MinHigh:         *first.HighTemp,
		MaxHigh:         *first.HighTemp,
		MinLow:          *first.LowTemp,
		MaxLow:          *first.LowTemp,
	}

	var sumHigh, sumLow float64
	for _, k := range keys {
		rec := latest[k]
		high, low := *rec.HighTemp, *rec.LowTemp
		sumHigh += high
		sumLow += low
		if high < out.MinHigh {
			out.MinHigh = high
		}
		if high > out.MaxHigh {
			out.MaxHigh = high
		}
		if low < out.MinLow {
			out.MinLow = low
		}
		if low > out.MaxLow {
			out.MaxLow = low
		}
	}
	n := float64(len(latest))
	out.ConsensusHigh = sumHigh / n
	out.ConsensusLow = sumLow / n
	return out, true
}

// GridpointForecast pairs one gridpoint's latest forecast with its deviation
// from the grid consensus, used to surface outlier corners of a grid.
type GridpointForecast struct {
	Gridpoint     string    `json:"gridpoint"`
	GridX         int       `json:"grid_x"`
	GridY         int       `json:"grid_y"`
	ForecastTime  time.Time `json:"forecast_time"`
	HighTemp      float64   `json:"high_temp"`
	LowTemp       float64   `json:"low_temp"`
	HighDeviation float64   `json:"high_deviation"`
	LowDeviation  float64   `json:"low_deviation"`
}

// GridpointSpread breaks a consensus group back out into its member
// gridpoints, each annotated with its deviation from the consensus mean.
// Order is stable on the gridpoint key. Returns false when no record
// qualifies.
func GridpointSpread(records []ForecastRecord) (SpatialConsensus, []GridpointForecast, bool) {
	consensus, ok := ComputeConsensus(records)
	if !ok {
		return SpatialConsensus{}, nil, false
	}

	latest := make(map[string]ForecastRecord, len(records))
	for _, rec := range records {
		if !rec.HasTemperatures() {
			continue
		}
		key := rec.Gridpoint()
		if prev, seen := latest[key]; !seen || rec.ForecastTime.After(prev.ForecastTime) {
			latest[key] = rec
		}
	}

	points := make([]GridpointForecast, 0, len(latest))
	for key, rec := range latest {
		points = append(points, GridpointForecast{
			Gridpoint:     key,
			GridX:         rec.GridX,
			GridY:         rec.GridY,
			ForecastTime:  rec.ForecastTime,
			HighTemp:      *rec.HighTemp,
			LowTemp:       *rec.LowTemp,
			HighDeviation: *rec.HighTemp - consensus.ConsensusHigh,
			LowDeviation:  *rec.LowTemp - consensus.ConsensusLow,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Gridpoint < points[j].Gridpoint })
	return consensus, points, true
}
