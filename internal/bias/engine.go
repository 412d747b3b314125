// Package bias joins spatial consensus forecasts against observed outcomes
// and derives per-horizon error statistics. Everything here is computed on
// read from stored records; nothing derived is ever persisted.
package bias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

// ErrAggregationGap indicates zero qualifying records for a requested
// consensus or bias computation. Callers must surface it as "no data",
// never coerce it to a zero-valued result.
var ErrAggregationGap = errors.New("no qualifying records for aggregation")

// Reader is the slice of the store the engine needs.
type Reader interface {
	GetForecasts(ctx context.Context, filter store.ForecastFilter) ([]domain.ForecastRecord, error)
	GetActuals(ctx context.Context, filter store.ActualFilter) ([]domain.ActualRecord, error)
}

// Options tune how much evidence the engine demands before it trusts a
// consensus group or declares a persistent bias.
type Options struct {
	// MinGridCount is the fewest distinct gridpoints a consensus group
	// needs before it feeds the bias statistics. Thinner groups are
	// reported as unreliable rather than silently included.
	MinGridCount int
	// BiasThreshold is the mean-error magnitude, in degrees, past which a
	// sample counts as biased.
	BiasThreshold float64
	// MinSampleDays is the fewest target dates a sample needs before a
	// bias verdict is meaningful.
	MinSampleDays int
}

// Engine computes consensus and bias views over a store.
type Engine struct {
	reader Reader
	logger *slog.Logger
	opts   Options
}

// NewEngine builds an Engine. Zero option fields fall back to defaults.
func NewEngine(reader Reader, logger *slog.Logger, opts Options) *Engine {
	if opts.MinGridCount <= 0 {
		opts.MinGridCount = 5
	}
	if opts.BiasThreshold <= 0 {
		opts.BiasThreshold = 0.5
	}
	if opts.MinSampleDays <= 0 {
		opts.MinSampleDays = 30
	}
	return &Engine{reader: reader, logger: logger, opts: opts}
}

// Consensus computes the spatial consensus for one (city, target date,
// horizon, source) group. Returns ErrAggregationGap when no stored forecast
// in the group has both temperatures.
func (e *Engine) Consensus(ctx context.Context, city string, targetDate time.Time, horizon int, source string) (domain.SpatialConsensus, error) {
	records, err := e.groupForecasts(ctx, city, targetDate, horizon, source)
	if err != nil {
		return domain.SpatialConsensus{}, err
	}
	consensus, ok := domain.ComputeConsensus(records)
	if !ok {
		return domain.SpatialConsensus{}, fmt.Errorf("%w: %s %s horizon %d",
			ErrAggregationGap, city, targetDate.Format("2006-01-02"), horizon)
	}
	return consensus, nil
}

// Spread breaks the consensus group back out into per-gridpoint deviations.
func (e *Engine) Spread(ctx context.Context, city string, targetDate time.Time, horizon int, source string) (domain.SpatialConsensus, []domain.GridpointForecast, error) {
	records, err := e.groupForecasts(ctx, city, targetDate, horizon, source)
	if err != nil {
		return domain.SpatialConsensus{}, nil, err
	}
	consensus, points, ok := domain.GridpointSpread(records)
	if !ok {
		return domain.SpatialConsensus{}, nil, fmt.Errorf("%w: %s %s horizon %d",
			ErrAggregationGap, city, targetDate.Format("2006-01-02"), horizon)
	}
	return consensus, points, nil
}

func (e *Engine) groupForecasts(ctx context.Context, city string, targetDate time.Time, horizon int, source string) ([]domain.ForecastRecord, error) {
	return e.reader.GetForecasts(ctx, store.ForecastFilter{
		City:       city,
		Source:     source,
		TargetFrom: targetDate,
		TargetTo:   targetDate,
		MinHorizon: &horizon,
		MaxHorizon: &horizon,
	})
}

// Query selects the records a bias report covers. From/To bound the target
// dates; MinHorizon/MaxHorizon bound the lead times (nil means unbounded).
type Query struct {
	City       string
	Source     string
	From       time.Time
	To         time.Time
	MinHorizon *int
	MaxHorizon *int
}

// HorizonSummary pairs one horizon's error statistics with the persistent
// bias verdicts over them.
type HorizonSummary struct {
	domain.HorizonBias
	HighBias domain.BiasFinding `json:"high_bias"`
	LowBias  domain.BiasFinding `json:"low_bias"`
}

// Report is the full bias picture for one query. Pending lists target dates
// that have consensus forecasts but no observed outcome yet; Unreliable
// lists dates whose consensus rested on fewer gridpoints than the engine
// trusts. Both are explicit markers: an incomplete join never collapses
// into "bias is zero".
type Report struct {
	City       string           `json:"city"`
	Source     string           `json:"source"`
	Horizons   []HorizonSummary `json:"horizons"`
	Pending    []time.Time      `json:"pending,omitempty"`
	Unreliable []time.Time      `json:"unreliable,omitempty"`
}

// BiasByHorizon joins consensus forecasts against observed outcomes over the
// query window and summarizes signed errors per horizon. Returns
// ErrAggregationGap when the query matches no forecasts at all; a report
// whose dates are all pending is returned normally with empty Horizons.
func (e *Engine) BiasByHorizon(ctx context.Context, q Query) (Report, error) {
	forecasts, err := e.reader.GetForecasts(ctx, store.ForecastFilter{
		City:       q.City,
		Source:     q.Source,
		TargetFrom: q.From,
		TargetTo:   q.To,
		MinHorizon: q.MinHorizon,
		MaxHorizon: q.MaxHorizon,
	})
	if err != nil {
		return Report{}, err
	}
	if len(forecasts) == 0 {
		return Report{}, fmt.Errorf("%w: no forecasts for %s", ErrAggregationGap, q.City)
	}

	actuals, err := e.reader.GetActuals(ctx, store.ActualFilter{
		City: q.City,
		From: q.From,
		To:   q.To,
	})
	if err != nil {
		return Report{}, err
	}
	actualFor := indexActuals(actuals)

	accuracy, pending, unreliable := e.join(forecasts, actualFor, q.Source)

	report := Report{
		City:       q.City,
		Source:     q.Source,
		Pending:    pending,
		Unreliable: unreliable,
	}
	for _, hb := range domain.ComputeHorizonBias(accuracy) {
		report.Horizons = append(report.Horizons, HorizonSummary{
			HorizonBias: hb,
			HighBias:    domain.DetectPersistentBias(hb.High, e.opts.BiasThreshold, e.opts.MinSampleDays),
			LowBias:     domain.DetectPersistentBias(hb.Low, e.opts.BiasThreshold, e.opts.MinSampleDays),
		})
	}
	return report, nil
}

// join groups forecasts by (target date, horizon, source), computes each
// group's consensus, and pairs it with the matching observed outcome.
func (e *Engine) join(forecasts []domain.ForecastRecord, actualFor map[actualKey][]domain.ActualRecord, source string) (accuracy []domain.AccuracyRecord, pending, unreliable []time.Time) {
	type groupKey struct {
		targetDate time.Time
		horizon    int
		source     string
	}
	groups := make(map[groupKey][]domain.ForecastRecord)
	for _, f := range forecasts {
		k := groupKey{f.TargetDate, f.ForecastHorizon, f.Source}
		groups[k] = append(groups[k], f)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].targetDate.Equal(keys[j].targetDate) {
			return keys[i].targetDate.Before(keys[j].targetDate)
		}
		if keys[i].horizon != keys[j].horizon {
			return keys[i].horizon < keys[j].horizon
		}
		return keys[i].source < keys[j].source
	})

	pendingSeen := make(map[time.Time]bool)
	unreliableSeen := make(map[time.Time]bool)
	for _, k := range keys {
		consensus, ok := domain.ComputeConsensus(groups[k])
		if !ok {
			continue
		}
		city := groups[k][0].City
		actual, ok := matchActual(actualFor[actualKey{city, k.targetDate}], k.source)
		if !ok {
			if !pendingSeen[k.targetDate] {
				pendingSeen[k.targetDate] = true
				pending = append(pending, k.targetDate)
			}
			continue
		}
		if consensus.GridCount < e.opts.MinGridCount {
			if !unreliableSeen[k.targetDate] {
				unreliableSeen[k.targetDate] = true
				unreliable = append(unreliable, k.targetDate)
			}
			e.logger.Debug("consensus group below gridpoint floor",
				"city", city,
				"target_date", k.targetDate.Format("2006-01-02"),
				"forecast_horizon", k.horizon,
				"grid_count", consensus.GridCount,
			)
			continue
		}

		rec := domain.AccuracyRecord{
			City:            city,
			TargetDate:      k.targetDate,
			ForecastHorizon: k.horizon,
			Source:          k.source,
			GridCount:       consensus.GridCount,
			ConsensusHigh:   &consensus.ConsensusHigh,
			ConsensusLow:    &consensus.ConsensusLow,
			ActualHigh:      actual.HighTemp,
			ActualLow:       actual.LowTemp,
		}
		if actual.HighTemp != nil {
			delta := consensus.ConsensusHigh - *actual.HighTemp
			rec.HighError = &delta
		}
		if actual.LowTemp != nil {
			delta := consensus.ConsensusLow - *actual.LowTemp
			rec.LowError = &delta
		}
		accuracy = append(accuracy, rec)
	}
	return accuracy, pending, unreliable
}

type actualKey struct {
	city string
	date time.Time
}

func indexActuals(actuals []domain.ActualRecord) map[actualKey][]domain.ActualRecord {
	idx := make(map[actualKey][]domain.ActualRecord, len(actuals))
	for _, a := range actuals {
		k := actualKey{a.City, a.Date}
		idx[k] = append(idx[k], a)
	}
	for _, list := range idx {
		sort.Slice(list, func(i, j int) bool { return list[i].Source < list[j].Source })
	}
	return idx
}

// matchActual prefers ground truth from the same source as the forecast;
// failing that, the lexicographically first source, so repeated queries
// always join against the same observation.
func matchActual(candidates []domain.ActualRecord, source string) (domain.ActualRecord, bool) {
	for _, a := range candidates {
		if a.Source == source {
			return a, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true
	}
	return domain.ActualRecord{}, false
}
