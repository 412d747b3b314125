package domain

import (
	"math"
	"sort"
	"time"
)

// AccuracyRecord is one joined row of consensus forecast vs observed outcome
// for a (city, target date, horizon, source) group. Error fields are signed,
// forecast minus actual: positive means the forecast ran warm. A nil error
// means the corresponding temperature was missing on either side.
type AccuracyRecord struct {
	City            string    `json:"city"`
	TargetDate      time.Time `json:"target_date"`
	ForecastHorizon int       `json:"forecast_horizon"`
	Source          string    `json:"source"`
	GridCount       int       `json:"grid_count"`
	ConsensusHigh   *float64  `json:"consensus_high,omitempty"`
	ConsensusLow    *float64  `json:"consensus_low,omitempty"`
	ActualHigh      *float64  `json:"actual_high,omitempty"`
	ActualLow       *float64  `json:"actual_low,omitempty"`
	HighError       *float64  `json:"high_error,omitempty"`
	LowError        *float64  `json:"low_error,omitempty"`
}

// ErrorStats are the summary statistics of a sample of signed errors.
// Variance is the population variance; StdDev and RMSE follow from it.
type ErrorStats struct {
	Samples  int     `json:"samples"`
	Mean     float64 `json:"mean"`
	MAE      float64 `json:"mae"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	RMSE     float64 `json:"rmse"`
}

// ComputeErrorStats summarizes a sample of signed errors. Returns a zero
// value when the sample is empty.
func ComputeErrorStats(errors []float64) ErrorStats {
	n := len(errors)
	if n == 0 {
		return ErrorStats{}
	}

	var sum, sumAbs, sumSq float64
	for _, e := range errors {
		sum += e
		sumAbs += math.Abs(e)
		sumSq += e * e
	}
	mean := sum / float64(n)

	var sumDev float64
	for _, e := range errors {
		d := e - mean
		sumDev += d * d
	}
	variance := sumDev / float64(n)

	return ErrorStats{
		Samples:  n,
		Mean:     mean,
		MAE:      sumAbs / float64(n),
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		RMSE:     math.Sqrt(sumSq / float64(n)),
	}
}

// HorizonBias holds the high and low temperature error statistics of one
// forecast horizon.
type HorizonBias struct {
	ForecastHorizon int        `json:"forecast_horizon"`
	High            ErrorStats `json:"high"`
	Low             ErrorStats `json:"low"`
}

// ComputeHorizonBias buckets accuracy records by forecast horizon and
// summarizes each bucket. Same-day forecasts (horizon 0) get their own
// bucket; they behave differently from genuine lead-time forecasts and must
// not dilute them. Horizons appear in ascending order; empty buckets are
// omitted. Rows with a nil error on one side still count on the other.
func ComputeHorizonBias(records []AccuracyRecord) []HorizonBias {
	type bucket struct {
		highs []float64
		lows  []float64
	}
	buckets := make(map[int]*bucket)
	for _, rec := range records {
		b := buckets[rec.ForecastHorizon]
		if b == nil {
			b = &bucket{}
			buckets[rec.ForecastHorizon] = b
		}
		if rec.HighError != nil {
			b.highs = append(b.highs, *rec.HighError)
		}
		if rec.LowError != nil {
			b.lows = append(b.lows, *rec.LowError)
		}
	}

	horizons := make([]int, 0, len(buckets))
	for h, b := range buckets {
		if len(b.highs) == 0 && len(b.lows) == 0 {
			continue
		}
		horizons = append(horizons, h)
	}
	sort.Ints(horizons)

	out := make([]HorizonBias, 0, len(horizons))
	for _, h := range horizons {
		b := buckets[h]
		out = append(out, HorizonBias{
			ForecastHorizon: h,
			High:            ComputeErrorStats(b.highs),
			Low:             ComputeErrorStats(b.lows),
		})
	}
	return out
}

// BiasFinding is the verdict of a persistent-bias check over one error
// sample. Direction is "warm" when forecasts run high, "cold" when they run
// low. SufficientData distinguishes "no bias" from "not enough evidence".
type BiasFinding struct {
	Detected       bool    `json:"detected"`
	Direction      string  `json:"direction,omitempty"`
	Magnitude      float64 `json:"magnitude"`
	SufficientData bool    `json:"sufficient_data"`
}

// DetectPersistentBias flags a systematic lean in an error sample. A bias is
// persistent when the sample spans at least minSamples days and the mean
// error's magnitude exceeds threshold degrees.
func DetectPersistentBias(stats ErrorStats, threshold float64, minSamples int) BiasFinding {
	finding := BiasFinding{Magnitude: math.Abs(stats.Mean)}
	if stats.Samples < minSamples {
		return finding
	}
	finding.SufficientData = true
	if finding.Magnitude <= threshold {
		return finding
	}
	finding.Detected = true
	if stats.Mean > 0 {
		finding.Direction = "warm"
	} else {
		finding.Direction = "cold"
	}
	return finding
}
