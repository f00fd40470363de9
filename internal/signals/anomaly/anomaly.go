// Package anomaly implements the supplemented IQR/EMA/combined anomaly
// detectors (SPEC_FULL.md §3), adapted from the teacher's
// internal/analyzer/anomaly.go. These are not the authoritative alerting
// path (internal/signals/alert implements spec.md §4.5.5's z-score
// adaptive threshold exactly); they back the /health/scores trend fields.
package anomaly

import (
	"math"

	"github.com/vantage-observability/vantage/internal/signals/stats"
)

// Result describes one detector's verdict over a window.
type Result struct {
	IsAnomaly    bool
	Score        float64 // severity, 0-100
	Method       string
	CurrentValue float64
	ExpectedMin  float64
	ExpectedMax  float64
}

// DetectZScore flags the latest value if it strays more than threshold
// standard deviations from the window mean.
func DetectZScore(window []float64, threshold float64) Result {
	if len(window) < 10 {
		return Result{Method: "zscore"}
	}
	mean := stats.Mean(window)
	sd := stats.StdDev(window)
	latest := window[len(window)-1]
	if sd == 0 {
		return Result{Method: "zscore", CurrentValue: latest, ExpectedMin: mean, ExpectedMax: mean}
	}
	z := math.Abs((latest - mean) / sd)
	return Result{
		IsAnomaly:    z > threshold,
		Score:        math.Min((z/threshold)*100, 100),
		Method:       "zscore",
		CurrentValue: latest,
		ExpectedMin:  mean - threshold*sd,
		ExpectedMax:  mean + threshold*sd,
	}
}

// DetectIQR flags the latest value if it falls outside 1.5x the
// interquartile range.
func DetectIQR(window []float64) Result {
	if len(window) < 10 {
		return Result{Method: "iqr"}
	}
	q1 := stats.Percentile(window, 25)
	q3 := stats.Percentile(window, 75)
	iqr := q3 - q1
	lower, upper := q1-1.5*iqr, q3+1.5*iqr
	latest := window[len(window)-1]

	isAnomaly := latest < lower || latest > upper
	var score float64
	if isAnomaly && iqr > 0 {
		if latest < lower {
			score = math.Min(((lower-latest)/iqr)*50, 100)
		} else {
			score = math.Min(((latest-upper)/iqr)*50, 100)
		}
	}
	return Result{IsAnomaly: isAnomaly, Score: score, Method: "iqr", CurrentValue: latest, ExpectedMin: lower, ExpectedMax: upper}
}

// DetectEMA flags the latest value if it deviates from an exponential
// moving average by more than threshold standard deviations of the
// smoothed residual.
func DetectEMA(window []float64, smoothing, threshold float64) Result {
	if len(window) < 5 {
		return Result{Method: "ema"}
	}
	alpha := 2.0 / (smoothing + 1.0)
	ema := window[0]
	for i := 1; i < len(window); i++ {
		ema = alpha*window[i] + (1-alpha)*ema
	}

	var sumSq float64
	tempEMA := window[0]
	for i := 1; i < len(window); i++ {
		tempEMA = alpha*window[i] + (1-alpha)*tempEMA
		d := window[i] - tempEMA
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(len(window)-1))

	latest := window[len(window)-1]
	deviation := math.Abs(latest - ema)
	isAnomaly := sd > 0 && deviation > threshold*sd

	var score float64
	if sd > 0 {
		score = math.Min((deviation/(threshold*sd))*100, 100)
	}
	return Result{IsAnomaly: isAnomaly, Score: score, Method: "ema", CurrentValue: latest, ExpectedMin: ema - threshold*sd, ExpectedMax: ema + threshold*sd}
}

// DetectCombined blends z-score, IQR and EMA verdicts with fixed weights.
func DetectCombined(window []float64) Result {
	z := DetectZScore(window, 3.0)
	iqr := DetectIQR(window)
	ema := DetectEMA(window, 10.0, 2.0)

	combined := z.Score*0.4 + iqr.Score*0.3 + ema.Score*0.3
	return Result{
		IsAnomaly:    combined > 60,
		Score:        combined,
		Method:       "combined",
		CurrentValue: z.CurrentValue,
		ExpectedMin:  math.Min(z.ExpectedMin, iqr.ExpectedMin),
		ExpectedMax:  math.Max(z.ExpectedMax, iqr.ExpectedMax),
	}
}
