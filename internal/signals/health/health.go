// Package health implements the per-service health score (spec.md §4.5.4):
// a weighted composite of error rate, p95 latency and traffic volume.
package health

import (
	"math"

	"github.com/vantage-observability/vantage/internal/signals/stats"
)

// Weights are the operator-tunable composite weights (DESIGN.md Open
// Question 3: kept as spec defaults, exposed via config).
type Weights struct {
	Error   float64
	Latency float64
	Traffic float64
}

// DefaultWeights matches spec.md §4.5.4 exactly.
var DefaultWeights = Weights{Error: 0.5, Latency: 0.3, Traffic: 0.2}

const (
	errRef      = 0.05
	latRefLoMs  = 100
	latRefHiMs  = 1000
	trafficRef  = 10000
)

// Status is the health band a score falls into.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Score is the computed health-score breakdown for one service window.
type Score struct {
	ServiceName     string
	Overall         float64
	ErrorScore      float64
	LatencyScore    float64
	TrafficScore    float64
	ErrorRate       float64
	P95LatencyMs    float64
	RequestCount    int64
	Status          Status
}

// Compute is a pure function of its inputs: requestCount, errorCount and
// p95LatencyMs for the window, under the given weights.
func Compute(serviceName string, requestCount, errorCount int64, p95LatencyMs float64, w Weights) Score {
	reqF := float64(requestCount)
	if reqF < 1 {
		reqF = 1
	}
	errorRate := float64(errorCount) / reqF

	errorScore := 100 * (1 - stats.Clamp(errorRate/errRef, 0, 1))
	latencyScore := 100 * (1 - stats.Clamp((p95LatencyMs-latRefLoMs)/(latRefHiMs-latRefLoMs), 0, 1))
	trafficScore := 100 * stats.Clamp(math.Log10(1+float64(requestCount))/math.Log10(1+trafficRef), 0, 1)

	overall := w.Error*errorScore + w.Latency*latencyScore + w.Traffic*trafficScore
	overall = stats.Clamp(overall, 0, 100)

	return Score{
		ServiceName:  serviceName,
		Overall:      overall,
		ErrorScore:   errorScore,
		LatencyScore: latencyScore,
		TrafficScore: trafficScore,
		ErrorRate:    errorRate,
		P95LatencyMs: p95LatencyMs,
		RequestCount: requestCount,
		Status:       bandFor(overall),
	}
}

func bandFor(overall float64) Status {
	switch {
	case overall >= 80:
		return StatusHealthy
	case overall >= 50:
		return StatusWarning
	default:
		return StatusCritical
	}
}
