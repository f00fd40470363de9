// Package alert implements the adaptive alerting engine (spec.md §4.5.5):
// a rolling baseline per (service, metric), z-score severity, and the
// firing/resolved lifecycle with dedup and hysteresis. The baseline and
// expected-range computation is the direct descendant of the teacher's
// DetectZScore (internal/analyzer/anomaly.go); dedup/resolve lifecycle is
// cross-checked against
// _examples/original_source/vantage-worker/worker/alerting.py.
package alert

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/signals/stats"
	"github.com/vantage-observability/vantage/internal/store"
)

// Config holds the evaluator's tunables. The query service takes SigmaK
// from QueryConfig and the rest from DefaultConfig.
type Config struct {
	SigmaK          float64
	SigmaFloorRatio float64 // fallback bound width as a fraction of mu when sigma is too small
	ConsecBreaches  int
	ConsecOK        int
	DedupWindow     time.Duration
}

// DefaultConfig matches spec.md §4.5.5's literal defaults.
var DefaultConfig = Config{
	SigmaK:          3,
	SigmaFloorRatio: 0.20,
	ConsecBreaches:  2,
	ConsecOK:        3,
	DedupWindow:     5 * time.Minute,
}

type trackKey struct {
	service string
	metric  string
}

type trackState struct {
	consecBreach int
	consecOK     int
}

// Evaluator runs one evaluation tick per (service, metric) pair, mutating
// alert state in the store. It is the sole writer of its in-memory
// consecutive-count state, so no locking is needed across ticks for a
// single key; a mutex guards the map itself since multiple keys may be
// evaluated concurrently.
type Evaluator struct {
	cfg   Config
	store store.Adapter

	mu     sync.Mutex
	tracks map[trackKey]*trackState
}

// NewEvaluator constructs an Evaluator backed by adapter for alert
// persistence.
func NewEvaluator(adapter store.Adapter, cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg, store: adapter, tracks: make(map[trackKey]*trackState)}
}

// Bounds is the adaptive expected range derived from a baseline window.
type Bounds struct {
	Mean        float64
	StdDev      float64
	ExpectedMin float64
	ExpectedMax float64
}

// ComputeBounds derives [expected_min, expected_max] from a baseline
// window, falling back to ±SigmaFloorRatio of the mean when sigma is too
// small to be informative (spec.md §4.5.5: "If σ is below a floor...").
func (c Config) ComputeBounds(baseline []float64) Bounds {
	mean := stats.Mean(baseline)
	sd := stats.StdDev(baseline)

	floor := math.Abs(mean) * 0.05 // a sigma below 5% of |mean| is not informative
	if sd < floor {
		width := math.Abs(mean) * c.SigmaFloorRatio
		return Bounds{Mean: mean, StdDev: sd, ExpectedMin: mean - width, ExpectedMax: mean + width}
	}
	return Bounds{Mean: mean, StdDev: sd, ExpectedMin: mean - c.SigmaK*sd, ExpectedMax: mean + c.SigmaK*sd}
}

func severityFor(z float64) model.Severity {
	switch {
	case z >= 5:
		return model.SeverityCritical
	case z >= 4:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// Evaluate runs one tick for (service, metric): baseline establishes the
// adaptive bounds, current is the latest bucketed value to test against
// them. now is passed explicitly so the evaluator is deterministic and
// testable.
func (e *Evaluator) Evaluate(ctx context.Context, service, metric string, baseline []float64, current float64, now time.Time) error {
	bounds := e.cfg.ComputeBounds(baseline)
	breached := current < bounds.ExpectedMin || current > bounds.ExpectedMax

	key := trackKey{service, metric}
	e.mu.Lock()
	st, ok := e.tracks[key]
	if !ok {
		st = &trackState{}
		e.tracks[key] = st
	}
	if breached {
		st.consecBreach++
		st.consecOK = 0
	} else {
		st.consecOK++
		st.consecBreach = 0
	}
	consecBreach, consecOK := st.consecBreach, st.consecOK
	e.mu.Unlock()

	sd := bounds.StdDev
	if sd == 0 {
		sd = math.Abs(bounds.Mean)*e.cfg.SigmaFloorRatio + 1e-9
	}
	z := math.Abs((current - bounds.Mean) / sd)

	existing, err := e.store.FindFiringAlert(ctx, service, metric)
	if err != nil {
		return err
	}

	switch {
	case breached && consecBreach >= e.cfg.ConsecBreaches:
		return e.onBreach(ctx, service, metric, current, bounds, z, existing, now)
	case !breached && consecOK >= e.cfg.ConsecOK && existing != nil:
		return e.onResolve(ctx, existing, now)
	}
	return nil
}

func (e *Evaluator) onBreach(ctx context.Context, service, metric string, current float64, b Bounds, z float64, existing *model.Alert, now time.Time) error {
	severity := severityFor(z)

	if existing != nil && now.Sub(existing.LastTriggered) <= e.cfg.DedupWindow {
		existing.CurrentValue = current
		existing.ExpectedMin = b.ExpectedMin
		existing.ExpectedMax = b.ExpectedMax
		existing.Severity = severity
		existing.ThresholdBreachCount++
		existing.LastTriggered = now
		return e.store.SaveAlert(ctx, *existing)
	}

	a := model.Alert{
		AlertID:              uuid.NewString(),
		ServiceName:          service,
		MetricName:           metric,
		Severity:             severity,
		Status:               model.AlertFiring,
		CurrentValue:         current,
		ExpectedMin:          b.ExpectedMin,
		ExpectedMax:          b.ExpectedMax,
		ThresholdBreachCount: 1,
		FirstTriggered:       now,
		LastTriggered:        now,
	}
	return e.store.SaveAlert(ctx, a)
}

func (e *Evaluator) onResolve(ctx context.Context, existing *model.Alert, now time.Time) error {
	existing.Status = model.AlertResolved
	existing.LastTriggered = now
	existing.ResolvedAt = &now
	return e.store.SaveAlert(ctx, *existing)
}
