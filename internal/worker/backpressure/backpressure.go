// Package backpressure computes the worker's target batch size from
// observed consumer lag, grounded on
// _examples/original_source/vantage-common/vantage_common/backpressure.py's
// piecewise sizing curve (spec.md §4.4).
package backpressure

// Thresholds holds the lag breakpoints and batch sizes of the piecewise
// function. Sizes are non-decreasing as lag increases: a growing backlog
// is drained with larger batches, trading per-item latency for throughput.
type Thresholds struct {
	Min    int
	Target int
	Max    int

	LowLag  int64 // at or below this, use Min
	HighLag int64 // at or above this, use Max
}

// DefaultThresholds mirrors config.WorkerConfig's batch bounds.
func DefaultThresholds(min, target, max int) Thresholds {
	return Thresholds{Min: min, Target: target, Max: max, LowLag: 100, HighLag: 10000}
}

// TargetBatchSize maps observed lag to a batch size. Between the low and
// high lag breakpoints it interpolates linearly from Target to Max; at or
// below LowLag it returns Min to avoid over-batching a nearly idle bus.
func TargetBatchSize(lag int64, t Thresholds) int {
	switch {
	case lag <= t.LowLag:
		return t.Min
	case lag >= t.HighLag:
		return t.Max
	default:
		span := t.HighLag - t.LowLag
		frac := float64(lag-t.LowLag) / float64(span)
		size := float64(t.Target) + frac*float64(t.Max-t.Target)
		return int(size)
	}
}
