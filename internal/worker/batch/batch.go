// Package batch accumulates model.Row values for the stream worker,
// flushing on size, age, or explicit Drain, grounded on
// _examples/namansh70747-AURA-Autonomous-Unified-Reliability-Automation-Platform's
// collector-buffer pattern.
package batch

import (
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

// Accumulator buffers rows until Full or Stale, then the caller drains it.
// Not safe for concurrent use; the worker's consumer loop is its only
// caller.
type Accumulator struct {
	rows      []model.Row
	target    int
	maxAge    time.Duration
	openedAt  time.Time
}

// New builds an Accumulator with the given target size and max age before
// a flush is forced regardless of size.
func New(target int, maxAge time.Duration) *Accumulator {
	return &Accumulator{target: target, maxAge: maxAge}
}

// Add appends a row, opening the batch's age window on the first one.
func (a *Accumulator) Add(row model.Row) {
	if len(a.rows) == 0 {
		a.openedAt = time.Now()
	}
	a.rows = append(a.rows, row)
}

// SetTarget adjusts the flush-on-size threshold, used by the consumer loop
// to apply backpressure.TargetBatchSize on every lag observation.
func (a *Accumulator) SetTarget(target int) {
	a.target = target
}

// Len reports the number of buffered rows.
func (a *Accumulator) Len() int {
	return len(a.rows)
}

// Full reports whether the batch has reached its target size.
func (a *Accumulator) Full() bool {
	return a.target > 0 && len(a.rows) >= a.target
}

// Stale reports whether the batch has been open longer than maxAge without
// reaching its target size.
func (a *Accumulator) Stale(now time.Time) bool {
	return len(a.rows) > 0 && now.Sub(a.openedAt) >= a.maxAge
}

// Drain returns the buffered rows and resets the accumulator.
func (a *Accumulator) Drain() []model.Row {
	rows := a.rows
	a.rows = nil
	return rows
}

// Peek returns the buffered rows without resetting the accumulator, for a
// flush attempt that may need to retry against the same batch if the
// attempt doesn't settle (e.g. the store refuses the insert).
func (a *Accumulator) Peek() []model.Row {
	return a.rows
}
