// Package breaker implements the stream worker's circuit breaker state
// machine (spec.md §4.4), grounded on
// _examples/original_source/vantage-common/vantage_common/circuit_breaker.py's
// transition table, reimplemented as a Go struct guarded by a mutex
// (spec.md §5: single-writer, read by health probes).
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Breaker is the worker's circuit breaker. The consumer loop is its sole
// writer; Snapshot is safe to call concurrently from health probes.
type Breaker struct {
	mu sync.Mutex

	state            State
	failThreshold    int
	successThreshold int
	cooldown         time.Duration

	consecutiveFailures int
	consecutiveSuccesses int
	openedAt            time.Time
}

// New builds a Breaker starting closed.
func New(failThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:            Closed,
		failThreshold:    failThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Snapshot is a point-in-time read of the breaker's state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, ConsecutiveFailures: b.consecutiveFailures, OpenedAt: b.openedAt}
}

// AllowInsert reports whether the worker may attempt a normal insert
// (closed) or a probe insert (half-open, entered once cooldown has elapsed
// from open, then re-admitted on every subsequent call until resolved).
// It never returns true for Open.
func (b *Breaker) AllowInsert(now time.Time) (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			return true, true
		}
		return false, false
	case HalfOpen:
		// Every call while half-open admits another probe; the consumer
		// loop is single-writer and only ever has one insert in flight at a
		// time, so there is no risk of multiple concurrent probes. Each
		// probe's outcome is recorded via RecordSuccess/RecordFailure before
		// the next one is attempted, until successThreshold consecutive
		// successes close the breaker or a single failure reopens it.
		return true, true
	default:
		return false, false
	}
}

// RecordSuccess registers a successful insert. In Closed it resets the
// failure streak; in HalfOpen it counts consecutive successes and closes
// the breaker once successThreshold is reached, so a single success closes
// it only when successThreshold is 1. The breaker never goes
// closed -> half-open directly, always through open first.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure registers a retryable-failed insert. In Closed, N
// consecutive failures trip the breaker to Open; in HalfOpen, any failure
// re-opens it and resets the cooldown clock.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failThreshold {
			b.state = Open
			b.openedAt = now
			b.consecutiveFailures = 0
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.consecutiveSuccesses = 0
	}
}
