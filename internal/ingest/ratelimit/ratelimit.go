// Package ratelimit implements the per-identity token bucket admission
// control (spec.md §4.3), using golang.org/x/time/rate directly rather than
// hand-rolling a bucket — the teacher's own dependency graph already
// carries x/time transitively, and splax-s-peep uses it as a direct
// dependency for the same purpose.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per client identity. Buckets are created
// lazily and never removed; each rate.Limiter then owns its own token math,
// so the map's mutex is only held for the map lookup/insert, not for the
// Allow check itself.
type Limiter struct {
	capacity float64
	refillPerMinute float64

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// New builds a Limiter with the given bucket capacity and refill rate
// (tokens per minute).
func New(capacity float64, refillPerMinute float64) *Limiter {
	return &Limiter{
		capacity:        capacity,
		refillPerMinute: refillPerMinute,
		buckets:         make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucketFor(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[identity]
	if !ok {
		perSecond := rate.Limit(l.refillPerMinute / 60.0)
		b = rate.NewLimiter(perSecond, int(l.capacity))
		l.buckets[identity] = b
	}
	return b
}

// Allow drains exactly one token for identity regardless of batch size
// (spec.md §4.3: "drain is 1 token per accepted request regardless of
// batch size"), checked and drained atomically. It returns whether the
// request is admitted and, if not, how long the caller should wait before
// retrying.
func (l *Limiter) Allow(identity string) (bool, time.Duration) {
	b := l.bucketFor(identity)
	res := b.Reserve()
	if !res.OK() {
		return false, time.Minute
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
