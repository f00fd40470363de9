// Package deadletter accounts for rows the store rejected with a fatal,
// non-retryable error (SPEC_FULL.md §3's
// dead-letter accounting supplement — spec.md has no secondary store, so
// these rows are held in memory and counted, not durably persisted).
package deadletter

import (
	"sync"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

// Entry is a dead-lettered row plus why it landed here.
type Entry struct {
	Row      model.Row
	Reason   string
	DroppedAt time.Time
}

// Buffer is a fixed-capacity ring buffer of the most recent dead-lettered
// rows, alongside a monotonic total count that survives eviction.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	total    int64
}

// New builds a Buffer holding at most capacity recent entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &Buffer{capacity: capacity}
}

// Add records a dropped row, evicting the oldest entry if at capacity.
func (b *Buffer) Add(row model.Row, reason string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.entries = append(b.entries, Entry{Row: row, Reason: reason, DroppedAt: now})
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
}

// Total returns the all-time count of dead-lettered rows.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Recent returns a snapshot of the currently buffered entries, oldest
// first.
func (b *Buffer) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
