// Package preagg implements the ingest gateway's pre-aggregation buffer
// (spec.md §4.3): samples are accumulated in memory keyed by aggregation
// key, then flushed as one record per key on a window or key-count trigger.
// The buffer is sharded by aggregation-key hash so each shard has a single
// writer, per spec.md §5's sharding guidance (no global lock).
package preagg

import (
	"hash/fnv"
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"

	"github.com/vantage-observability/vantage/internal/model"
)

// entry accumulates one aggregation key's running statistics. Percentiles
// are derived from a t-digest sketch rather than a fixed-size reservoir
// array (DESIGN.md records this substitution): constant memory per key,
// streaming, and directly answers p50/p95/p99 at flush time.
type entry struct {
	key        model.AggregationKey
	count      int64
	errorCount int64
	sum        float64
	min        float64
	max        float64
	digest     *tdigest.TDigest
}

type shard struct {
	mu      sync.Mutex
	entries map[model.AggregationKey]*entry
}

// Buffer is the sharded pre-aggregation accumulator.
type Buffer struct {
	shards    []*shard
	maxKeys   int
	window    time.Duration
	onFlush   func([]model.Row)
	rawOut    func(model.Sample)

	stopCh chan struct{}
}

// New builds a Buffer with shardCount independent shards, flushing every
// window or when a shard's key count reaches maxKeys/shardCount.
// onFlush receives the aggregated rows for one flush; rawOut receives
// samples that cannot be keyed (e.g. missing endpoint) to be published
// as-is, per spec.md §4.3.
func New(shardCount int, maxKeys int, window time.Duration, onFlush func([]model.Row), rawOut func(model.Sample)) *Buffer {
	if shardCount < 1 {
		shardCount = 1
	}
	b := &Buffer{
		shards:  make([]*shard, shardCount),
		maxKeys: maxKeys,
		window:  window,
		onFlush: onFlush,
		rawOut:  rawOut,
		stopCh:  make(chan struct{}),
	}
	for i := range b.shards {
		b.shards[i] = &shard{entries: make(map[model.AggregationKey]*entry)}
	}
	return b
}

func (b *Buffer) shardFor(key model.AggregationKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.ServiceName + "|" + key.MetricName + "|" + key.Endpoint + "|" + key.Method))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// Add accumulates s into its aggregation key's entry, or forwards it to
// rawOut if it lacks an endpoint (cannot be meaningfully aggregated).
func (b *Buffer) Add(s model.Sample) {
	if s.Endpoint == "" {
		b.rawOut(s)
		return
	}
	key := model.AggregationKey{
		ServiceName: s.ServiceName,
		MetricName:  s.MetricName,
		Endpoint:    s.Endpoint,
		Method:      s.Method,
		StatusCode:  s.StatusCode,
		BucketStart: model.BucketFloor(s.Timestamp),
	}
	sh := b.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		d, _ := tdigest.New()
		e = &entry{key: key, digest: d, min: s.Value, max: s.Value}
		sh.entries[key] = e
	}
	e.count++
	e.sum += s.Value
	if s.Value < e.min {
		e.min = s.Value
	}
	if s.Value > e.max {
		e.max = s.Value
	}
	if s.StatusCode >= 500 {
		e.errorCount++
	}
	e.digest.Add(s.Value)

	if b.maxKeys > 0 && len(sh.entries) >= b.maxKeys/len(b.shards) {
		b.flushShardLocked(sh)
	}
}

// flushShardLocked drains sh's entries into rows and calls onFlush. Caller
// must hold sh.mu.
func (b *Buffer) flushShardLocked(sh *shard) {
	if len(sh.entries) == 0 {
		return
	}
	rows := make([]model.Row, 0, len(sh.entries))
	for _, e := range sh.entries {
		rows = append(rows, model.Row{
			Timestamp:         e.key.BucketStart,
			ServiceName:       e.key.ServiceName,
			MetricName:        e.key.MetricName,
			MetricType:        model.MetricGauge,
			Value:             e.sum / float64(e.count),
			Endpoint:          e.key.Endpoint,
			Method:            e.key.Method,
			StatusCode:        e.key.StatusCode,
			Aggregated:        true,
			ResolutionMinutes: 1,
			Count:             e.count,
			ErrorCount:        e.errorCount,
			MinValue:          e.min,
			MaxValue:          e.max,
			P50:               e.digest.Quantile(0.5),
			P95:               e.digest.Quantile(0.95),
			P99:               e.digest.Quantile(0.99),
		})
	}
	sh.entries = make(map[model.AggregationKey]*entry)
	b.onFlush(rows)
}

// Run starts the periodic flush ticker; it blocks until Stop is called.
func (b *Buffer) Run() {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flushAll()
		case <-b.stopCh:
			b.flushAll()
			return
		}
	}
}

func (b *Buffer) flushAll() {
	for _, sh := range b.shards {
		sh.mu.Lock()
		b.flushShardLocked(sh)
		sh.mu.Unlock()
	}
}

// Stop flushes remaining entries and terminates Run.
func (b *Buffer) Stop() { close(b.stopCh) }
