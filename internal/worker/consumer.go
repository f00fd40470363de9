// Package worker implements C4, the stream worker: it consumes batches off
// the message bus, applies backpressure-aware batching, inserts through a
// circuit breaker, and drives periodic rollups and retention. Loop shape
// follows the teacher's long-running background-task pattern (ticker +
// select on done channel) adapted to a bus-consumer main loop.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/bus"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
	"github.com/vantage-observability/vantage/internal/worker/backpressure"
	"github.com/vantage-observability/vantage/internal/worker/batch"
	"github.com/vantage-observability/vantage/internal/worker/breaker"
	"github.com/vantage-observability/vantage/internal/worker/deadletter"
	"github.com/vantage-observability/vantage/internal/worker/rollup"
)

// Consumer drives C4's main loop: read off the bus, batch, insert through
// the breaker, hold a batch the breaker or a retryable store error refuses,
// dead-letter what the store rejects as fatal, and commit bus offsets only
// once a row's fate is settled.
type Consumer struct {
	cfg        *config.WorkerConfig
	log        *zap.Logger
	bus        bus.Consumer
	store      store.Adapter
	breaker    *breaker.Breaker
	deadLetter *deadletter.Buffer
	rollupTask *rollup.Task
	metrics    *selfMetrics
	registry   *prometheus.Registry

	thresholds backpressure.Thresholds
}

// New builds a Consumer wired to its dependencies. Each Consumer owns its
// own metrics registry so that multiple instances (e.g. in tests) never
// collide on a shared default registerer.
func New(cfg *config.WorkerConfig, log *zap.Logger, b bus.Consumer, s store.Adapter) *Consumer {
	reg := prometheus.NewRegistry()
	rollupTask := rollup.New(s, log, cfg.RollupInterval, rollup.Retention{
		RawDays:    cfg.RetentionRawDays,
		HourlyDays: cfg.RetentionHourlyDays,
		DailyDays:  cfg.RetentionDailyDays,
	})
	return &Consumer{
		cfg:        cfg,
		log:        log,
		bus:        b,
		store:      s,
		breaker:    breaker.New(cfg.BreakerFailThreshold, cfg.BreakerSuccessThreshold, cfg.BreakerCooldown),
		deadLetter: deadletter.New(cfg.DeadLetterCapacity),
		rollupTask: rollupTask,
		metrics:    newSelfMetrics(reg),
		registry:   reg,
		thresholds: backpressure.DefaultThresholds(cfg.BatchMin, cfg.TargetBatchSize, cfg.BatchMax),
	}
}

// Registry returns the consumer's metrics registry, for exposing /metrics.
func (c *Consumer) Registry() *prometheus.Registry { return c.registry }

// Run subscribes to the bus and processes records until ctx is cancelled.
// It blocks; callers run it in a goroutine and cancel ctx to stop.
func (c *Consumer) Run(ctx context.Context) error {
	go c.rollupTask.Run(ctx)
	defer c.rollupTask.Stop()

	records, err := c.bus.Subscribe(ctx, c.cfg.ConsumerGroup)
	if err != nil {
		return err
	}

	acc := batch.New(c.cfg.TargetBatchSize, c.cfg.MaxFlushInterval)
	pending := make([]bus.Record, 0, c.cfg.TargetBatchSize)

	ticker := time.NewTicker(c.cfg.MaxFlushInterval)
	defer ticker.Stop()

	// paused is set once the breaker refuses an insert or every retry hit a
	// retryable dependency error. While paused, the loop stops reading off
	// records so the bus retains them for redelivery (spec.md §4.4: an open
	// breaker must pause consumption, not drop or commit), and only retries
	// the held batch on the next tick.
	paused := false
	for {
		readCh := records
		if paused {
			readCh = nil
		}

		select {
		case <-ctx.Done():
			if !paused {
				c.flush(context.Background(), acc, pending)
			}
			return nil

		case rec, ok := <-readCh:
			if !ok {
				if !paused {
					c.flush(context.Background(), acc, pending)
				}
				return nil
			}
			row, err := decodeRecord(rec)
			if err != nil {
				c.log.Warn("discarding malformed record", zap.Error(err))
				_ = rec.Commit(ctx)
				continue
			}
			acc.Add(row)
			pending = append(pending, rec)

			if lag, err := c.bus.Lag(ctx); err == nil {
				c.metrics.consumerLag.Set(float64(lag))
				acc.SetTarget(backpressure.TargetBatchSize(lag, c.thresholds))
			}

			if acc.Full() {
				if settled := c.flush(ctx, acc, pending); settled {
					pending = pending[:0]
				} else {
					paused = true
				}
			}

		case <-ticker.C:
			if paused {
				if settled := c.flush(ctx, acc, pending); settled {
					pending = pending[:0]
					paused = false
				}
				continue
			}
			if acc.Stale(time.Now()) {
				if settled := c.flush(ctx, acc, pending); settled {
					pending = pending[:0]
				} else {
					paused = true
				}
			}
		}
	}
}

func decodeRecord(rec bus.Record) (model.Row, error) {
	var row model.Row
	if err := json.Unmarshal(rec.Payload, &row); err != nil {
		return model.Row{}, apperr.New(apperr.KindValidation, "malformed_record", err.Error())
	}
	return row, nil
}

// flush attempts to insert the accumulated rows, gated by the breaker. It
// returns true once the batch's fate is settled — inserted, or
// dead-lettered because the store rejected it as fatally malformed — at
// which point the accumulator has been drained and the caller resets
// pending. It returns false when the breaker denies the insert outright,
// or every retry attempt hit a retryable dependency error: the accumulator
// is left untouched and pending is not committed, so the bus retains the
// batch for redelivery (spec.md §4.4: an open breaker must pause
// consumption, not drop records or commit their offsets).
func (c *Consumer) flush(ctx context.Context, acc *batch.Accumulator, pending []bus.Record) bool {
	rows := acc.Peek()
	if len(rows) == 0 {
		return true
	}
	c.metrics.breakerState.Set(breakerStateValue(string(c.breaker.Snapshot().State)))

	now := time.Now()
	allowed, _ := c.breaker.AllowInsert(now)
	if !allowed {
		return false
	}

	err := c.insertWithRetry(ctx, rows)
	if err == nil {
		acc.Drain()
		c.breaker.RecordSuccess()
		c.metrics.batchesFlushed.Inc()
		c.metrics.rowsInserted.WithLabelValues("inserted").Add(float64(len(rows)))
		c.commitAll(ctx, pending)
		return true
	}

	// A fatal error (e.g. a schema violation) can never succeed on retry;
	// drop it to the dead-letter sink without touching the breaker, per
	// spec.md §4.4 ("a fatal failure ... does not trip the breaker").
	// Anything else — a retryable dependency error that exhausted its
	// retries, or an unclassified error — counts toward the breaker's
	// failure streak and leaves the batch in place to retry.
	if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindDependencyFatal {
		acc.Drain()
		c.metrics.rowsInserted.WithLabelValues("failed").Add(float64(len(rows)))
		c.deadLetterAll(rows, err.Error())
		c.commitAll(ctx, pending)
		return true
	}

	c.breaker.RecordFailure(now)
	return false
}

// insertWithRetry makes up to InsertRetryAttempts insert attempts in total,
// retrying on retryable errors with exponential backoff that starts at 2s,
// doubles and is capped at 8s; with the default of 3 attempts the waits are
// 2s and 4s, so the 8s step is not reached. A fatal error short-circuits
// immediately without retrying.
func (c *Consumer) insertWithRetry(ctx context.Context, rows []model.Row) error {
	start := time.Now()
	defer func() { c.metrics.insertLatency.Observe(time.Since(start).Seconds()) }()

	backoff := retry.NewExponential(2 * time.Second)
	backoff = retry.WithCappedDuration(8*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.InsertRetryAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		insertErr := c.store.InsertRows(ctx, rows)
		if insertErr == nil {
			return nil
		}
		if appErr, ok := apperr.As(insertErr); ok && appErr.Retryable() {
			return retry.RetryableError(insertErr)
		}
		return insertErr
	})
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	return apperr.New(apperr.KindDependencyRetryable, "insert_retry_exhausted", err.Error())
}

func (c *Consumer) deadLetterAll(rows []model.Row, reason string) {
	now := time.Now()
	for _, row := range rows {
		c.deadLetter.Add(row, reason, now)
	}
	c.metrics.deadLettered.Add(float64(len(rows)))
	if len(rows) > 0 {
		c.log.Warn("dead-lettered batch", zap.Int("rows", len(rows)), zap.String("reason", reason))
	}
}

func (c *Consumer) commitAll(ctx context.Context, pending []bus.Record) {
	for _, rec := range pending {
		if err := rec.Commit(ctx); err != nil {
			c.log.Error("failed to commit record", zap.Error(err))
		}
	}
}

// DeadLetterTotal exposes the worker's dead-letter count for health probes.
func (c *Consumer) DeadLetterTotal() int64 {
	return c.deadLetter.Total()
}

// RecentDeadLetters exposes the worker's dead-letter ring buffer for the
// /internal/deadletters debug endpoint.
func (c *Consumer) RecentDeadLetters() []deadletter.Entry {
	return c.deadLetter.Recent()
}

// BreakerSnapshot exposes the breaker's state for health probes.
func (c *Consumer) BreakerSnapshot() breaker.Snapshot {
	return c.breaker.Snapshot()
}
