// Package publish wraps the bus Publisher with the retry policy spec.md
// §4.3 requires: exponential backoff 100ms -> 200ms -> 400ms -> 800ms,
// capped at 2s, 3 attempts, surfacing 503 on exhaustion.
package publish

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/bus"
)

// Publisher retries bus publishes under the ingest gateway's retry budget.
type Publisher struct {
	bus    bus.Publisher
	budget int
}

// New wraps b with the given retry budget (attempts before giving up).
func New(b bus.Publisher, budget int) *Publisher {
	if budget <= 0 {
		budget = 3
	}
	return &Publisher{bus: b, budget: budget}
}

// Publish retries a bus publish on retryable errors, backing off
// 100ms -> 200ms -> 400ms -> 800ms capped at 2s, up to the retry budget.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithCappedDuration(2*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(p.budget-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pubErr := p.bus.Publish(ctx, key, payload)
		if pubErr == nil {
			return nil
		}
		if appErr, ok := apperr.As(pubErr); ok && appErr.Retryable() {
			return retry.RetryableError(pubErr)
		}
		return pubErr
	})
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	return apperr.New(apperr.KindDependencyRetryable, "publish_retry_exhausted", err.Error())
}
