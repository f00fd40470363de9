package bus

import (
	"context"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
)

const topicPrefix = "vantage/metrics/"

// MQTTBus implements both Publisher and Consumer over an MQTT broker.
// Per-key ordering rides on MQTT's per-client, per-topic in-order delivery
// at QoS 1 (at-least-once); the topic is keyed on service_name so publishes
// for one service always land in the same topic.
type MQTTBus struct {
	client  mqtt.Client
	log     *zap.Logger
	// pending counts records this instance has not yet finished: publishes
	// awaiting broker ack on the producer side, deliveries awaiting
	// Record.Commit on the consumer side. Lag reports it as a proxy for
	// broker-side queue depth, which paho exposes no API for.
	pending int64
}

// NewMQTTBus connects a client identified by clientID to brokerURL.
func NewMQTTBus(brokerURL, clientID string, log *zap.Logger) (*MQTTBus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoAckDisabled(true).
		SetOrderMatters(true)

	b := &MQTTBus{log: log}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, apperr.New(apperr.KindDependencyRetryable, "bus_connect_timeout", "timed out connecting to message bus")
	}
	if err := token.Error(); err != nil {
		return nil, apperr.New(apperr.KindDependencyRetryable, "bus_connect_failed", err.Error())
	}
	b.client = client
	return b, nil
}

func topicFor(key string) string {
	return topicPrefix + key
}

// Publish sends payload to the topic derived from key at QoS 1.
func (b *MQTTBus) Publish(ctx context.Context, key string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return apperr.New(apperr.KindDependencyRetryable, "bus_disconnected", "message bus not connected")
	}
	atomic.AddInt64(&b.pending, 1)
	token := b.client.Publish(topicFor(key), 1, false, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return apperr.New(apperr.KindCancelled, "bus_publish_cancelled", "publish aborted by caller")
	case <-done:
	}
	atomic.AddInt64(&b.pending, -1)
	if err := token.Error(); err != nil {
		return apperr.New(apperr.KindDependencyRetryable, "bus_publish_failed", err.Error())
	}
	return nil
}

// Flush is a no-op past Publish's own synchronous wait; MQTT QoS 1 publish
// acknowledgement already guarantees broker receipt before Publish returns.
func (b *MQTTBus) Flush(ctx context.Context) error { return nil }

func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

// Subscribe yields a channel of Records. consumerGroup is accepted for the
// Consumer interface but not used; the session keeps the client ID given
// to NewMQTTBus. Manual ack
// (AutoAckDisabled) is used so Record.Commit models an explicit offset
// commit: nothing is considered delivered until the caller commits it.
func (b *MQTTBus) Subscribe(ctx context.Context, consumerGroup string) (<-chan Record, error) {
	out := make(chan Record, 256)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		atomic.AddInt64(&b.pending, 1)
		rec := Record{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			Timestamp: time.Now(),
			ack: func() error {
				msg.Ack()
				atomic.AddInt64(&b.pending, -1)
				return nil
			},
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			atomic.AddInt64(&b.pending, -1)
		}
	}

	token := b.client.Subscribe(topicPrefix+"+", 1, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return nil, apperr.New(apperr.KindDependencyRetryable, "bus_subscribe_timeout", "timed out subscribing to message bus")
	}
	if err := token.Error(); err != nil {
		return nil, apperr.New(apperr.KindDependencyRetryable, "bus_subscribe_failed", err.Error())
	}

	go func() {
		<-ctx.Done()
		b.client.Unsubscribe(topicPrefix + "+")
		close(out)
	}()

	return out, nil
}

// Lag reports the adapter's best estimate of unconsumed records: on a
// consumer instance, records delivered to Subscribe's channel but not yet
// committed; on a producer instance, publishes still awaiting broker ack.
// MQTT exposes no broker-side queue depth to a client, so this in-process
// count is a proxy, documented as a limitation rather than silently
// pretending otherwise.
func (b *MQTTBus) Lag(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&b.pending), nil
}

// IsConnected reports whether the broker connection is currently open, for
// /readyz probes.
func (b *MQTTBus) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

var _ Publisher = (*MQTTBus)(nil)
var _ Consumer = (*MQTTBus)(nil)

func init() {
	mqtt.ERROR = errLogger{}
}

type errLogger struct{}

func (errLogger) Println(v ...any)               {}
func (errLogger) Printf(format string, v ...any) {}
