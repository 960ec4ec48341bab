package eventbus

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/resilience"
)

// ResilientBusConfig configures the resilient transport wrapper, the same
// shape as the teacher's ResilientBrokerConfig (pkg/messaging/resilient.go).
type ResilientBusConfig struct {
	CircuitBreakerEnabled   bool          `env:"EVENTBUS_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"EVENTBUS_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"EVENTBUS_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"EVENTBUS_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"EVENTBUS_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"EVENTBUS_RETRY_BACKOFF" env-default:"100ms"`
}

// ResilientBus wraps a Transport with circuit breaking and retry around
// its Publish path — the operation a caller blocks on and that a flaky
// broker connection actually fails. Subscribe/Unsubscribe are left
// unwrapped: they run once at startup, not on a caller's hot path.
type ResilientBus struct {
	next     Transport
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewResilientBus wraps next with resilience features per cfg.
func NewResilientBus(next Transport, cfg ResilientBusConfig) *ResilientBus {
	rb := &ResilientBus{next: next}

	if cfg.CircuitBreakerEnabled {
		rb.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "eventbus",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rb.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		}
	}

	return rb
}

func (rb *ResilientBus) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if rb.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return rb.cb.Execute(ctx, cbFn)
		}
	}

	if rb.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, rb.retryCfg, operation)
	}
	return operation(ctx)
}

func (rb *ResilientBus) Start(ctx context.Context, fn DeliveryFunc) error { return rb.next.Start(ctx, fn) }
func (rb *ResilientBus) Stop(ctx context.Context) error                  { return rb.next.Stop(ctx) }

func (rb *ResilientBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return rb.execute(ctx, func(ctx context.Context) error {
		return rb.next.Publish(ctx, channel, payload)
	})
}

func (rb *ResilientBus) Subscribe(ctx context.Context, channel string) error {
	return rb.next.Subscribe(ctx, channel)
}

func (rb *ResilientBus) Unsubscribe(ctx context.Context, channel string) error {
	return rb.next.Unsubscribe(ctx, channel)
}

func (rb *ResilientBus) SubscribePattern(ctx context.Context, pattern string) error {
	return rb.next.SubscribePattern(ctx, pattern)
}

func (rb *ResilientBus) UnsubscribePattern(ctx context.Context, pattern string) error {
	return rb.next.UnsubscribePattern(ctx, pattern)
}

func (rb *ResilientBus) Queue(name string) QueueBackend {
	return &resilientQueue{next: rb.next.Queue(name), bus: rb}
}

func (rb *ResilientBus) Capabilities() Capabilities       { return rb.next.Capabilities() }
func (rb *ResilientBus) Healthy(ctx context.Context) bool { return rb.next.Healthy(ctx) }

type resilientQueue struct {
	next QueueBackend
	bus  *ResilientBus
}

func (q *resilientQueue) Put(ctx context.Context, item []byte) error {
	return q.bus.execute(ctx, func(ctx context.Context) error {
		return q.next.Put(ctx, item)
	})
}

func (q *resilientQueue) PutNowait(item []byte) error { return q.next.PutNowait(item) }
func (q *resilientQueue) Get(ctx context.Context) ([]byte, error) {
	return q.next.Get(ctx)
}
func (q *resilientQueue) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return q.next.GetTimeout(ctx, timeout)
}
func (q *resilientQueue) GetNowait() ([]byte, error)            { return q.next.GetNowait() }
func (q *resilientQueue) Size(ctx context.Context) (int, error) { return q.next.Size(ctx) }
