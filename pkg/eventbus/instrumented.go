package eventbus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-alexander-pop/eventbus/pkg/logger"
)

// InstrumentedBus wraps a Transport with tracing and structured logging,
// adapted from the teacher's InstrumentedBroker/InstrumentedProducer pair
// (pkg/messaging/instrumented.go) — one span per Publish/Subscribe/
// Unsubscribe/pattern-variant call instead of per producer/consumer.
type InstrumentedBus struct {
	next   Transport
	tracer trace.Tracer
}

// NewInstrumentedBus wraps next with tracing/logging.
func NewInstrumentedBus(next Transport) *InstrumentedBus {
	return &InstrumentedBus{next: next, tracer: otel.Tracer("pkg/eventbus")}
}

func (b *InstrumentedBus) Start(ctx context.Context, fn DeliveryFunc) error {
	logger.L().InfoContext(ctx, "eventbus: starting transport")
	return b.next.Start(ctx, fn)
}

func (b *InstrumentedBus) Stop(ctx context.Context) error {
	logger.L().InfoContext(ctx, "eventbus: stopping transport")
	return b.next.Stop(ctx)
}

func (b *InstrumentedBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.Publish", trace.WithAttributes(
		attribute.String("eventbus.channel", channel),
		attribute.Int("eventbus.payload_size", len(payload)),
	))
	defer span.End()

	err := b.next.Publish(ctx, channel, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "eventbus: publish failed", "channel", channel, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "published")
	return nil
}

func (b *InstrumentedBus) Subscribe(ctx context.Context, channel string) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.Subscribe", trace.WithAttributes(attribute.String("eventbus.channel", channel)))
	defer span.End()

	err := b.next.Subscribe(ctx, channel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "eventbus: subscribe failed", "channel", channel, "error", err)
	}
	return err
}

func (b *InstrumentedBus) Unsubscribe(ctx context.Context, channel string) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.Unsubscribe", trace.WithAttributes(attribute.String("eventbus.channel", channel)))
	defer span.End()

	err := b.next.Unsubscribe(ctx, channel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (b *InstrumentedBus) SubscribePattern(ctx context.Context, pattern string) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.SubscribePattern", trace.WithAttributes(attribute.String("eventbus.pattern", pattern)))
	defer span.End()

	err := b.next.SubscribePattern(ctx, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "eventbus: pattern subscribe failed", "pattern", pattern, "error", err)
	}
	return err
}

func (b *InstrumentedBus) UnsubscribePattern(ctx context.Context, pattern string) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.UnsubscribePattern", trace.WithAttributes(attribute.String("eventbus.pattern", pattern)))
	defer span.End()

	err := b.next.UnsubscribePattern(ctx, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (b *InstrumentedBus) Queue(name string) QueueBackend {
	return &instrumentedQueue{name: name, next: b.next.Queue(name), tracer: b.tracer}
}

func (b *InstrumentedBus) Capabilities() Capabilities       { return b.next.Capabilities() }
func (b *InstrumentedBus) Healthy(ctx context.Context) bool { return b.next.Healthy(ctx) }

type instrumentedQueue struct {
	name   string
	next   QueueBackend
	tracer trace.Tracer
}

func (q *instrumentedQueue) Put(ctx context.Context, item []byte) error {
	ctx, span := q.tracer.Start(ctx, "eventbus.Queue.Put", trace.WithAttributes(attribute.String("eventbus.queue", q.name)))
	defer span.End()
	err := q.next.Put(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "eventbus: queue put failed", "queue", q.name, "error", err)
	}
	return err
}

func (q *instrumentedQueue) PutNowait(item []byte) error { return q.next.PutNowait(item) }

func (q *instrumentedQueue) Get(ctx context.Context) ([]byte, error) {
	ctx, span := q.tracer.Start(ctx, "eventbus.Queue.Get", trace.WithAttributes(attribute.String("eventbus.queue", q.name)))
	defer span.End()
	item, err := q.next.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return item, err
}

func (q *instrumentedQueue) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return q.next.GetTimeout(ctx, timeout)
}

func (q *instrumentedQueue) GetNowait() ([]byte, error)            { return q.next.GetNowait() }
func (q *instrumentedQueue) Size(ctx context.Context) (int, error) { return q.next.Size(ctx) }
