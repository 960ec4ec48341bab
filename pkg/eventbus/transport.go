package eventbus

import (
	"context"
	"time"
)

// Delivery is a single inbound message handed from a Transport back into
// the dispatcher. Pattern is empty when the message arrived via an exact
// channel subscription; it is set to the matched pattern when it arrived
// via a pattern subscription. A transport that supports both kinds of
// subscription on the same channel delivers two independent Deliveries —
// spec.md's "a handler subscribed both exactly and by pattern is invoked
// twice, by design".
type Delivery struct {
	Channel string
	Pattern string
	Payload []byte
}

// DeliveryFunc is the asynchronous callback a Transport invokes once per
// received message. Implementations must be safe to call concurrently
// from the transport's background worker(s).
type DeliveryFunc func(Delivery)

// Capabilities lets a Transport self-report what it can honor, so the
// dispatcher can fail fast with Unsupported instead of silently degrading.
type Capabilities struct {
	// Patterns is true if SubscribePattern/UnsubscribePattern are implemented.
	Patterns bool
	// Size is true if QueueBackend.Size can answer precisely or approximately.
	Size bool
	// Distributed is true if the transport is visible across processes/hosts.
	Distributed bool
}

// QueueBackend is the named-queue primitive a Transport exposes. The
// eventbus Queue facade (queue.go) wraps this with the FIFO contract from
// spec.md §4.4.
type QueueBackend interface {
	Put(ctx context.Context, item []byte) error
	PutNowait(item []byte) error
	Get(ctx context.Context) ([]byte, error)
	GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error)
	GetNowait() ([]byte, error)
	// Size returns the current length, or an Unsupported error (see
	// errors.go) for transports that cannot answer.
	Size(ctx context.Context) (int, error)
}

// Transport is the minimal capability surface the dispatcher requires
// from any backend (spec.md §4.2). It plays the role pkg/messaging's
// Broker/Producer/Consumer trio played for topic-based brokers, collapsed
// into one interface because here there is exactly one kind of producer
// (publish) and one kind of consumer (the delivery callback) per bus.
type Transport interface {
	// Start begins the background delivery loop. fn is invoked for every
	// message arriving on a subscribed channel or pattern.
	Start(ctx context.Context, fn DeliveryFunc) error
	// Stop ends the delivery loop and releases transport resources.
	Stop(ctx context.Context) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	SubscribePattern(ctx context.Context, pattern string) error
	UnsubscribePattern(ctx context.Context, pattern string) error

	// Queue returns the named-queue backend for name. Queues are created
	// lazily on first reference, per spec.md §3.
	Queue(name string) QueueBackend

	Capabilities() Capabilities
	Healthy(ctx context.Context) bool
}
