// Package memory is the in-process Transport (spec.md §4.2, "no network,
// no broker process, bounded queues"). Pub/sub fanout hands each message to
// the dispatcher's callback on a new goroutine; named queues are backed
// by pkg/datastructures/queue/ring, giving Put/Get their blocking,
// bounded-capacity semantics without a background goroutine per queue.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/concurrency"
	"github.com/chris-alexander-pop/eventbus/pkg/config"
	"github.com/chris-alexander-pop/eventbus/pkg/datastructures/queue/ring"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
)

// Config configures the in-memory transport, loaded the way every other
// adapter's Config is (pkg/config.Load[Config]).
type Config struct {
	// QueueCapacity bounds every named queue created by this transport.
	QueueCapacity int `env:"EVENTBUS_MEMORY_QUEUE_CAPACITY" env-default:"256"`
}

// Transport is the in-memory eventbus.Transport. Pattern subscriptions are
// not supported (Capabilities().Patterns == false): a plain Go map has no
// glob primitive to delegate to, and spec.md's Non-goals exclude inventing
// one for a transport whose primitive lacks it.
type Transport struct {
	cfg Config

	mu       sync.RWMutex
	deliver  eventbus.DeliveryFunc
	channels map[string]struct{}
	queues   map[string]*ring.Buffer[[]byte]
}

// NewFromEnv loads Config from the environment/.env via pkg/config.Load
// and constructs an unstarted transport from it.
func NewFromEnv() (*Transport, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// New constructs an unstarted in-memory transport.
func New(cfg Config) *Transport {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	return &Transport{
		cfg:      cfg,
		channels: make(map[string]struct{}),
		queues:   make(map[string]*ring.Buffer[[]byte]),
	}
}

func (t *Transport) Start(ctx context.Context, fn eventbus.DeliveryFunc) error {
	t.mu.Lock()
	t.deliver = fn
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.deliver = nil
	t.channels = make(map[string]struct{})
	t.mu.Unlock()
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.RLock()
	fn := t.deliver
	_, subscribed := t.channels[channel]
	t.mu.RUnlock()

	if fn == nil || !subscribed {
		return nil
	}

	// Deliver off the caller's goroutine, matching every other transport's
	// asynchronous delivery contract and keeping Publish non-blocking even
	// under a slow subscriber inbox.
	concurrency.SafeGo(ctx, func() {
		fn(eventbus.Delivery{Channel: channel, Payload: payload})
	})
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	t.channels[channel] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	delete(t.channels, channel)
	t.mu.Unlock()
	return nil
}

func (t *Transport) SubscribePattern(ctx context.Context, pattern string) error {
	return eventbus.ErrUnsupported("pattern subscribe on memory transport")
}

func (t *Transport) UnsubscribePattern(ctx context.Context, pattern string) error {
	return eventbus.ErrUnsupported("pattern unsubscribe on memory transport")
}

func (t *Transport) Queue(name string) eventbus.QueueBackend {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = ring.New[[]byte](t.cfg.QueueCapacity)
		t.queues[name] = q
	}
	return &queueBackend{name: name, buf: q}
}

func (t *Transport) Capabilities() eventbus.Capabilities {
	return eventbus.Capabilities{Patterns: false, Size: true, Distributed: false}
}

func (t *Transport) Healthy(ctx context.Context) bool { return true }

type queueBackend struct {
	name string
	buf  *ring.Buffer[[]byte]
}

func (q *queueBackend) Put(ctx context.Context, item []byte) error {
	return q.buf.EnqueueContext(ctx, item)
}

func (q *queueBackend) PutNowait(item []byte) error {
	if err := q.buf.TryEnqueue(item); err != nil {
		return eventbus.ErrQueueFull(q.name)
	}
	return nil
}

func (q *queueBackend) Get(ctx context.Context) ([]byte, error) {
	return q.buf.DequeueContext(ctx)
}

func (q *queueBackend) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := q.buf.DequeueTimeout(timeout)
	if err != nil {
		return nil, eventbus.ErrQueueEmpty(q.name)
	}
	return item, nil
}

func (q *queueBackend) GetNowait() ([]byte, error) {
	item, err := q.buf.TryDequeue()
	if err != nil {
		return nil, eventbus.ErrQueueEmpty(q.name)
	}
	return item, nil
}

func (q *queueBackend) Size(ctx context.Context) (int, error) {
	return q.buf.Len(), nil
}
