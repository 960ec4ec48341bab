// Package eventbus unifies publish/subscribe, work queues, and RPC behind
// one API over a pluggable Transport (in-memory, a shared broker such as
// Redis, or an OS-level IPC backend). It is the Go counterpart of the
// teacher library's pkg/events (in-process pub/sub) and pkg/messaging
// (distributed broker abstraction), merged into a single facade because
// spec.md's RPC layer needs both pub/sub and queues to exist over the
// same Transport.
package eventbus

import (
	"context"
	"reflect"
	"sync"

	"github.com/chris-alexander-pop/eventbus/pkg/concurrency"
	"github.com/chris-alexander-pop/eventbus/pkg/datastructures/concurrentmap"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/codec"
	"github.com/chris-alexander-pop/eventbus/pkg/logger"
)

const defaultInboxSize = 256

// HandlerID identifies a registered handler for idempotent re-subscribe
// and for Unsubscribe, the way asaskevich/EventBus and similar Go pub/sub
// libraries do it: a function value's entry pointer. Two subscriptions of
// the same func value collapse into one, per spec.md's "(channel, handler
// identity) pair appears at most once" invariant. The entry pointer is
// shared by every closure created from one function literal and by every
// method value of one method, so such handlers also collapse into one
// subscription even when they are distinct values.
type HandlerID uintptr

func handlerID(handler any) HandlerID {
	return HandlerID(reflect.ValueOf(handler).Pointer())
}

type subscriberEntry struct {
	id      HandlerID
	typeKey string
	decode  func([]byte) (any, error)
	invoke  func(ctx context.Context, v any) error
	inbox   chan decodedDelivery
	done    chan struct{}
}

// decodedDelivery carries a value already decoded once (per type, per
// delivery) into each matching subscriber's inbox. Decoding happens in
// onDelivery, shared across every entry that declares the same type for
// the same message, per spec.md §4.3's "each declared type is decoded at
// most once per delivery and reused".
type decodedDelivery struct {
	channel string
	value   any
	err     error
}

type entryList struct {
	mu      sync.Mutex
	entries []*subscriberEntry
}

// add returns false (no-op) if an entry with the same id is already
// present, matching spec.md's idempotent re-subscribe invariant.
func (l *entryList) add(e *subscriberEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entries {
		if existing.id == e.id {
			return false
		}
	}
	l.entries = append(l.entries, e)
	return true
}

func (l *entryList) remove(id HandlerID) *subscriberEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return e
		}
	}
	return nil
}

func (l *entryList) snapshot() []*subscriberEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*subscriberEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *entryList) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

// Bus is the dispatcher + facade described by spec.md §4.3 and §6. It owns
// the subscription registry exclusively; Queue and RPC state live beside
// it in queue.go/rpc.go but share its Transport and codec.
type Bus struct {
	transport Transport
	exact     *concurrentmap.ShardedMap[string, *entryList]
	patterns  *concurrentmap.ShardedMap[string, *entryList]

	rpc *rpcState

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBus wires a Transport into a dispatcher and starts its delivery loop.
// Most callers should use Init/Shutdown (lifecycle.go) instead, which also
// install the process-wide default bus; NewBus is for callers that want an
// explicit, non-global handle (spec.md §9, "Global bus singleton → explicit
// handle").
func NewBus(ctx context.Context, transport Transport) (*Bus, error) {
	b := &Bus{
		transport: transport,
		exact:     concurrentmap.New[string, *entryList](32),
		patterns:  concurrentmap.New[string, *entryList](8),
		closed:    make(chan struct{}),
	}
	b.rpc = newRPCState(b)

	if err := transport.Start(ctx, b.onDelivery); err != nil {
		return nil, err
	}
	return b, nil
}

// Close stops the transport and releases all subscriptions, exposed
// callables, and pending RPC waits. It is idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var stopErr error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.rpc.shutdown()
		closeAllEntries(b.exact)
		closeAllEntries(b.patterns)
		stopErr = b.transport.Stop(ctx)
	})
	return stopErr
}

// closeAllEntries stops every runSubscriber goroutine registered in list by
// closing each entry's done channel, the same signal unsubscribe sends for
// a single entry (bus.go's unsubscribe).
func closeAllEntries(list *concurrentmap.ShardedMap[string, *entryList]) {
	list.Range(func(_ string, l *entryList) bool {
		for _, e := range l.snapshot() {
			close(e.done)
		}
		return true
	})
}

func (b *Bus) onDelivery(d Delivery) {
	var list *concurrentmap.ShardedMap[string, *entryList]
	key := d.Channel
	if d.Pattern != "" {
		list = b.patterns
		key = d.Pattern
	} else {
		list = b.exact
	}

	l, ok := list.Get(key)
	if !ok {
		return
	}

	entries := l.snapshot()
	decoded := make(map[string]decodedDelivery, len(entries))
	for _, entry := range entries {
		dd, ok := decoded[entry.typeKey]
		if !ok {
			v, err := entry.decode(d.Payload)
			dd = decodedDelivery{channel: d.Channel, value: v, err: err}
			decoded[entry.typeKey] = dd
		}

		select {
		case entry.inbox <- dd:
		default:
			logger.L().Error("eventbus: subscriber inbox full, dropping delivery",
				"channel", d.Channel, "pattern", d.Pattern)
		}
	}
}

func runSubscriber(e *subscriberEntry) {
	concurrency.SafeGo(context.Background(), func() {
		for {
			select {
			case <-e.done:
				return
			case dd := <-e.inbox:
				dispatchOne(e, dd)
			}
		}
	})
}

func dispatchOne(e *subscriberEntry, dd decodedDelivery) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("eventbus: handler panicked", "channel", dd.channel, "panic", r)
		}
	}()

	if dd.err != nil {
		logger.L().Error("eventbus: failed to decode delivery", "channel", dd.channel, "error", dd.err)
		return
	}

	if err := e.invoke(context.Background(), dd.value); err != nil {
		logger.L().Error("eventbus: handler returned error", "channel", dd.channel, "error", err)
	}
}

func typeKeyOf[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// T is an interface type; fall back to its static name via reflection
		// on a pointer, which always has a concrete Type.
		t = reflect.TypeOf((*T)(nil)).Elem()
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// ChannelName returns the canonical channel for event type T: the fully
// qualified identifier of T (package path plus type name), per spec.md §3.
func ChannelName[T any]() string {
	return typeKeyOf[T]()
}

// Subscription is the handle returned by Subscribe/SubscribePattern.
// Subscriptions live from registration until Unsubscribe or bus Close.
type Subscription struct {
	bus     *Bus
	channel string
	pattern bool
	id      HandlerID
}

// Unsubscribe stops future deliveries to this handler. In-flight
// deliveries already queued to the handler's inbox may still be processed.
func (s *Subscription) Unsubscribe() error {
	return s.bus.unsubscribe(s.channel, s.pattern, s.id)
}

func (b *Bus) unsubscribe(channel string, pattern bool, id HandlerID) error {
	list := b.exact
	if pattern {
		list = b.patterns
	}
	l, ok := list.Get(channel)
	if !ok {
		return nil
	}
	if e := l.remove(id); e != nil {
		close(e.done)
	}
	if pattern && l.empty() {
		return b.transport.UnsubscribePattern(context.Background(), channel)
	}
	if !pattern && l.empty() {
		return b.transport.Unsubscribe(context.Background(), channel)
	}
	return nil
}

// Handler processes a decoded event of type T.
type Handler[T any] func(ctx context.Context, event T) error

// Subscribe registers handler for T's canonical channel. Re-subscribing
// the exact same handler value is a no-op (spec.md §8's idempotence law).
func Subscribe[T any](ctx context.Context, b *Bus, handler Handler[T]) (*Subscription, error) {
	channel := typeKeyOf[T]()

	list := b.exact.GetOrCreate(channel, func() *entryList { return &entryList{} })
	wasEmpty := list.empty()

	entry := newSubscriberEntry[T](handler)
	added := list.add(entry)
	if !added {
		close(entry.done)
		return &Subscription{bus: b, channel: channel, id: entry.id}, nil
	}
	runSubscriber(entry)

	if wasEmpty {
		if err := b.transport.Subscribe(ctx, channel); err != nil {
			list.remove(entry.id)
			close(entry.done)
			return nil, err
		}
	}

	return &Subscription{bus: b, channel: channel, id: entry.id}, nil
}

// SubscribePattern registers handler for all channels matching pattern
// (glob-style, e.g. "orders.*"). Transports without pattern support
// (spec.md's in-memory and OS-IPC backends) fail this with Unsupported at
// call time, not silently.
func SubscribePattern[T any](ctx context.Context, b *Bus, pattern string, handler Handler[T]) (*Subscription, error) {
	if !b.transport.Capabilities().Patterns {
		return nil, ErrUnsupported("pattern subscribe")
	}

	list := b.patterns.GetOrCreate(pattern, func() *entryList { return &entryList{} })
	wasEmpty := list.empty()

	entry := newSubscriberEntry[T](handler)
	added := list.add(entry)
	if !added {
		close(entry.done)
		return &Subscription{bus: b, channel: pattern, pattern: true, id: entry.id}, nil
	}
	runSubscriber(entry)

	if wasEmpty {
		if err := b.transport.SubscribePattern(ctx, pattern); err != nil {
			list.remove(entry.id)
			close(entry.done)
			return nil, err
		}
	}

	return &Subscription{bus: b, channel: pattern, pattern: true, id: entry.id}, nil
}

func newSubscriberEntry[T any](handler Handler[T]) *subscriberEntry {
	return &subscriberEntry{
		id:      handlerID(handler),
		typeKey: typeKeyOf[T](),
		decode: func(payload []byte) (any, error) {
			var v T
			if err := codec.Decode(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		invoke: func(ctx context.Context, v any) error {
			return handler(ctx, v.(T))
		},
		inbox: make(chan decodedDelivery, defaultInboxSize),
		done:  make(chan struct{}),
	}
}

// Publish encodes event and fans it out to current subscribers of its
// channel (spec.md §6). The channel is T's canonical name.
func Publish[T any](ctx context.Context, b *Bus, event T) error {
	channel := typeKeyOf[T]()
	payload, err := codec.Encode(event)
	if err != nil {
		return err
	}
	return b.transport.Publish(ctx, channel, payload)
}
