package eventbus

import (
	"context"
	"sync/atomic"
)

// rawHandlerSeq hands out HandlerIDs for subscribeRaw, whose callers are
// always closures (reflect.ValueOf(closure).Pointer() would alias every
// closure created from the same call site, defeating dedup) rather than
// user-supplied, individually addressable Handler[T] values.
var rawHandlerSeq uint64

func nextRawHandlerID() HandlerID {
	return HandlerID(atomic.AddUint64(&rawHandlerSeq, 1))
}

// subscribeRaw delivers raw payloads on an exact channel to onMsg, bypassing
// the typed decode path. It backs the RPC layer's invocation and reply
// channels (rpc.go), which are addressed by synthetic names
// ("__rpc__.<address>", "__rpc_reply__.<id>") rather than a declared type.
func (b *Bus) subscribeRaw(ctx context.Context, channel string, onMsg func(payload []byte)) (func() error, error) {
	list := b.exact.GetOrCreate(channel, func() *entryList { return &entryList{} })
	wasEmpty := list.empty()

	entry := &subscriberEntry{
		id:      nextRawHandlerID(),
		typeKey: "raw:" + channel,
		decode:  func(payload []byte) (any, error) { return payload, nil },
		invoke: func(_ context.Context, v any) error {
			onMsg(v.([]byte))
			return nil
		},
		inbox: make(chan decodedDelivery, defaultInboxSize),
		done:  make(chan struct{}),
	}
	list.add(entry)
	runSubscriber(entry)

	if wasEmpty {
		if err := b.transport.Subscribe(ctx, channel); err != nil {
			list.remove(entry.id)
			close(entry.done)
			return nil, err
		}
	}

	cancel := func() error {
		return b.unsubscribe(channel, false, entry.id)
	}
	return cancel, nil
}
