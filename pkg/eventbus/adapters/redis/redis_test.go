package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	redisTransport "github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/redis"
)

func newMiniredisTransport(t *testing.T) (*redisTransport.Transport, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	transport := redisTransport.New(redisTransport.Config{Addr: server.Addr(), QueuePrefix: "eventbus:test:"})
	return transport, server
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	transport, _ := newMiniredisTransport(t)

	received := make(chan eventbus.Delivery, 1)
	require.NoError(t, transport.Start(ctx, func(d eventbus.Delivery) { received <- d }))
	defer transport.Stop(ctx)

	require.NoError(t, transport.Subscribe(ctx, "orders"))
	time.Sleep(50 * time.Millisecond) // let the SUBSCRIBE register before publishing

	require.NoError(t, transport.Publish(ctx, "orders", []byte("payload")))

	select {
	case d := <-received:
		require.Equal(t, "orders", d.Channel)
		require.Equal(t, []byte("payload"), d.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestPatternSubscribeMatchesWildcard(t *testing.T) {
	ctx := context.Background()
	transport, _ := newMiniredisTransport(t)

	received := make(chan eventbus.Delivery, 1)
	require.NoError(t, transport.Start(ctx, func(d eventbus.Delivery) { received <- d }))
	defer transport.Stop(ctx)

	require.NoError(t, transport.SubscribePattern(ctx, "orders.*"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, transport.Publish(ctx, "orders.created", []byte("payload")))

	select {
	case d := <-received:
		require.Equal(t, "orders.created", d.Channel)
		require.Equal(t, "orders.*", d.Pattern)
	case <-time.After(2 * time.Second):
		t.Fatal("pattern delivery never arrived")
	}
}

func TestQueueFIFOOverLPushBRPop(t *testing.T) {
	ctx := context.Background()
	transport, _ := newMiniredisTransport(t)
	q := transport.Queue("jobs")

	require.NoError(t, q.PutNowait([]byte("a")))
	require.NoError(t, q.PutNowait([]byte("b")))

	first, err := q.GetTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first)

	second, err := q.GetTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), second)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestCapabilitiesReportPatternsAndDistributed(t *testing.T) {
	transport, _ := newMiniredisTransport(t)
	caps := transport.Capabilities()
	require.True(t, caps.Patterns)
	require.True(t, caps.Distributed)
	require.True(t, caps.Size)
}

// TestMultiResponderRPCAcrossBuses exercises spec.md §8 scenario 4: several
// independent processes (here, independent Bus instances over one shared
// miniredis server) each expose the same address; a multi-mode RPC call
// collects one response per responder.
func TestMultiResponderRPCAcrossBuses(t *testing.T) {
	ctx := context.Background()
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	const responderCount = 3
	buses := make([]*eventbus.Bus, responderCount)
	for i := 0; i < responderCount; i++ {
		transport := redisTransport.New(redisTransport.Config{Addr: server.Addr(), QueuePrefix: "eventbus:test:"})
		bus, err := eventbus.NewBus(ctx, transport)
		require.NoError(t, err)
		defer func(b *eventbus.Bus) { _ = b.Close(ctx) }(bus)
		buses[i] = bus

		echo := func(ctx context.Context, s string) (string, error) {
			return s + "-echoed", nil
		}
		_, err = eventbus.Expose(ctx, bus, echo, "echo")
		require.NoError(t, err)
	}

	caller, err := eventbus.NewBus(ctx, redisTransport.New(redisTransport.Config{Addr: server.Addr(), QueuePrefix: "eventbus:test:"}))
	require.NoError(t, err)
	defer func() { _ = caller.Close(ctx) }()

	responses, err := eventbus.RpcMulti[string](ctx, caller, "echo", 500*time.Millisecond, "x")
	require.NoError(t, err)
	require.Len(t, responses, responderCount)

	seen := make(map[string]bool, responderCount)
	for _, resp := range responses {
		require.Empty(t, resp.Error)
		require.Equal(t, "x-echoed", resp.Result)
		require.False(t, seen[resp.Responder], "expected distinct responder ids")
		seen[resp.Responder] = true
	}
}
