package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/eventbus/pkg/errors"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/memory"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	transport := memory.New(memory.Config{QueueCapacity: 8})

	received := make(chan eventbus.Delivery, 1)
	require.NoError(t, transport.Start(ctx, func(d eventbus.Delivery) { received <- d }))
	defer transport.Stop(ctx)

	require.NoError(t, transport.Subscribe(ctx, "orders"))
	require.NoError(t, transport.Publish(ctx, "orders", []byte("payload")))

	select {
	case d := <-received:
		require.Equal(t, "orders", d.Channel)
		require.Equal(t, []byte("payload"), d.Payload)
	case <-time.After(time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	ctx := context.Background()
	transport := memory.New(memory.Config{})

	require.NoError(t, transport.Start(ctx, func(d eventbus.Delivery) {
		t.Fatal("unexpected delivery with no subscribers")
	}))
	defer transport.Stop(ctx)

	require.NoError(t, transport.Publish(ctx, "nobody-listening", []byte("x")))
}

func TestPatternSubscribeUnsupported(t *testing.T) {
	transport := memory.New(memory.Config{})
	err := transport.SubscribePattern(context.Background(), "orders.*")
	require.Error(t, err)
	require.Equal(t, eventbus.CodeUnsupported, errors.GetCode(err))
}

func TestQueueFIFOAndBounding(t *testing.T) {
	transport := memory.New(memory.Config{QueueCapacity: 2})
	q := transport.Queue("jobs")

	require.NoError(t, q.PutNowait([]byte("a")))
	require.NoError(t, q.PutNowait([]byte("b")))
	err := q.PutNowait([]byte("c"))
	require.Error(t, err)
	require.Equal(t, eventbus.CodeQueueFull, errors.GetCode(err))

	first, err := q.GetNowait()
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first)

	second, err := q.GetNowait()
	require.NoError(t, err)
	require.Equal(t, []byte("b"), second)

	size, err := q.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestCapabilitiesReportSizeButNoPatternsOrDistributed(t *testing.T) {
	transport := memory.New(memory.Config{})
	caps := transport.Capabilities()
	require.False(t, caps.Patterns)
	require.False(t, caps.Distributed)
	require.True(t, caps.Size)
}

func TestNewFromEnvLoadsQueueCapacity(t *testing.T) {
	t.Setenv("EVENTBUS_MEMORY_QUEUE_CAPACITY", "16")

	transport, err := memory.NewFromEnv()
	require.NoError(t, err)
	require.NotNil(t, transport)

	q := transport.Queue("capacity-probe")
	for i := 0; i < 16; i++ {
		require.NoError(t, q.PutNowait([]byte("x")))
	}
	require.Equal(t, eventbus.CodeQueueFull, errors.GetCode(q.PutNowait([]byte("x"))))
}
