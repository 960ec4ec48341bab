package osipc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/eventbus/pkg/errors"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/osipc"
)

func newTransport(t *testing.T) *osipc.Transport {
	t.Helper()
	transport, err := osipc.New(osipc.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return transport
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	transport := newTransport(t)

	received := make(chan eventbus.Delivery, 1)
	require.NoError(t, transport.Start(ctx, func(d eventbus.Delivery) { received <- d }))
	defer transport.Stop(ctx)

	require.NoError(t, transport.Subscribe(ctx, "orders"))
	require.NoError(t, transport.Publish(ctx, "orders", []byte("payload")))

	select {
	case d := <-received:
		require.Equal(t, "orders", d.Channel)
		require.Equal(t, []byte("payload"), d.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestPatternSubscribeUnsupported(t *testing.T) {
	transport := newTransport(t)
	err := transport.SubscribePattern(context.Background(), "orders.*")
	require.Error(t, err)
	require.Equal(t, eventbus.CodeUnsupported, errors.GetCode(err))
}

func TestQueueSizeUnsupported(t *testing.T) {
	transport := newTransport(t)
	q := transport.Queue("jobs")
	_, err := q.Size(context.Background())
	require.Error(t, err)
	require.Equal(t, eventbus.CodeUnsupported, errors.GetCode(err))
}

func TestQueuePutGetRoundTrip(t *testing.T) {
	transport := newTransport(t)
	q := transport.Queue("jobs")

	require.NoError(t, q.PutNowait([]byte("a")))
	require.NoError(t, q.PutNowait([]byte("b")))

	first, err := q.GetNowait()
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first)

	second, err := q.GetNowait()
	require.NoError(t, err)
	require.Equal(t, []byte("b"), second)
}

func TestQueueGetNowaitOnEmptyQueueFails(t *testing.T) {
	transport := newTransport(t)
	q := transport.Queue("empty")

	_, err := q.GetNowait()
	require.Error(t, err)
	require.Equal(t, eventbus.CodeQueueEmpty, errors.GetCode(err))
}

func TestCapabilitiesReportDistributedNoPatternsNoSize(t *testing.T) {
	transport := newTransport(t)
	caps := transport.Capabilities()
	require.True(t, caps.Distributed)
	require.False(t, caps.Patterns)
	require.False(t, caps.Size)
}

func TestNewFromEnvLoadsDir(t *testing.T) {
	t.Setenv("EVENTBUS_OSIPC_DIR", t.TempDir())

	transport, err := osipc.NewFromEnv()
	require.NoError(t, err)
	require.True(t, transport.Healthy(context.Background()))
}
