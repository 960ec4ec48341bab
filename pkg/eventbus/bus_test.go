package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/errors"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/memory"
	"github.com/chris-alexander-pop/eventbus/pkg/test"
)

type OrderPlaced struct {
	OrderID string
	Amount  int
}

type DispatcherSuite struct {
	test.Suite
	bus *eventbus.Bus
}

func (s *DispatcherSuite) SetupTest() {
	s.Suite.SetupTest()
	bus, err := eventbus.NewBus(s.Ctx, memory.New(memory.Config{QueueCapacity: 64}))
	s.Require().NoError(err)
	s.bus = bus
}

func (s *DispatcherSuite) TearDownTest() {
	s.Require().NoError(s.bus.Close(s.Ctx))
}

func (s *DispatcherSuite) TestPublishSubscribeRoundTrip() {
	received := make(chan OrderPlaced, 1)
	_, err := eventbus.Subscribe(s.Ctx, s.bus, eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		received <- event
		return nil
	}))
	s.Require().NoError(err)

	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, OrderPlaced{OrderID: "o-1", Amount: 42}))

	select {
	case event := <-received:
		s.Equal("o-1", event.OrderID)
		s.Equal(42, event.Amount)
	case <-time.After(time.Second):
		s.Fail("handler never received the published event")
	}
}

func (s *DispatcherSuite) TestResubscribeSameHandlerIsIdempotent() {
	var calls int32
	handler := eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		calls++
		return nil
	})

	_, err := eventbus.Subscribe(s.Ctx, s.bus, handler)
	s.Require().NoError(err)
	_, err = eventbus.Subscribe(s.Ctx, s.bus, handler)
	s.Require().NoError(err)

	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, OrderPlaced{OrderID: "o-2"}))
	time.Sleep(50 * time.Millisecond)

	s.LessOrEqual(calls, int32(1))
}

func (s *DispatcherSuite) TestUnsubscribeStopsDelivery() {
	var mu sync.Mutex
	var received int

	sub, err := eventbus.Subscribe(s.Ctx, s.bus, eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}))
	s.Require().NoError(err)
	s.Require().NoError(sub.Unsubscribe())

	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, OrderPlaced{OrderID: "o-3"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal(0, received)
}

func (s *DispatcherSuite) TestPatternSubscribeUnsupportedOnMemoryTransport() {
	_, err := eventbus.SubscribePattern(s.Ctx, s.bus, "orders.*", eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		return nil
	}))
	s.Require().Error(err)
	s.Equal(eventbus.CodeUnsupported, errors.GetCode(err))
}

func (s *DispatcherSuite) TestHandlerPanicDoesNotCrashDispatcher() {
	done := make(chan struct{}, 1)
	_, err := eventbus.Subscribe(s.Ctx, s.bus, eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		defer func() { done <- struct{}{} }()
		panic("boom")
	}))
	s.Require().NoError(err)

	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, OrderPlaced{OrderID: "o-4"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("handler never ran")
	}

	// The dispatcher must still be alive after a handler panic.
	received := make(chan OrderPlaced, 1)
	_, err = eventbus.Subscribe(s.Ctx, s.bus, eventbus.Handler[OrderPlaced](func(ctx context.Context, event OrderPlaced) error {
		received <- event
		return nil
	}))
	s.Require().NoError(err)
	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, OrderPlaced{OrderID: "o-5"}))

	select {
	case <-received:
	case <-time.After(time.Second):
		s.Fail("dispatcher stopped delivering after a handler panic")
	}
}

func TestDispatcherSuite(t *testing.T) {
	test.Run(t, new(DispatcherSuite))
}
