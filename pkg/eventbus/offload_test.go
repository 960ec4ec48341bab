package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/memory"
	"github.com/chris-alexander-pop/eventbus/pkg/test"
)

type SlowJobStarted struct {
	JobID string
}

type OffloadSuite struct {
	test.Suite
	bus *eventbus.Bus
}

func (s *OffloadSuite) SetupTest() {
	s.Suite.SetupTest()
	bus, err := eventbus.NewBus(s.Ctx, memory.New(memory.Config{QueueCapacity: 64}))
	s.Require().NoError(err)
	s.bus = bus
}

func (s *OffloadSuite) TearDownTest() {
	s.Require().NoError(s.bus.Close(s.Ctx))
}

func (s *OffloadSuite) TestOffloadedHandlerRunsOnPool() {
	pool := eventbus.NewHandlerPool(s.Ctx, 2, 8)
	defer pool.Close()

	done := make(chan struct{}, 1)
	handler := eventbus.Offload(pool, eventbus.Handler[SlowJobStarted](func(ctx context.Context, event SlowJobStarted) error {
		time.Sleep(10 * time.Millisecond)
		done <- struct{}{}
		return nil
	}))

	_, err := eventbus.Subscribe(s.Ctx, s.bus, handler)
	s.Require().NoError(err)

	s.Require().NoError(eventbus.Publish(s.Ctx, s.bus, SlowJobStarted{JobID: "j-1"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("offloaded handler never ran")
	}
}

func TestOffloadSuite(t *testing.T) {
	test.Run(t, new(OffloadSuite))
}
