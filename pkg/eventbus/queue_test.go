package eventbus_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/errors"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/adapters/memory"
	"github.com/chris-alexander-pop/eventbus/pkg/test"
)

type WorkItem struct {
	Task string
	N    int
}

type QueueSuite struct {
	test.Suite
	bus *eventbus.Bus
}

func (s *QueueSuite) SetupTest() {
	s.Suite.SetupTest()
	bus, err := eventbus.NewBus(s.Ctx, memory.New(memory.Config{QueueCapacity: 4}))
	s.Require().NoError(err)
	s.bus = bus
}

func (s *QueueSuite) TearDownTest() {
	s.Require().NoError(s.bus.Close(s.Ctx))
}

func (s *QueueSuite) TestPutGetRoundTrip() {
	q := s.bus.Queue("jobs")

	s.Require().NoError(q.Put(s.Ctx, WorkItem{Task: "resize", N: 3}))

	var got WorkItem
	s.Require().NoError(q.Get(s.Ctx, &got))
	s.Equal("resize", got.Task)
	s.Equal(3, got.N)
}

func (s *QueueSuite) TestGetNowaitOnEmptyQueueFails() {
	q := s.bus.Queue("empty-jobs")

	var got WorkItem
	err := q.GetNowait(&got)
	s.Require().Error(err)
	s.Equal(eventbus.CodeQueueEmpty, errors.GetCode(err))
}

func (s *QueueSuite) TestPutNowaitFailsWhenQueueIsFull() {
	q := s.bus.Queue("bounded-jobs")

	for i := 0; i < 4; i++ {
		s.Require().NoError(q.PutNowait(WorkItem{Task: "fill", N: i}))
	}

	err := q.PutNowait(WorkItem{Task: "overflow", N: 99})
	s.Require().Error(err)
	s.Equal(eventbus.CodeQueueFull, errors.GetCode(err))
}

func (s *QueueSuite) TestGetTimeoutExpiresOnEmptyQueue() {
	q := s.bus.Queue("slow-jobs")

	var got WorkItem
	start := time.Now()
	err := q.GetTimeout(s.Ctx, 50*time.Millisecond, &got)
	elapsed := time.Since(start)

	s.Require().Error(err)
	s.Equal(eventbus.CodeQueueEmpty, errors.GetCode(err))
	s.GreaterOrEqual(elapsed, 50*time.Millisecond)
}

func (s *QueueSuite) TestSizeReflectsPendingItems() {
	q := s.bus.Queue("sized-jobs")

	s.Require().NoError(q.PutNowait(WorkItem{Task: "a"}))
	s.Require().NoError(q.PutNowait(WorkItem{Task: "b"}))

	size, err := q.Size(s.Ctx)
	s.Require().NoError(err)
	s.Equal(2, size)
}

func (s *QueueSuite) TestFIFOOrdering() {
	q := s.bus.Queue("ordered-jobs")

	for i := 0; i < 3; i++ {
		s.Require().NoError(q.PutNowait(WorkItem{Task: "t", N: i}))
	}

	for i := 0; i < 3; i++ {
		var got WorkItem
		s.Require().NoError(q.GetNowait(&got))
		s.Equal(i, got.N)
	}
}

func TestQueueSuite(t *testing.T) {
	test.Run(t, new(QueueSuite))
}
