package eventbus

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/codec"
)

// Queue presents a uniform FIFO API over the active Transport's named-queue
// primitive (spec.md §4.4). Queues are created lazily on first reference.
type Queue struct {
	name    string
	backend QueueBackend
}

// Queue returns the facade for the named queue. The backing object is
// created lazily by the transport and outlives this handle.
func (b *Bus) Queue(name string) *Queue {
	return &Queue{name: name, backend: b.transport.Queue(name)}
}

// Put encodes item and enqueues it, blocking only if the transport is
// bounded and full.
func (q *Queue) Put(ctx context.Context, item any) error {
	payload, err := codec.Encode(item)
	if err != nil {
		return err
	}
	return q.backend.Put(ctx, payload)
}

// PutNowait enqueues item without blocking, failing with QueueFull if
// there is no room.
func (q *Queue) PutNowait(item any) error {
	payload, err := codec.Encode(item)
	if err != nil {
		return err
	}
	return q.backend.PutNowait(payload)
}

// Get blocks until an item is available, then decodes it into target
// (a pointer to the caller's expected type). Queue payloads carry no
// a-priori type (spec.md §4.4); the caller supplies one via target.
func (q *Queue) Get(ctx context.Context, target any) error {
	payload, err := q.backend.Get(ctx)
	if err != nil {
		return err
	}
	return codec.Decode(payload, target)
}

// GetTimeout returns the next item within timeout, or fails with
// QueueEmpty once the deadline elapses. It blocks for at least timeout
// before giving up, per spec.md §8's boundary behavior.
func (q *Queue) GetTimeout(ctx context.Context, timeout time.Duration, target any) error {
	payload, err := q.backend.GetTimeout(ctx, timeout)
	if err != nil {
		return err
	}
	return codec.Decode(payload, target)
}

// GetNowait returns immediately, failing with QueueEmpty if nothing is
// queued.
func (q *Queue) GetNowait(target any) error {
	payload, err := q.backend.GetNowait()
	if err != nil {
		return err
	}
	return codec.Decode(payload, target)
}

// Size returns the queue's current length, or Unsupported for transports
// that cannot answer (spec.md §4.4, §9 open question on approximate
// lengths: this library treats size() as best-effort where the transport
// can answer at all, and refuses outright where it cannot).
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.backend.Size(ctx)
}
