// Package osipc is the OS-level IPC Transport (spec.md §4.2): any number
// of processes on one host, with no broker process and no pattern
// matching (spec.md's Non-goals — this transport's primitives, a rendezvous
// directory of unixgram sockets and named FIFOs, have no glob primitive to
// delegate to). Pub/sub fanout is a directory of per-subscriber unixgram
// sockets; named queues are POSIX FIFOs, whose kernel pipe buffer gives
// Put/Get their bounded, blocking semantics for free.
package osipc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/chris-alexander-pop/eventbus/pkg/config"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
	"github.com/chris-alexander-pop/eventbus/pkg/logger"
)

// Config configures the OS-IPC transport.
type Config struct {
	// Dir is the rendezvous directory: subscriber sockets live under
	// Dir/pubsub/<channel>/, queue FIFOs under Dir/queues/.
	Dir string `env:"EVENTBUS_OSIPC_DIR" env-default:"/tmp/eventbus-ipc"`
}

const maxDatagramSize = 65507 // practical UDP/unixgram payload ceiling

// Transport is the OS-IPC eventbus.Transport.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	deliver eventbus.DeliveryFunc
	sockets map[string]*subscriberSocket // channel -> this process's listener
	queues  map[string]*queueBackend
}

type subscriberSocket struct {
	path string
	conn *net.UnixConn
	done chan struct{}
}

// NewFromEnv loads Config from the environment/.env via pkg/config.Load
// and constructs a transport rooted at the resulting directory.
func NewFromEnv() (*Transport, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// New constructs an unstarted OS-IPC transport rooted at cfg.Dir.
func New(cfg Config) (*Transport, error) {
	if cfg.Dir == "" {
		cfg.Dir = "/tmp/eventbus-ipc"
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "pubsub"), 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "queues"), 0o700); err != nil {
		return nil, err
	}
	return &Transport{
		cfg:     cfg,
		sockets: make(map[string]*subscriberSocket),
		queues:  make(map[string]*queueBackend),
	}, nil
}

func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", " ", "_")
	return r.Replace(name)
}

func (t *Transport) channelDir(channel string) string {
	return filepath.Join(t.cfg.Dir, "pubsub", sanitize(channel))
}

func (t *Transport) Start(ctx context.Context, fn eventbus.DeliveryFunc) error {
	t.mu.Lock()
	t.deliver = fn
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for channel, sock := range t.sockets {
		_ = sock.conn.Close()
		_ = os.Remove(sock.path)
		<-sock.done
		delete(t.sockets, channel)
	}
	for _, q := range t.queues {
		q.close()
	}
	t.deliver = nil
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	dir := t.channelDir(channel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no subscribers, nothing to do
		}
		return err
	}

	for _, entry := range entries {
		sockPath := filepath.Join(dir, entry.Name())
		conn, dialErr := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: sockPath, Net: "unixgram"})
		if dialErr != nil {
			logger.L().Error("eventbus/osipc: dropping delivery to stale subscriber socket", "channel", channel, "socket", sockPath, "error", dialErr)
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			logger.L().Error("eventbus/osipc: publish write failed", "channel", channel, "socket", sockPath, "error", err)
		}
		_ = conn.Close()
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sockets[channel]; ok {
		return nil
	}

	dir := t.channelDir(channel)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	sockPath := filepath.Join(dir, uuid.New().String()+".sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sockPath, Net: "unixgram"})
	if err != nil {
		return err
	}

	sock := &subscriberSocket{path: sockPath, conn: conn, done: make(chan struct{})}
	t.sockets[channel] = sock

	go func() {
		defer close(sock.done)
		buf := make([]byte, maxDatagramSize)
		for {
			n, _, err := conn.ReadFromUnix(buf)
			if err != nil {
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])

			t.mu.Lock()
			fn := t.deliver
			t.mu.Unlock()
			if fn != nil {
				fn(eventbus.Delivery{Channel: channel, Payload: payload})
			}
		}
	}()
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	sock, ok := t.sockets[channel]
	if ok {
		delete(t.sockets, channel)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	_ = sock.conn.Close()
	_ = os.Remove(sock.path)
	<-sock.done
	return nil
}

func (t *Transport) SubscribePattern(ctx context.Context, pattern string) error {
	return eventbus.ErrUnsupported("pattern subscribe on os-ipc transport")
}

func (t *Transport) UnsubscribePattern(ctx context.Context, pattern string) error {
	return eventbus.ErrUnsupported("pattern unsubscribe on os-ipc transport")
}

func (t *Transport) Queue(name string) eventbus.QueueBackend {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.queues[name]
	if ok {
		return q
	}
	path := filepath.Join(t.cfg.Dir, "queues", sanitize(name)+".fifo")
	q, err := newQueueBackend(path, name)
	if err != nil {
		// Queue() has no error return in the Transport interface; surface
		// the failure on first use instead, the same way a lazily-dialed
		// broker connection would.
		return &brokenQueueBackend{name: name, err: err}
	}
	t.queues[name] = q
	return q
}

func (t *Transport) Capabilities() eventbus.Capabilities {
	return eventbus.Capabilities{Patterns: false, Size: false, Distributed: true}
}

func (t *Transport) Healthy(ctx context.Context) bool {
	info, err := os.Stat(t.cfg.Dir)
	return err == nil && info.IsDir()
}

// brokenQueueBackend surfaces a Queue() construction failure (e.g. Mkfifo
// denied by permissions) on every call instead of panicking at Queue time.
type brokenQueueBackend struct {
	name string
	err  error
}

func (b *brokenQueueBackend) Put(ctx context.Context, item []byte) error { return b.err }
func (b *brokenQueueBackend) PutNowait(item []byte) error                { return b.err }
func (b *brokenQueueBackend) Get(ctx context.Context) ([]byte, error)    { return nil, b.err }
func (b *brokenQueueBackend) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return nil, b.err
}
func (b *brokenQueueBackend) GetNowait() ([]byte, error)            { return nil, b.err }
func (b *brokenQueueBackend) Size(ctx context.Context) (int, error) { return 0, b.err }

// queueBackend backs a named queue with a POSIX FIFO. Frames are
// length-prefixed (4-byte big-endian) since a FIFO is a byte stream, not a
// message boundary-preserving socket. Three descriptors are kept open for
// the backend's lifetime: a non-blocking reader (also used as the FIFO's
// "keep-alive" peer, so opening the writer never blocks waiting for a
// reader to show up), a blocking writer (Put — blocks once the kernel
// pipe buffer is full, which is this transport's bounded-queue signal),
// and a non-blocking writer (PutNowait).
type queueBackend struct {
	name string
	rd   *os.File
	wr   *os.File
	wrNB *os.File
}

func newQueueBackend(path, name string) (*queueBackend, error) {
	oldMask := unix.Umask(0)
	err := unix.Mkfifo(path, 0o600)
	unix.Umask(oldMask)
	if err != nil && !errors.Is(err, os.ErrExist) && !errors.Is(err, syscall.EEXIST) {
		return nil, err
	}

	rd, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	wr, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		rd.Close()
		return nil, err
	}
	wrNB, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		rd.Close()
		wr.Close()
		return nil, err
	}

	return &queueBackend{name: name, rd: rd, wr: wr, wrNB: wrNB}, nil
}

func (q *queueBackend) close() {
	_ = q.rd.Close()
	_ = q.wr.Close()
	_ = q.wrNB.Close()
}

func writeFrame(f *os.File, data []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err := f.Write(data)
	return err
}

var errWouldBlock = errors.New("eventbus/osipc: would block")

func readFrameNonblock(f *os.File) ([]byte, error) {
	// The FIFO descriptor is registered with Go's poller, so a read on an
	// empty pipe parks instead of returning EAGAIN; a short read deadline
	// turns "nothing queued" into an immediate errWouldBlock.
	if err := f.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, err
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, errWouldBlock
		}
		return nil, err
	}
	if err := f.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	payload := make([]byte, n)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (q *queueBackend) Put(ctx context.Context, item []byte) error {
	done := make(chan error, 1)
	go func() { done <- writeFrame(q.wr, item) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The write above is left running; it completes once the pipe
		// drains and its result is discarded. A subsequent Put on the
		// same backend is unaffected since each Put uses its own frame.
		return ctx.Err()
	}
}

func (q *queueBackend) PutNowait(item []byte) error {
	// As in readFrameNonblock, a short write deadline makes a full pipe fail
	// fast instead of parking the writer in Go's poller.
	if err := q.wrNB.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return err
	}
	defer q.wrNB.SetWriteDeadline(time.Time{})
	if err := writeFrame(q.wrNB, item); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return eventbus.ErrQueueFull(q.name)
		}
		return err
	}
	return nil
}

func (q *queueBackend) Get(ctx context.Context) ([]byte, error) {
	const pollInterval = 5 * time.Millisecond
	for {
		data, err := readFrameNonblock(q.rd)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, errWouldBlock) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *queueBackend) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := q.Get(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, eventbus.ErrQueueEmpty(q.name)
		}
		return nil, err
	}
	return data, nil
}

func (q *queueBackend) GetNowait() ([]byte, error) {
	data, err := readFrameNonblock(q.rd)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return nil, eventbus.ErrQueueEmpty(q.name)
		}
		return nil, err
	}
	return data, nil
}

func (q *queueBackend) Size(ctx context.Context) (int, error) {
	return 0, eventbus.ErrUnsupported("queue size on os-ipc transport")
}
