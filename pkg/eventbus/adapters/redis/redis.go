// Package redis is the shared-broker Transport (spec.md §4.2): any number
// of processes on any number of hosts, coordinated through a Redis
// server's PUBLISH/SUBSCRIBE and list commands. Unlike the in-memory
// transport it supports pattern subscriptions (PSUBSCRIBE) and reports
// Distributed: true.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/eventbus/pkg/config"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus"
)

// Config configures the redis transport, loaded the way every adapter's
// Config is (pkg/config.Load[Config]).
type Config struct {
	Addr     string `env:"EVENTBUS_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"EVENTBUS_REDIS_PASSWORD" env-default:""`
	DB       int    `env:"EVENTBUS_REDIS_DB" env-default:"0"`
	// QueuePrefix namespaces the Redis keys backing named queues, so an
	// eventbus deployment can share a Redis instance with other systems.
	QueuePrefix string `env:"EVENTBUS_REDIS_QUEUE_PREFIX" env-default:"eventbus:queue:"`
}

// Transport is the redis-backed eventbus.Transport.
type Transport struct {
	cfg    Config
	client *redis.Client
	pubsub *redis.PubSub

	mu      sync.Mutex
	deliver eventbus.DeliveryFunc
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFromEnv loads Config from the environment/.env via pkg/config.Load
// and dials a client from it.
func NewFromEnv() (*Transport, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// New dials a Redis client per cfg. The connection is lazy (go-redis
// dials on first command); call Healthy to confirm reachability.
func New(cfg Config) *Transport {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Transport{cfg: cfg, client: client}
}

func (t *Transport) Start(ctx context.Context, fn eventbus.DeliveryFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliver = fn
	t.pubsub = t.client.Subscribe(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.receiveLoop(loopCtx)
	return nil
}

func (t *Transport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	for {
		msg, err := t.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		t.mu.Lock()
		fn := t.deliver
		t.mu.Unlock()
		if fn != nil {
			fn(eventbus.Delivery{Channel: msg.Channel, Pattern: msg.Pattern, Payload: []byte(msg.Payload)})
		}
	}
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	pubsub := t.pubsub
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pubsub != nil {
		_ = pubsub.Close()
	}
	if done != nil {
		<-done
	}
	return t.client.Close()
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *Transport) Subscribe(ctx context.Context, channel string) error {
	return t.pubsub.Subscribe(ctx, channel)
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	return t.pubsub.Unsubscribe(ctx, channel)
}

func (t *Transport) SubscribePattern(ctx context.Context, pattern string) error {
	return t.pubsub.PSubscribe(ctx, pattern)
}

func (t *Transport) UnsubscribePattern(ctx context.Context, pattern string) error {
	return t.pubsub.PUnsubscribe(ctx, pattern)
}

func (t *Transport) Queue(name string) eventbus.QueueBackend {
	return &queueBackend{client: t.client, key: t.cfg.QueuePrefix + name, name: name}
}

func (t *Transport) Capabilities() eventbus.Capabilities {
	return eventbus.Capabilities{Patterns: true, Size: true, Distributed: true}
}

func (t *Transport) Healthy(ctx context.Context) bool {
	return t.client.Ping(ctx).Err() == nil
}

// Client exposes the underlying connection so a caller can build a
// distlock.Locker (pkg/concurrency/distlock/adapters/redis) over the same
// Redis server, for eventbus.WithElection.
func (t *Transport) Client() *redis.Client { return t.client }

type queueBackend struct {
	client *redis.Client
	key    string
	name   string
}

func (q *queueBackend) Put(ctx context.Context, item []byte) error {
	return q.client.LPush(ctx, q.key, item).Err()
}

func (q *queueBackend) PutNowait(item []byte) error {
	return q.client.LPush(context.Background(), q.key, item).Err()
}

func (q *queueBackend) Get(ctx context.Context) ([]byte, error) {
	result, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return nil, err
	}
	return []byte(result[1]), nil
}

func (q *queueBackend) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, eventbus.ErrQueueEmpty(q.name)
		}
		return nil, err
	}
	return []byte(result[1]), nil
}

func (q *queueBackend) GetNowait() ([]byte, error) {
	result, err := q.client.RPop(context.Background(), q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, eventbus.ErrQueueEmpty(q.name)
		}
		return nil, err
	}
	return []byte(result), nil
}

func (q *queueBackend) Size(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}
