package activity

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultBuffer    = 256
	DefaultMaxLength = 10000

	writeTimeout = 5 * time.Second
)

// RedisLog appends events to a redis stream from a background goroutine.
// Events that do not fit into the buffer are dropped and counted.
type RedisLog struct {
	client    redis.UniversalClient
	stream    string
	maxLength int64
	logger    *zap.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

func NewRedis(client redis.UniversalClient, stream string, buffer int, log *zap.Logger) *RedisLog {
	r := newRedis(client, stream, buffer, log)
	go r.run()
	return r
}

func newRedis(client redis.UniversalClient, stream string, buffer int, log *zap.Logger) *RedisLog {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLog{
		client:    client,
		stream:    stream,
		maxLength: DefaultMaxLength,
		logger:    log,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

func (r *RedisLog) Record(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
		r.logger.Debug("activity event dropped", zap.String("kind", string(e.Kind)), zap.String("user_id", e.UserID))
	}
}

func (r *RedisLog) Dropped() int64 { return r.dropped.Load() }

func (r *RedisLog) Written() int64 { return r.written.Load() }

// Close stops accepting events and waits for buffered ones to be written.
func (r *RedisLog) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RedisLog) run() {
	defer close(r.done)
	for e := range r.events {
		r.write(e)
	}
}

func (r *RedisLog) write(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("encoding activity event failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLength,
		Approx: true,
		Values: map[string]any{
			"kind":    string(e.Kind),
			"user_id": e.UserID,
			"event":   string(payload),
		},
	}).Err()
	if err != nil {
		r.logger.Warn("writing activity event failed", zap.String("stream", r.stream), zap.Error(err))
		return
	}
	r.written.Add(1)
}
