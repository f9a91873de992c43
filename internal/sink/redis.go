package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
)

// defaultStreamMaxLen trims streams approximately to this many entries
const defaultStreamMaxLen = 10000

// streamWriter is the subset of *redis.Client the sink uses
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends notifications to a Redis stream for real-time consumers
type RedisStreamSink struct {
	client streamWriter
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream through client
func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

// ConnectRedis parses url, connects and pings the server
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Name returns the sink name
func (s *RedisStreamSink) Name() string {
	return "redis:" + s.stream
}

// Push appends n to the stream. The full record travels as JSON in the
// payload field; the other fields allow filtering without decoding it.
func (s *RedisStreamSink) Push(ctx context.Context, n *notification.ThreatNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":        n.ID,
			"kind":      string(n.Kind),
			"severity":  string(n.Severity),
			"priority":  strconv.Itoa(n.Priority),
			"indicator": n.IndicatorKey,
			"payload":   string(payload),
		},
	}).Err()
}
