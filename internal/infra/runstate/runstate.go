// Package runstate stores the start time of the pipeline processing window.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the start time.
const DefaultKey = "harkness:pipeline:started_at"

// Memory keeps the start time in process. It does not survive restarts.
type Memory struct {
	mu  sync.Mutex
	at  time.Time
	set bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) StartedAt(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at, m.set, nil
}

func (m *Memory) MarkStarted(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at, m.set = at, true
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at, m.set = time.Time{}, false
	return nil
}

// Redis keeps the start time under one key so a restarted process sees the
// window it left behind.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) StartedAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read start time: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// An unreadable value counts as no window.
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (r *Redis) MarkStarted(ctx context.Context, at time.Time) error {
	if err := r.client.Set(ctx, r.key, at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to store start time: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear start time: %w", err)
	}
	return nil
}
