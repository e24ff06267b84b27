package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const DefaultTTL = time.Hour

// Redis keeps the latest snapshot of each live session under session:<id>.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opts), ttl), nil
}

func NewRedisClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Save(ctx context.Context, snap orchestrator.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(snap.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, id string) (orchestrator.Snapshot, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orchestrator.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("store: redis get: %w", err)
	}
	return decode(data)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
