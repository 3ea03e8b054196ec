package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// NewRedisClient connects to the shared cache service and pings it. The same
// client backs the distributed locks, the task queue, and the read-path
// response cache.
func NewRedisClient(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// ResponseCache caches rendered API responses with a fixed lifetime.
type ResponseCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewResponseCache(client *goredis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl}
}

// Get returns the cached body for key, or ok=false on a miss. Cache errors are
// reported so the caller can decide whether to serve without the cache.
func (rc *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores the body for key with the configured lifetime.
func (rc *ResponseCache) Set(ctx context.Context, key string, body []byte) error {
	return rc.client.Set(ctx, key, body, rc.ttl).Err()
}
