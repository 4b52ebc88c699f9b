package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duo-chat/backend/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// Client adapts a go-redis client to cache.Store
type Client struct {
	client *redis.Client
	prefix string
}

var _ cache.Store = (*Client)(nil)

// NewClient connects to url, which may be a redis:// URL or a bare host:port
func NewClient(url string, db int, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	if db != 0 {
		opts.DB = db
	}
	return &Client{client: redis.NewClient(opts), prefix: prefix}, nil
}

// Ping checks connectivity
func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Client) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool
func (r *Client) Close() error {
	return r.client.Close()
}
