// Package store wraps the shared Redis instance behind the small surface the
// pricing engine needs: hash reads/writes, commuting counter increments,
// pipelined batches and TTL-bounded named locks.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper over go-redis. All methods take a context; no
// call blocks beyond the context deadline.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client. Used by tests that run
// against an in-process server.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// HGetAll returns all fields of a hash. A missing key yields an empty map,
// not an error.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall %s", key)
	}
	return res, nil
}

// HGetAllBatch reads N hashes in one pipelined round trip. The result slice
// is index-aligned with keys; a missing hash is an empty map.
func (c *Client) HGetAllBatch(ctx context.Context, keys []string) ([]map[string]string, error) {
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "pipelined hgetall")
	}

	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

// HSet writes hash fields.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return errors.Wrapf(err, "hset %s", key)
	}
	return nil
}

// HIncrByFloat atomically increments a numeric hash field. Increments
// commute, so concurrent callers need no lock.
func (c *Client) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	if err := c.rdb.HIncrByFloat(ctx, key, field, delta).Err(); err != nil {
		return errors.Wrapf(err, "hincrbyfloat %s.%s", key, field)
	}
	return nil
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", key)
	}
	return n > 0, nil
}

// ScanKeys collects every key matching the pattern. Used only by the lock
// diagnostics sweep, never on a hot path.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", pattern)
	}
	return keys, nil
}

// TTL returns the remaining lifetime of a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "ttl %s", key)
	}
	return d, nil
}

// Redis exposes the underlying client for primitives the wrapper does not
// cover (lock scripts, pipelined batches).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
