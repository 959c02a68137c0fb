// Package cache provides a Redis key/value client that degrades to misses
// when Redis is unreachable.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"docchat/internal/infrastructure/resilient"
	"docchat/pkg/logger"
)

// compressedMarker prefixes values stored zstd-compressed.
var compressedMarker = []byte("\x00zs:")

// Config configures the cache client.
type Config struct {
	Redis resilient.RedisConfig
	// CompressThreshold is the value size in bytes above which values are
	// compressed. Zero means 10KB; negative disables compression.
	CompressThreshold int
	Policy            resilient.RetryPolicy
}

// Client is a Redis-backed cache. Every operation reports failure with a
// falsy result; an outage is logged, never returned.
type Client struct {
	conn      *resilient.Connector[*redis.Client]
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
	log       *logger.Logger
}

// New creates the client without connecting.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	threshold := cfg.CompressThreshold
	if threshold == 0 {
		threshold = 10 * 1024
	}
	return &Client{
		conn:      resilient.NewRedis("redis_cache", cfg.Redis, cfg.Policy, log),
		encoder:   encoder,
		decoder:   decoder,
		threshold: threshold,
		log:       log.WithComponent("cache"),
	}, nil
}

// Init connects eagerly. A failure leaves the client usable in degraded mode.
func (c *Client) Init(ctx context.Context) error { return c.conn.Init(ctx) }

func (c *Client) Name() string                         { return c.conn.Name() }
func (c *Client) State() resilient.State               { return c.conn.State() }
func (c *Client) HealthCheck(ctx context.Context) bool { return c.conn.HealthCheck(ctx) }

// Close releases the connection and the codec.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.decoder.Close()
	return err
}

// Get returns the value for key. A miss and an outage both report false.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	rdb, ok := c.client(ctx, "get")
	if !ok {
		return nil, false
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		c.fail(ctx, "get", key, err)
		return nil, false
	}
	return c.decode(ctx, key, raw)
}

// Set stores value for ttl; zero ttl keeps it until deleted.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	rdb, ok := c.client(ctx, "set")
	if !ok {
		return false
	}
	if err := rdb.Set(ctx, key, c.encode(value), ttl).Err(); err != nil {
		c.fail(ctx, "set", key, err)
		return false
	}
	return true
}

// Delete removes key. It reports whether the command ran, not whether the
// key existed.
func (c *Client) Delete(ctx context.Context, key string) bool {
	rdb, ok := c.client(ctx, "delete")
	if !ok {
		return false
	}
	if err := rdb.Del(ctx, key).Err(); err != nil {
		c.fail(ctx, "delete", key, err)
		return false
	}
	return true
}

// GetDel returns the value for key and removes it atomically.
func (c *Client) GetDel(ctx context.Context, key string) ([]byte, bool) {
	rdb, ok := c.client(ctx, "getdel")
	if !ok {
		return nil, false
	}
	raw, err := rdb.GetDel(ctx, key).Bytes()
	if err != nil {
		c.fail(ctx, "getdel", key, err)
		return nil, false
	}
	return c.decode(ctx, key, raw)
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) bool {
	rdb, ok := c.client(ctx, "exists")
	if !ok {
		return false
	}
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		c.fail(ctx, "exists", key, err)
		return false
	}
	return n > 0
}

func (c *Client) client(ctx context.Context, op string) (*redis.Client, bool) {
	rdb, ok := c.conn.Client(ctx)
	if !ok {
		c.log.WithContext(ctx).Warnw("cache unavailable", "op", op)
	}
	return rdb, ok
}

func (c *Client) fail(ctx context.Context, op, key string, err error) {
	if !resilient.IsConnectionError(err) {
		if !errors.Is(err, redis.Nil) {
			c.log.WithContext(ctx).Warnw("cache command failed", "op", op, "key", key, "error", err)
		}
		return
	}
	c.conn.MarkFailed(err)
	c.log.WithContext(ctx).Warnw("cache connection lost", "op", op, "key", key, "error", err)
}

func (c *Client) encode(value []byte) []byte {
	if c.threshold < 0 || len(value) <= c.threshold {
		return value
	}
	out := make([]byte, 0, len(compressedMarker)+len(value)/2)
	out = append(out, compressedMarker...)
	return c.encoder.EncodeAll(value, out)
}

func (c *Client) decode(ctx context.Context, key string, raw []byte) ([]byte, bool) {
	if !bytes.HasPrefix(raw, compressedMarker) {
		return raw, true
	}
	value, err := c.decoder.DecodeAll(raw[len(compressedMarker):], nil)
	if err != nil {
		c.log.WithContext(ctx).Warnw("corrupt compressed cache value", "key", key, "error", err)
		return nil, false
	}
	return value, true
}
