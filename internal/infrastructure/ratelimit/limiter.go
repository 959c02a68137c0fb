// Package ratelimit counts requests per identity and path in fixed windows
// stored in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/resilient"
	"docchat/pkg/logger"
)

// Decision is the outcome of one counted request.
type Decision struct {
	Limited bool
	// Count is the number of requests seen in the window, this one included.
	// It is zero when the limiter could not count.
	Count   int64
	Limit   int
	ResetAt time.Time
}

// Remaining returns how many requests the window still admits.
func (d Decision) Remaining() int {
	if r := int64(d.Limit) - d.Count; r > 0 {
		return int(r)
	}
	return 0
}

// Config configures the limiter.
type Config struct {
	Redis  resilient.RedisConfig
	Policy resilient.RetryPolicy
}

// Limiter is a fixed-window counter. Requests pass whenever Redis is
// unreachable or a command fails.
type Limiter struct {
	conn *resilient.Connector[*redis.Client]
	log  *logger.Logger
	now  func() time.Time
}

// New creates the limiter without connecting.
func New(cfg Config, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	return &Limiter{
		conn: resilient.NewRedis("redis_rate_limit", cfg.Redis, cfg.Policy, log),
		log:  log.WithComponent("ratelimit"),
		now:  time.Now,
	}
}

// Init connects eagerly. A failure leaves the limiter open.
func (l *Limiter) Init(ctx context.Context) error { return l.conn.Init(ctx) }

func (l *Limiter) Name() string                         { return l.conn.Name() }
func (l *Limiter) State() resilient.State               { return l.conn.State() }
func (l *Limiter) HealthCheck(ctx context.Context) bool { return l.conn.HealthCheck(ctx) }
func (l *Limiter) Close() error                         { return l.conn.Close() }

// AnonymousIdentity maps a client address onto the numeric identity space
// used for signed-in users.
func AnonymousIdentity(addr string) int64 {
	return int64(xxhash.Sum64String(addr) % (1 << 31))
}

// WindowStart aligns unix seconds to the start of their window.
func WindowStart(now int64, period int) int64 {
	return now - now%int64(period)
}

// Key returns the counter key for one identity, path and window.
func Key(identity int64, path string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%d:%s:%s", identity, tier.SanitizePath(path), strconv.FormatInt(windowStart, 10))
}

// Hit counts one request against policy. Bursts at a window edge may admit up
// to twice the limit within one period.
func (l *Limiter) Hit(ctx context.Context, identity int64, path string, policy tier.Policy) Decision {
	now := l.now().Unix()
	start := WindowStart(now, policy.Period)
	d := Decision{
		Limit:   policy.Limit,
		ResetAt: time.Unix(start+int64(policy.Period), 0).UTC(),
	}
	log := l.log.WithContext(ctx)

	rdb, ok := l.conn.Client(ctx)
	if !ok {
		log.Warnw("rate limiter unavailable, request allowed", "path", path)
		return d
	}

	key := Key(identity, path, start)
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		l.fail(ctx, key, err)
		return d
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, time.Duration(policy.Period)*time.Second).Err(); err != nil {
			l.fail(ctx, key, err)
		}
	}

	d.Count = count
	d.Limited = count > int64(policy.Limit)
	if d.Limited {
		log.Infow("rate limit exceeded", "identity", identity, "path", path, "limit", policy.Limit, "period", policy.Period)
	}
	return d
}

func (l *Limiter) fail(ctx context.Context, key string, err error) {
	if resilient.IsConnectionError(err) {
		l.conn.MarkFailed(err)
	}
	l.log.WithContext(ctx).Errorw("rate limit check failed, request allowed", "key", key, "error", err)
}
