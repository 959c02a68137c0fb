package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"docchat/pkg/logger"
)

// RedisConfig addresses one Redis database.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout bounds each connection attempt; zero means 5s.
	DialTimeout time.Duration
}

// NewRedis returns a connector for a go-redis client. The client is created
// lazily and verified with PING before it is handed out.
func NewRedis(name string, cfg RedisConfig, policy RetryPolicy, log *logger.Logger) *Connector[*redis.Client] {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewConnector(Options[*redis.Client]{
		Name: name,
		Dial: func(context.Context) (*redis.Client, error) {
			return redis.NewClient(&redis.Options{
				Addr:         cfg.Addr,
				Password:     cfg.Password,
				DB:           cfg.DB,
				DialTimeout:  timeout,
				MaxRetries:   -1,
				ReadTimeout:  timeout,
				WriteTimeout: timeout,
			}), nil
		},
		Ping: func(ctx context.Context, c *redis.Client) error {
			return c.Ping(ctx).Err()
		},
		Close:  func(c *redis.Client) error { return c.Close() },
		Policy: policy,
		Logger: log,
	})
}

// IsConnectionError reports whether a Redis command failed because the
// server could not be reached, as opposed to a miss or a server-side reply
// error.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}
