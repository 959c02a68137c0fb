package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/resilient"
)

func newTestLimiter(t *testing.T, at time.Time) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	l := New(Config{
		Redis:  resilient.RedisConfig{Addr: mr.Addr(), DialTimeout: time.Second},
		Policy: resilient.RetryPolicy{MaxAttempts: 1, Cooldown: time.Hour},
	}, nil)
	now := at
	l.now = func() time.Time { return now }
	t.Cleanup(func() { _ = l.Close() })
	return l, mr, &now
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, int64(3600), WindowStart(3600, 3600))
	assert.Equal(t, int64(3600), WindowStart(7199, 3600))
	assert.Equal(t, int64(120), WindowStart(179, 60))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ratelimit:7:api_v1_me:3600", Key(7, "/api/v1/me/", 3600))
}

func TestAnonymousIdentity(t *testing.T) {
	a := AnonymousIdentity("203.0.113.9")
	assert.Equal(t, a, AnonymousIdentity("203.0.113.9"))
	assert.NotEqual(t, a, AnonymousIdentity("203.0.113.10"))
	assert.GreaterOrEqual(t, a, int64(0))
	assert.Less(t, a, int64(1<<31))
}

func TestLimiter_Hit(t *testing.T) {
	l, mr, now := newTestLimiter(t, time.Unix(7200+30, 0))
	ctx := context.Background()
	policy := tier.Policy{Limit: 2, Period: 60}

	d := l.Hit(ctx, 1, "/api/v1/me", policy)
	assert.False(t, d.Limited)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, 1, d.Remaining())
	assert.Equal(t, time.Unix(7260, 0).UTC(), d.ResetAt)

	key := Key(1, "/api/v1/me", 7200)
	assert.Equal(t, 60*time.Second, mr.TTL(key))

	assert.False(t, l.Hit(ctx, 1, "/api/v1/me", policy).Limited)
	d = l.Hit(ctx, 1, "/api/v1/me", policy)
	assert.True(t, d.Limited)
	assert.Equal(t, 0, d.Remaining())

	assert.False(t, l.Hit(ctx, 2, "/api/v1/me", policy).Limited, "identities count separately")
	assert.False(t, l.Hit(ctx, 1, "/api/v1/projects", policy).Limited, "paths count separately")

	*now = time.Unix(7260, 0)
	d = l.Hit(ctx, 1, "/api/v1/me", policy)
	assert.False(t, d.Limited, "a new window starts fresh")
	assert.Equal(t, int64(1), d.Count)
}

func TestLimiter_FailsOpen(t *testing.T) {
	l, mr, _ := newTestLimiter(t, time.Unix(100, 0))
	ctx := context.Background()
	policy := tier.Policy{Limit: 1, Period: 60}

	require.NoError(t, l.Init(ctx))
	assert.True(t, l.HealthCheck(ctx))
	mr.Close()

	for i := 0; i < 3; i++ {
		d := l.Hit(ctx, 1, "/x", policy)
		assert.False(t, d.Limited)
		assert.Zero(t, d.Count)
	}
	assert.Equal(t, resilient.Failed, l.State())
}

func TestLimiter_ReplyErrorFailsOpen(t *testing.T) {
	l, mr, _ := newTestLimiter(t, time.Unix(100, 0))
	require.NoError(t, mr.Set(Key(1, "/x", 60), "not a number"))

	d := l.Hit(context.Background(), 1, "/x", tier.Policy{Limit: 1, Period: 60})
	assert.False(t, d.Limited)
	assert.Equal(t, resilient.Connected, l.State(), "a reply error keeps the connection")
}
