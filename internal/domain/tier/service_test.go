package tier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/apperror"
	"docchat/internal/core/id"
	"docchat/internal/domain/domaintest"
	"docchat/internal/domain/query"
)

type mapCache struct {
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) bool {
	c.data[key] = value
	c.sets++
	return true
}

func (c *mapCache) Delete(_ context.Context, key string) bool {
	_, ok := c.data[key]
	delete(c.data, key)
	return ok
}

// brokenLimits fails every read.
type brokenLimits struct {
	*domaintest.MemRepo[RateLimit]
}

func (brokenLimits) GetAll(context.Context, *query.Config) ([]RateLimit, error) {
	return nil, errors.New("connection refused")
}

var defaults = Policy{Limit: 10, Period: 3600}

func newTestService(cache PolicyCache) (*Service, *domaintest.MemRepo[RateLimit]) {
	limits := domaintest.NewMemRepo[RateLimit](RateLimitsTable)
	return NewService(domaintest.NewMemRepo[Tier](Table), limits, cache, defaults, nil), limits
}

func TestSanitizePath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/me":          "api_v1_me",
		"/api/v1/projects/":   "api_v1_projects",
		"api/v1/tasks/status": "api_v1_tasks_status",
		"/":                   "",
		"health":              "health",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizePath(in), in)
	}
}

func TestService_CreateTier(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	free, err := svc.CreateTier(ctx, "  free ")
	require.NoError(t, err)
	assert.Equal(t, "free", free.Name)
	assert.NotZero(t, free.ID)

	_, err = svc.CreateTier(ctx, "free")
	assert.True(t, apperror.IsDuplicate(err))

	_, err = svc.CreateTier(ctx, "")
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.CreateTier(ctx, "pro")
	require.NoError(t, err)
	tiers, err := svc.ListTiers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "free", tiers[0].Name)

	cfg, err := query.Parse([]byte(`{"filters": {"name": "pro"}}`))
	require.NoError(t, err)
	tiers, err = svc.ListTiers(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, "pro", tiers[0].Name)

	_, err = svc.GetTier(ctx, 99)
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_CreateRateLimit(t *testing.T) {
	cache := newMapCache()
	svc, limits := newTestService(cache)
	ctx := context.Background()

	free, err := svc.CreateTier(ctx, "free")
	require.NoError(t, err)

	cache.data[policyKey(free.ID, "api_v1_me")] = []byte("1:1")

	rl, err := svc.CreateRateLimit(ctx, RateLimit{TierID: free.ID, Name: "me", Path: "/api/v1/me/", Limit: 5, Period: 60})
	require.NoError(t, err)
	assert.Equal(t, "api_v1_me", rl.Path)
	assert.False(t, id.IsNil(rl.UUID))
	assert.NotContains(t, cache.data, policyKey(free.ID, "api_v1_me"), "stale policy dropped")

	_, err = svc.CreateRateLimit(ctx, RateLimit{TierID: free.ID, Name: "me", Path: "/other", Limit: 5, Period: 60})
	assert.True(t, apperror.IsDuplicate(err))

	_, err = svc.CreateRateLimit(ctx, RateLimit{TierID: 42, Name: "ghost", Path: "/x", Limit: 5, Period: 60})
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.CreateRateLimit(ctx, RateLimit{TierID: free.ID, Name: "zero", Path: "/x", Limit: 0, Period: 60})
	assert.True(t, apperror.IsValidation(err))

	assert.Equal(t, 1, limits.Len())

	listed, err := svc.ListRateLimits(ctx, free.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 5, listed[0].Limit)
}

func TestService_Policy(t *testing.T) {
	ctx := context.Background()

	t.Run("no tier", func(t *testing.T) {
		cache := newMapCache()
		svc, _ := newTestService(cache)
		assert.Equal(t, defaults, svc.Policy(ctx, nil, "api_v1_me"))
		assert.Zero(t, cache.sets)
	})

	t.Run("specific and default paths are cached", func(t *testing.T) {
		cache := newMapCache()
		svc, _ := newTestService(cache)
		free, err := svc.CreateTier(ctx, "free")
		require.NoError(t, err)
		_, err = svc.CreateRateLimit(ctx, RateLimit{TierID: free.ID, Name: "me", Path: "api/v1/me", Limit: 5, Period: 60})
		require.NoError(t, err)

		assert.Equal(t, Policy{Limit: 5, Period: 60}, svc.Policy(ctx, &free.ID, "api_v1_me"))
		assert.Equal(t, []byte("5:60"), cache.data[policyKey(free.ID, "api_v1_me")])

		assert.Equal(t, defaults, svc.Policy(ctx, &free.ID, "api_v1_projects"))
		assert.Equal(t, []byte("10:3600"), cache.data[policyKey(free.ID, "api_v1_projects")])
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		cache := newMapCache()
		svc, _ := newTestService(cache)
		tierID := int64(3)
		cache.data[policyKey(tierID, "api_v1_me")] = []byte("7:30")

		assert.Equal(t, Policy{Limit: 7, Period: 30}, svc.Policy(ctx, &tierID, "api_v1_me"))
		assert.Zero(t, cache.sets)
	})

	t.Run("corrupt cache entry is replaced", func(t *testing.T) {
		cache := newMapCache()
		svc, _ := newTestService(cache)
		tierID := int64(3)
		cache.data[policyKey(tierID, "api_v1_me")] = []byte("garbage")

		assert.Equal(t, defaults, svc.Policy(ctx, &tierID, "api_v1_me"))
		assert.Equal(t, []byte("10:3600"), cache.data[policyKey(tierID, "api_v1_me")])
	})

	t.Run("lookup failure applies defaults", func(t *testing.T) {
		limits := brokenLimits{domaintest.NewMemRepo[RateLimit](RateLimitsTable)}
		svc := NewService(domaintest.NewMemRepo[Tier](Table), limits, nil, defaults, nil)
		tierID := int64(1)
		assert.Equal(t, defaults, svc.Policy(ctx, &tierID, "api_v1_me"))
	})
}

func TestDecodePolicy(t *testing.T) {
	p, ok := decodePolicy(encodePolicy(Policy{Limit: 3, Period: 9}))
	assert.True(t, ok)
	assert.Equal(t, Policy{Limit: 3, Period: 9}, p)

	for _, raw := range []string{"", "5", "a:b", "0:60", "5:-1"} {
		_, ok := decodePolicy([]byte(raw))
		assert.False(t, ok, raw)
	}
}
