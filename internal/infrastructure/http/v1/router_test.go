package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/http/v1/handlers"
	"docchat/internal/infrastructure/http/v1/middleware"
	"docchat/internal/infrastructure/queue"
	"docchat/internal/infrastructure/ratelimit"
	"docchat/internal/infrastructure/storage/postgres"
)

type tokens map[string]*appctx.UserContext

func (t tokens) Resolve(_ context.Context, token string) (*appctx.UserContext, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return nil, apperror.NewUnauthorized("invalid or expired token")
}

type policies struct {
	byTier map[int64]tier.Policy
	calls  []string
}

func (p *policies) Policy(_ context.Context, tierID *int64, path string) tier.Policy {
	p.calls = append(p.calls, path)
	if tierID != nil {
		if pol, ok := p.byTier[*tierID]; ok {
			return pol
		}
	}
	return tier.Policy{Limit: 2, Period: 60}
}

type counter struct {
	mu   sync.Mutex
	hits map[string]int64
	ids  []int64
}

func (c *counter) Hit(_ context.Context, identity int64, path string, p tier.Policy) ratelimit.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ratelimit.Key(identity, path, 0)
	c.hits[key]++
	c.ids = append(c.ids, identity)
	n := c.hits[key]
	return ratelimit.Decision{Limited: n > int64(p.Limit), Count: n, Limit: p.Limit, ResetAt: time.Now().Add(30 * time.Second)}
}

type probe struct {
	name string
	ok   bool
}

func (p probe) Name() string                     { return p.name }
func (p probe) HealthCheck(context.Context) bool { return p.ok }

type taskStatuses map[string]queue.TaskStatus

func (t taskStatuses) Status(_ context.Context, id string) queue.TaskStatus {
	if st, ok := t[id]; ok {
		return st
	}
	return queue.TaskStatus{Status: queue.StatusPending}
}

type fixture struct {
	policies *policies
	counter  *counter
	cfg      RouterConfig
}

func newFixture(db bool, services ...handlers.Probe) *fixture {
	gold := int64(3)
	f := &fixture{
		policies: &policies{byTier: map[int64]tier.Policy{gold: {Limit: 100, Period: 60}}},
		counter:  &counter{hits: map[string]int64{}},
	}
	f.cfg = RouterConfig{
		Identity: tokens{
			"alice": {UserID: 1, Username: "alice", Email: "alice@example.com"},
			"gold":  {UserID: 2, Username: "gold", TierID: &gold, IsSuperuser: true},
		},
		Policies: f.policies,
		Limiter:  f.counter,
		Health: handlers.NewHealthHandler(probe{"postgres", db},
			func() postgres.PoolStats { return postgres.PoolStats{TotalConns: 4, MaxConns: 10} },
			"test", services...),
		Tasks: taskStatuses{
			"t1":   {Status: queue.StatusCompleted, Name: "document.ingest"},
			"down": {Status: queue.StatusUnavailable, Error: "queue is not available"},
		},
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	NewRouter(f.cfg).ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_Me(t *testing.T) {
	f := newFixture(true)

	w := f.do(t, http.MethodGet, "/api/v1/me", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, float64(2), body["rate_limit"].(map[string]any)["limit"])
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, f.policies.calls, "api_v1_me")

	w = f.do(t, http.MethodGet, "/api/v1/me", "gold")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(100), decode(t, w)["rate_limit"].(map[string]any)["limit"])
	assert.Equal(t, true, decode(t, w)["is_superuser"])
}

func TestRouter_MeRejectsBadTokens(t *testing.T) {
	f := newFixture(true)

	w := f.do(t, http.MethodGet, "/api/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apperror.CodeUnauthorized), decode(t, w)["code"])

	w = f.do(t, http.MethodGet, "/api/v1/me", "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.counter.ids, "rejected before counting")
}

func TestRouter_RateLimited(t *testing.T) {
	f := newFixture(true)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/me", "alice").Code)
	}
	w := f.do(t, http.MethodGet, "/api/v1/me", "alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(apperror.CodeRateLimited), decode(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/me", "gold").Code, "other users unaffected")
}

func TestRouter_TasksAnonymous(t *testing.T) {
	f := newFixture(true)

	w := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])
	require.Len(t, f.counter.ids, 1)
	assert.Equal(t, ratelimit.AnonymousIdentity("203.0.113.7"), f.counter.ids[0])

	w = f.do(t, http.MethodGet, "/api/v1/tasks/t1", "forged")
	assert.Equal(t, http.StatusOK, w.Code, "an invalid token falls back to anonymous")

	w = f.do(t, http.MethodGet, "/api/v1/tasks/t1", "alice")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), f.counter.ids[2])

	w = f.do(t, http.MethodGet, "/api/v1/tasks/down", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode(t, w)["status"])
}

func TestRouter_Health(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		f := newFixture(true, probe{"redis_cache", true}, probe{"minio", true})
		w := f.do(t, http.MethodGet, "/health/ready", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decode(t, w)["status"])
	})

	t.Run("degraded", func(t *testing.T) {
		f := newFixture(true, probe{"redis_cache", true}, probe{"minio", false})
		w := f.do(t, http.MethodGet, "/health/ready", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "unhealthy", body["checks"].(map[string]any)["minio"])
	})

	t.Run("database down", func(t *testing.T) {
		f := newFixture(false, probe{"redis_cache", true})
		w := f.do(t, http.MethodGet, "/health/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "error", decode(t, w)["status"])
	})

	t.Run("live and info", func(t *testing.T) {
		f := newFixture(true)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "").Code)

		w := f.do(t, http.MethodGet, "/health/info", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "test", body["version"])
		assert.Equal(t, float64(10), body["database"].(map[string]any)["max_conns"])
		assert.Empty(t, f.counter.ids, "probes are not rate limited")
	})
}
