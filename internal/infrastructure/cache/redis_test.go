package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/infrastructure/resilient"
)

func newTestClient(t *testing.T, threshold int) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{
		Redis:             resilient.RedisConfig{Addr: mr.Addr(), DialTimeout: time.Second},
		CompressThreshold: threshold,
		Policy:            resilient.RetryPolicy{MaxAttempts: 1},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_SetGetDelete(t *testing.T) {
	c, mr := newTestClient(t, 0)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, resilient.Connected, c.State(), "a miss is not an outage")

	require.True(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.True(t, c.Exists(ctx, "k"))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	require.True(t, c.Delete(ctx, "k"))
	assert.False(t, c.Exists(ctx, "k"))
	assert.True(t, c.Delete(ctx, "k"), "deleting a missing key still succeeds")
}

func TestClient_GetDel(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "once", []byte("token"), 0))
	got, ok := c.GetDel(ctx, "once")
	require.True(t, ok)
	assert.Equal(t, []byte("token"), got)

	_, ok = c.GetDel(ctx, "once")
	assert.False(t, ok)
}

func TestClient_CompressesLargeValues(t *testing.T) {
	c, mr := newTestClient(t, 64)
	ctx := context.Background()

	large := []byte(strings.Repeat("document chunk ", 200))
	require.True(t, c.Set(ctx, "large", large, 0))

	raw, err := mr.Get("large")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix([]byte(raw), compressedMarker))
	assert.Less(t, len(raw), len(large))

	got, ok := c.Get(ctx, "large")
	require.True(t, ok)
	assert.Equal(t, large, got)

	require.True(t, c.Set(ctx, "small", []byte("tiny"), 0))
	raw, err = mr.Get("small")
	require.NoError(t, err)
	assert.Equal(t, "tiny", raw)
}

func TestClient_CompressionDisabled(t *testing.T) {
	c, mr := newTestClient(t, -1)
	large := strings.Repeat("x", 50_000)

	require.True(t, c.Set(context.Background(), "k", []byte(large), 0))
	raw, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, large, raw)
}

func TestClient_CorruptCompressedValue(t *testing.T) {
	c, mr := newTestClient(t, 0)
	require.NoError(t, mr.Set("bad", string(compressedMarker)+"not zstd"))

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestClient_Outage(t *testing.T) {
	c, mr := newTestClient(t, 0)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.True(t, c.HealthCheck(ctx))

	mr.Close()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "k", []byte("v2"), 0))
	assert.False(t, c.Exists(ctx, "k"))
	assert.False(t, c.HealthCheck(ctx))
	assert.Equal(t, resilient.Failed, c.State())

	require.NoError(t, mr.Restart())
	assert.True(t, c.Set(ctx, "k", []byte("v3"), 0), "reconnects once the server is back")
	assert.Equal(t, resilient.Connected, c.State())
}
