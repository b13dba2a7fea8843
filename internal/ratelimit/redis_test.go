package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/common"
)

func newMiniWindow(t *testing.T, limit int, window time.Duration) (*RedisWindow, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedisWindow(common.RedisConfig{Addr: mr.Addr()}, limit, window, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	return r, mr, clock
}

func TestRedisWindow_RejectsOverLimit(t *testing.T) {
	r, _, _ := newMiniWindow(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow(ctx, "10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, r.Allow(ctx, "10.0.0.1"))
	assert.True(t, r.Allow(ctx, "10.0.0.2"), "other clients are independent")
}

func TestRedisWindow_AllowsAfterWindow(t *testing.T) {
	r, _, clock := newMiniWindow(t, 2, time.Minute)
	ctx := context.Background()

	assert.True(t, r.Allow(ctx, "a"))
	assert.True(t, r.Allow(ctx, "a"))
	assert.False(t, r.Allow(ctx, "a"))

	clock.Advance(time.Minute + time.Second)
	assert.True(t, r.Allow(ctx, "a"))
}

func TestRedisWindow_RejectedRequestsAreNotRecorded(t *testing.T) {
	r, mr, _ := newMiniWindow(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Allow(ctx, "a")
	}
	members, err := mr.ZMembers("pfreturns:ratelimit:a")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Greater(t, mr.TTL("pfreturns:ratelimit:a"), time.Duration(0))
}

func TestRedisWindow_ConcurrentRequestsHonourLimit(t *testing.T) {
	r, _, _ := newMiniWindow(t, 5, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Allow(ctx, "burst") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
}

func TestRedisWindow_Stats(t *testing.T) {
	r, _, clock := newMiniWindow(t, 2, time.Minute)
	ctx := context.Background()

	r.Allow(ctx, "a")
	r.Allow(ctx, "a")
	r.Allow(ctx, "a")
	r.Allow(ctx, "b")

	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalRequests)
	assert.Equal(t, 2, st.UniqueClients)
	assert.Equal(t, 2, st.StorageSize)

	clock.Advance(2 * time.Minute)
	st, err = r.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalRequests)
	assert.Zero(t, st.UniqueClients)
}

func TestRedisWindow_FailsOpen(t *testing.T) {
	r, mr, _ := newMiniWindow(t, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, r.Allow(ctx, "a"))
	mr.Close()
	assert.True(t, r.Allow(ctx, "a"))
}

func TestNewRedisWindow_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisWindow(common.RedisConfig{Addr: addr}, 1, time.Minute, common.NewSilentLogger())
	assert.Error(t, err)
}

func TestRedisWindow_Live(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	cfg := common.RedisConfig{Addr: addr, Prefix: "pfreturns-test:" + uuid.NewString()}
	r, err := NewRedisWindow(cfg, 2, time.Minute, common.NewSilentLogger())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	assert.True(t, r.Allow(ctx, "a"))
	assert.True(t, r.Allow(ctx, "a"))
	assert.False(t, r.Allow(ctx, "a"))
	assert.True(t, r.Allow(ctx, "b"))

	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalRequests)
	assert.Equal(t, 2, st.UniqueClients)

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.True(t, r.Allow(ctx, "a"))
}
