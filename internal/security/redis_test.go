package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_Incr(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	count, resetAt, err := store.Incr(ctx, "attempts", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resetAt, 5*time.Second)

	count, _, err = store.Incr(ctx, "attempts", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Window expiry resets the counter.
	mr.FastForward(time.Hour + time.Minute)
	count, _, err = store.Incr(ctx, "attempts", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_AddDistinct(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for _, member := range []string{"A", "B", "A"} {
		_, err := store.AddDistinct(ctx, "codes", member, time.Hour)
		require.NoError(t, err)
	}

	card, err := store.AddDistinct(ctx, "codes", "C", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	mr.FastForward(2 * time.Hour)
	card, err = store.AddDistinct(ctx, "codes", "D", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestAssessorWithRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	a := NewAssessor(store, Config{MaxAttempts: 2, Window: time.Hour, DistinctCodeThreshold: 10})
	ctx := context.Background()

	at := Attempt{IP: "10.1.1.1", UserID: "u1", Code: "SAVE10", UserAgent: "Mozilla/5.0"}

	for i := 0; i < 2; i++ {
		checks, _, err := a.Assess(ctx, at)
		require.NoError(t, err)
		assert.True(t, checks.Passed)
	}

	checks, info, err := a.Assess(ctx, at)
	require.NoError(t, err)
	assert.False(t, checks.Passed)
	assert.Equal(t, 0, info.Remaining)
}
