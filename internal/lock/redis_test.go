package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestAcquireRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(client)

	ok, err := l.Acquire(ctx, "owner:o1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(keyPrefix+"owner:o1"))

	ok, err = l.Acquire(ctx, "owner:o1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	ok, err = l.Acquire(ctx, "owner:o2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other owners are independent")

	require.NoError(t, l.Release(ctx, "owner:o1"))
	assert.False(t, mr.Exists(keyPrefix+"owner:o1"))

	ok, err = l.Acquire(ctx, "owner:o1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(client)

	ok, err := l.Acquire(ctx, "owner:o1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	other := NewRedis(client)
	ok, err = other.Acquire(ctx, "owner:o1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "owner:o1"))
	assert.True(t, mr.Exists(keyPrefix+"owner:o1"), "stale holder must not release the new lock")
}

func TestReleaseWithoutAcquire(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.NoError(t, NewRedis(client).Release(context.Background(), "owner:none"))
}

func TestAcquireError(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()
	_, err := NewRedis(client).Acquire(context.Background(), "owner:o1", time.Second)
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.NoError(t, NewRedis(client).Ping(context.Background()))
}
