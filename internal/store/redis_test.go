package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.Prefix = "test:"

	s, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestNewRedisStore(t *testing.T) {
	s := newTestRedisStore(t)
	assert.Equal(t, "test:", s.prefix)
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Address = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := NewRedisStore(cfg)
	require.Error(t, err)
}

func TestRedisStore_GetSet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", 42, time.Minute))

	val, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	s := newTestRedisStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_IncrementWithExpiry(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	val, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = s.IncrementWithExpiry(ctx, "counter", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestRedisStore_Delete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", 1, time.Minute))
	require.NoError(t, s.Delete(ctx, "key"))

	_, err := s.Get(ctx, "key")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_ScanPrefix(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sess:a", 1, time.Minute))
	require.NoError(t, s.Set(ctx, "sess:b", 2, time.Minute))
	require.NoError(t, s.Set(ctx, "other:c", 3, time.Minute))

	keys, err := s.ScanPrefix(ctx, "sess:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess:a", "sess:b"}, keys)
}

func TestRedisStore_ContextCancelled(t *testing.T) {
	s := &RedisStore{prefix: "test:"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	err = s.Set(ctx, "key", 1, time.Minute)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	s := newTestRedisStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
