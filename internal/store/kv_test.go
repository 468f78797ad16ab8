package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisKV_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := NewRedisKV(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "drip:weight:P1:latest")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, kv.Set(ctx, "drip:weight:P1:latest", `{"weight":1.5}`, time.Minute))
	v, err := kv.Get(ctx, "drip:weight:P1:latest")
	require.NoError(t, err)
	assert.Equal(t, `{"weight":1.5}`, v)
	assert.Equal(t, time.Minute, mr.TTL("drip:weight:P1:latest"))

	// TTL 到期后未命中
	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "drip:weight:P1:latest")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, kv.Set(ctx, "k", "v", 0))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestMemoryKV_TTL(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, kv.Set(ctx, "b", "2", 0))

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	now = now.Add(time.Minute)
	_, err = kv.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrMiss))

	v, err = kv.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestMemoryKV_Sweep(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", time.Second))
	require.NoError(t, kv.Set(ctx, "b", "2", time.Hour))
	require.NoError(t, kv.Set(ctx, "c", "3", 0))

	now = now.Add(time.Minute)
	assert.Equal(t, 1, kv.Sweep())
	assert.Equal(t, 2, kv.Len())
}

func TestScheduleSweep_InvalidSpec(t *testing.T) {
	_, err := ScheduleSweep(NewMemoryKV(), "not a cron spec", zap.NewNop())
	assert.Error(t, err)
}

func TestScheduleSweep_Runs(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), "a", "1", time.Nanosecond))

	c, err := ScheduleSweep(kv, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	defer c.Stop()

	assert.Eventually(t, func() bool { return kv.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}
