package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryRedis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryRedis) LockKey(name string) string { return "shopcore:lock:" + name }

func TestRedisLockExcludesSecondInstance(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{values: map[string]string{}}
	a, err := NewRedisLock(store, "sweeper", time.Minute)
	require.NoError(t, err)
	b, err := NewRedisLock(store, "sweeper", time.Minute)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Release(ctx))
	require.Contains(t, store.values, "shopcore:lock:cron:sweeper")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockLeavesForeignOwnerAlone(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{values: map[string]string{}}
	lock, err := NewRedisLock(store, "abandonment", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL lapsed and another instance took over.
	store.values["shopcore:lock:cron:abandonment"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "someone-else", store.values["shopcore:lock:cron:abandonment"])
}

func TestSeparateSchedulersUseSeparateKeys(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{values: map[string]string{}}
	sweeper, err := NewRedisLock(store, "sweeper", time.Minute)
	require.NoError(t, err)
	abandonment, err := NewRedisLock(store, "abandonment", time.Hour)
	require.NoError(t, err)

	ok, err := sweeper.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = abandonment.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewRedisLockDefaultsTTL(t *testing.T) {
	lock, err := NewRedisLock(&memoryRedis{values: map[string]string{}}, "sweeper", 0)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, lock.ttl)

	require.Equal(t, minLockTTL, LockTTLFor(time.Minute/2))
	require.Equal(t, 2*time.Hour, LockTTLFor(time.Hour))
}
