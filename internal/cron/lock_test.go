package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "mx:lock:cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "mx:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// a non-owner release leaves the holder's key in place
	require.NoError(t, second.Release(context.Background()))
	assert.Contains(t, store.values, "mx:lock:cron")

	require.NoError(t, first.Release(context.Background()))
	assert.NotContains(t, store.values, "mx:lock:cron")

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "mx:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry followed by another worker taking the key
	store.values["mx:lock:cron"] = "other-owner"
	require.ErrorIs(t, lock.Release(context.Background()), ErrLockLost)
	assert.Equal(t, "other-owner", store.values["mx:lock:cron"])
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(&memoryLockStore{}, "", time.Minute)
	assert.Error(t, err)

	lock, err := NewRedisLock(&memoryLockStore{}, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
}
