package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestAcquireSetsKeyWithTTL(t *testing.T) {
	mr, client := newTestRedis(t)

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	require.NoError(t, lock.Acquire(context.Background()))

	assert.True(t, lock.Active())
	assert.True(t, mr.Exists("lock:test"))
	assert.Equal(t, time.Minute, mr.TTL("lock:test"))
}

func TestAcquireContendedReturnsLockActiveError(t *testing.T) {
	mr, client := newTestRedis(t)

	first := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Hour})
	require.NoError(t, first.Acquire(context.Background()))

	second := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	err := second.Acquire(context.Background())
	require.Error(t, err)

	var active *LockActiveError
	require.True(t, errors.As(err, &active))
	assert.Equal(t, "lock:test", active.Key)
	assert.False(t, second.Active())

	// The losing attempt must not touch the holder's TTL.
	assert.Equal(t, time.Hour, mr.TTL("lock:test"))
}

func TestAcquireUnreachableCacheReturnsLockAcquireError(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	err := lock.Acquire(context.Background())
	require.Error(t, err)

	var acquireErr *LockAcquireError
	assert.True(t, errors.As(err, &acquireErr), "got %T: %v", err, err)

	var active *LockActiveError
	assert.False(t, errors.As(err, &active), "connectivity failure must not look like contention")
}

func TestExitDeletesWhenConfigured(t *testing.T) {
	mr, client := newTestRedis(t)

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute, DeleteOnExit: true})
	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Exit(context.Background()))

	assert.False(t, mr.Exists("lock:test"))
	assert.False(t, lock.Active())
}

func TestExitLeavesKeyToExpireByDefault(t *testing.T) {
	mr, client := newTestRedis(t)

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Exit(context.Background()))

	// Still present until the TTL lapses.
	assert.True(t, mr.Exists("lock:test"))
	assert.False(t, lock.Active())

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("lock:test"))
}

func TestExitWithoutHoldingDoesNothing(t *testing.T) {
	mr, client := newTestRedis(t)

	holder := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	require.NoError(t, holder.Acquire(context.Background()))

	loser := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute, DeleteOnExit: true})
	_ = loser.Acquire(context.Background())
	require.NoError(t, loser.Exit(context.Background()))

	// The holder's key survives a non-holder's exit.
	assert.True(t, mr.Exists("lock:test"))
}

func TestReleaseDeletesEarly(t *testing.T) {
	mr, client := newTestRedis(t)

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Hour})
	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Release(context.Background()))

	assert.False(t, mr.Exists("lock:test"))

	// A new acquisition within the same TTL window now succeeds.
	again := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Hour})
	assert.NoError(t, again.Acquire(context.Background()))
}

func TestReleaseUnreachableCacheReturnsLockReleaseError(t *testing.T) {
	mr, client := newTestRedis(t)

	lock := NewCacheLock(client, "lock:test", LockOptions{Expire: time.Minute})
	require.NoError(t, lock.Acquire(context.Background()))

	mr.Close()

	err := lock.Release(context.Background())
	require.Error(t, err)

	var releaseErr *LockReleaseError
	assert.True(t, errors.As(err, &releaseErr), "got %T: %v", err, err)
}
