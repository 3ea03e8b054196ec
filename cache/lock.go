package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// LockActiveError reports that another holder already owns the lock key. This
// is expected contention, not an infrastructure failure.
type LockActiveError struct {
	Key string
}

func (e *LockActiveError) Error() string {
	return fmt.Sprintf("lock already active for key %s", e.Key)
}

// LockAcquireError reports that the cache service could not be reached while
// acquiring. Callers must not confuse this with contention.
type LockAcquireError struct {
	Err error
}

func (e *LockAcquireError) Error() string {
	return fmt.Sprintf("could not acquire a lock: %v", e.Err)
}

func (e *LockAcquireError) Unwrap() error { return e.Err }

// LockReleaseError reports a failure deleting the lock key.
type LockReleaseError struct {
	Err error
}

func (e *LockReleaseError) Error() string {
	return fmt.Sprintf("could not release a lock: %v", e.Err)
}

func (e *LockReleaseError) Unwrap() error { return e.Err }

// LockOptions configures a CacheLock.
type LockOptions struct {
	// Expire is the TTL set on the lock key at acquisition.
	Expire time.Duration
	// DeleteOnExit deletes the key in Exit when the lock is held. When false
	// the key is left to expire naturally, so the locked section cannot run
	// again until the TTL lapses even after the holder is gone.
	DeleteOnExit bool
}

// CacheLock is a mutual-exclusion primitive backed by the shared cache.
// Acquisition is a single atomic add-if-absent against the cache, so there is
// no race between checking and setting the key.
type CacheLock struct {
	client *goredis.Client
	key    string
	opts   LockOptions
	active bool
}

func NewCacheLock(client *goredis.Client, key string, opts LockOptions) *CacheLock {
	return &CacheLock{client: client, key: key, opts: opts}
}

// Key returns the lock's cache key.
func (l *CacheLock) Key() string { return l.key }

// Active reports whether this instance currently holds the lock.
func (l *CacheLock) Active() bool { return l.active }

// Acquire atomically sets the key if and only if it is absent. It returns a
// LockActiveError when another holder owns the key and a LockAcquireError when
// the cache operation itself fails. An existing key's TTL is never touched.
func (l *CacheLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, true, l.opts.Expire).Result()
	if err != nil {
		return &LockAcquireError{Err: err}
	}
	if !ok {
		return &LockActiveError{Key: l.key}
	}

	l.active = true
	return nil
}

// Release deletes the lock key regardless of the DeleteOnExit setting. It is
// meant for error paths that must free the lock early, e.g. cleaning up after
// a downstream failure inside the protected section.
func (l *CacheLock) Release(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return &LockReleaseError{Err: err}
	}

	l.active = false
	return nil
}

// Exit ends the protected section. If the lock is held and configured with
// DeleteOnExit, the key is deleted; otherwise it is left to expire via TTL.
func (l *CacheLock) Exit(ctx context.Context) error {
	if l.active && l.opts.DeleteOnExit {
		return l.Release(ctx)
	}

	l.active = false
	return nil
}
