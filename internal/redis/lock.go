package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("resource lock not acquired")

// Locker guards the insert/overlap-check critical section for a set of
// resources. Keys are locked in sorted order so concurrent multi-resource
// callers cannot deadlock.
type Locker interface {
	WithResourceLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisResourceLocker struct {
	client         *redis.Client
	ttl            time.Duration
	acquireTimeout time.Duration
}

// NewRedisResourceLocker creates a locker that uses one Redis key per resource.
func NewRedisResourceLocker(client *redis.Client, ttl, acquireTimeout time.Duration) Locker {
	return &redisResourceLocker{
		client:         client,
		ttl:            ttl,
		acquireTimeout: acquireTimeout,
	}
}

func (l *redisResourceLocker) WithResourceLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := dedupeSorted(keys)
	token := uuid.NewString()

	deadline := time.Now().Add(l.acquireTimeout)

	var held []string
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(context.WithoutCancel(ctx), held[i], token)
		}
	}

	for _, key := range sorted {
		lockKey := "lock:resource:" + key
		if err := l.acquire(ctx, lockKey, token, deadline); err != nil {
			release()
			return err
		}
		held = append(held, lockKey)
	}
	defer release()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire retries SetNX with a short backoff until the deadline; the wait
// is bounded so a stuck holder surfaces as ErrLockNotAcquired upstream.
func (l *redisResourceLocker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire resource lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock %s: %w", key, err)
	}
	return nil
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
