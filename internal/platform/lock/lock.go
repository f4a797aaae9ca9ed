// Package lock provides cross-instance key locks backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Release frees every lock obtained by Acquire.
type Release func(ctx context.Context)

// Locker obtains Redis locks for a set of keys. A nil Locker, one built without a client, or one
// whose Redis is unreachable grants every request without locking; Postgres row locks stay
// authoritative.
type Locker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// Options tune lock acquisition.
type Options struct {
	TTL     time.Duration
	Retries int
	Backoff time.Duration
}

// New builds a Locker on top of rdb.
func New(rdb *redis.Client, opts Options, logger *slog.Logger) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 20
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Locker{ttl: opts.TTL, retries: opts.Retries, backoff: opts.Backoff, logger: logger}
	if rdb != nil {
		l.client = redislock.New(rdb)
	}
	return l
}

// Acquire obtains locks for keys in sorted order so two submissions sharing keys never deadlock.
// When a key stays busy past the retry budget the submission fails with a consistency error. When
// Redis itself fails the submission proceeds unlocked.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	noop := func(context.Context) {}
	if l == nil || l.client == nil || len(keys) == 0 {
		return noop, nil
	}
	sorted := uniqueSorted(keys)
	held := make([]*redislock.Lock, 0, len(sorted))
	release := func(ctx context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("release ledger lock", slog.String("key", held[i].Key()), slog.Any("error", err))
			}
		}
	}
	opts := &redislock.Options{RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries)}
	for _, key := range sorted {
		lk, err := l.client.Obtain(ctx, key, l.ttl, opts)
		if err != nil {
			release(ctx)
			if errors.Is(err, redislock.ErrNotObtained) {
				return noop, fmt.Errorf("%w: lock %s busy", shared.ErrConcurrentModification, key)
			}
			if ctx.Err() != nil {
				return noop, fmt.Errorf("platform/lock: obtain %s: %w", key, ctx.Err())
			}
			l.logger.Warn("ledger lock unavailable, proceeding without it", slog.String("key", key), slog.Any("error", err))
			return noop, nil
		}
		held = append(held, lk)
	}
	return release, nil
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
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
