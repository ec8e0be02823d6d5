// Package cache wraps the Redis client used as a best-effort accelerator in
// front of the durable store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultTimeout bounds a single cache call when none is configured.
const DefaultTimeout = 150 * time.Millisecond

// Open parses a redis:// URL, connects and pings the server. An unreachable
// server is not fatal: the client is still returned, together with an error
// wrapping ErrCacheDegraded, and reconnects on later calls.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("ping redis: %w: %v", apperrors.ErrCacheDegraded, err)
	}
	return rdb, nil
}

// fillLeaseTTL bounds how long a reader may hold the right to repopulate a
// key. An expired lease only costs a skipped repopulation.
const fillLeaseTTL = 10 * time.Second

// leaseKey names the fill lease guarding key.
func leaseKey(key string) string { return key + ":fill" }

// incrIfPresent increments a counter only when the key already exists, so a
// missing key keeps meaning "ask the durable store". It also revokes any
// pending fill, whose loaded value predates this write.
var incrIfPresent = redis.NewScript(`
redis.call('DEL', KEYS[2])
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCR', KEYS[1])
end
return -1
`)

// fillIfLeased stores a loaded value only while the reader's lease is
// intact. Any write between the lease and the fill has deleted it.
var fillIfLeased = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
redis.call('DEL', KEYS[2])
return 1
`)

// Accelerator applies one rule to every cached integer: the durable store is
// written first and read on any miss, the cache is only ever updated after
// the durable write succeeded, and cache failures are logged, never returned.
//
// A miss repopulates through a fill lease taken before the durable read.
// Writes revoke the lease, so a value loaded before a write is never stored
// after it.
type Accelerator struct {
	rdb      redis.Cmdable
	timeout  time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	fallback metric.Int64Counter

	pending sync.WaitGroup
}

// NewAccelerator returns an Accelerator over rdb. Entries repopulated after a
// miss expire after ttl.
func NewAccelerator(rdb redis.Cmdable, timeout, ttl time.Duration, logger *slog.Logger) *Accelerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	fallback, _ := otel.Meter("roomchat/cache").Int64Counter("cache_fallback_total",
		metric.WithDescription("Cache reads resolved from the durable store"))
	return &Accelerator{rdb: rdb, timeout: timeout, ttl: ttl, logger: logger, fallback: fallback}
}

// GetInt returns the cached value for key. On a miss it calls load and, if
// no write raced the load, repopulates the cache in the background.
func (a *Accelerator) GetInt(ctx context.Context, key string, load func(context.Context) (int64, error)) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	raw, err := a.rdb.Get(cctx, key).Result()
	cancel()

	reason := "miss"
	switch {
	case err == nil:
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil && n >= 0 {
			return n, nil
		}
		a.degraded("get", key, fmt.Errorf("corrupt value %q", raw))
		reason = "corrupt"
	case !errors.Is(err, redis.Nil):
		a.degraded("get", key, err)
		reason = "error"
	}
	a.fallback.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	var lease string
	if reason != "error" {
		lease = a.acquireLease(ctx, key)
	}

	n, err := load(ctx)
	if err != nil {
		return 0, err
	}
	if lease == "" {
		return n, nil
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		// Detached from the request: repopulation must not be cancelled with it.
		rctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		err := fillIfLeased.Run(rctx, a.rdb, []string{key, leaseKey(key)},
			lease, n, a.ttl.Milliseconds()).Err()
		if err != nil {
			a.degraded("repopulate", key, err)
		}
	}()
	return n, nil
}

// acquireLease claims the right to repopulate key. It returns "" when
// another reader holds it or the cache is unavailable.
func (a *Accelerator) acquireLease(ctx context.Context, key string) string {
	token := uuid.NewString()
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ok, err := a.rdb.SetNX(cctx, leaseKey(key), token, fillLeaseTTL).Result()
	if err != nil {
		a.degraded("lease", key, err)
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

// IncrIfPresent adds one to a cached counter after its durable increment.
func (a *Accelerator) IncrIfPresent(ctx context.Context, key string) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := incrIfPresent.Run(cctx, a.rdb, []string{key, leaseKey(key)}).Err(); err != nil {
		a.degraded("incr", key, err)
	}
}

// Invalidate drops cached values, and any pending fills, after their durable
// write.
func (a *Accelerator) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	all := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		all = append(all, k, leaseKey(k))
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.rdb.Del(cctx, all...).Err(); err != nil {
		a.degraded("del", keys[0], err)
	}
}

// Wait blocks until background repopulations have finished.
func (a *Accelerator) Wait() {
	a.pending.Wait()
}

func (a *Accelerator) degraded(op, key string, err error) {
	a.logger.Warn("cache degraded, using durable store",
		"op", op, "key", key, "error", fmt.Errorf("%w: %v", apperrors.ErrCacheDegraded, err))
}
