// Package ratelimit throttles message sends per user with a fixed-window
// counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// windowIncr increments the window counter and starts the window's TTL on the
// first hit, in one round trip.
var windowIncr = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter is a fixed-window limiter: at most max requests per key per window.
type Limiter struct {
	rdb     redis.Cmdable
	max     int64
	window  time.Duration
	timeout time.Duration
	prefix  string
	logger  *slog.Logger
	limited metric.Int64Counter
}

// New returns a Limiter allowing max requests per window. Calls to Redis are
// bounded by timeout.
func New(rdb redis.Cmdable, max int64, window, timeout time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	limited, _ := otel.Meter("roomchat/ratelimit").Int64Counter("rate_limited_total",
		metric.WithDescription("Sends rejected by the fixed-window limiter"))
	return &Limiter{
		rdb:     rdb,
		max:     max,
		window:  window,
		timeout: timeout,
		prefix:  "ratelimit:send:",
		logger:  logger,
		limited: limited,
	}
}

// Allow counts one request for key. It returns ErrRateLimited when the window
// is exhausted. If Redis cannot be reached the request is allowed.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := windowIncr.Run(cctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return nil
	}
	if n > l.max {
		l.limited.Add(ctx, 1)
		return fmt.Errorf("%d requests in %s: %w", n, l.window, apperrors.ErrRateLimited)
	}
	return nil
}
