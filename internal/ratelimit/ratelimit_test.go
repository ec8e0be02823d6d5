package ratelimit

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, max int64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, max, time.Minute, 100*time.Millisecond, nil), mr
}

func TestAllow_FixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "alice"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Allow(ctx, "alice"); !apperrors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// other users have their own window
	if err := l.Allow(ctx, "bob"); err != nil {
		t.Fatalf("bob rejected: %v", err)
	}

	// TTL is set on the first hit; expiring it opens a new window
	if ttl := mr.TTL("ratelimit:send:alice"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected window TTL %v", ttl)
	}
	mr.FastForward(time.Minute)
	if err := l.Allow(ctx, "alice"); err != nil {
		t.Fatalf("expected new window to allow, got %v", err)
	}
}

func TestAllow_FailOpen(t *testing.T) {
	l, mr := newTestLimiter(t, 1)
	mr.Close()

	for i := 0; i < 5; i++ {
		if err := l.Allow(context.Background(), "alice"); err != nil {
			t.Fatalf("expected fail-open, got %v", err)
		}
	}
}
