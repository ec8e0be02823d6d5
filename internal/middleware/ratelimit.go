// Package middleware holds gRPC interceptors shared by the API server.
package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Throttle holds one token bucket per key. Keys unused for idleAfter are
// swept so the map stays proportional to active clients.
type Throttle struct {
	every     rate.Limit
	burst     int
	idleAfter time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	quit     chan struct{}
	quitOnce sync.Once
}

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// NewThrottle allows perMinute events per key with the given burst. A
// background sweep drops keys idle for longer than idleAfter; call Close to
// stop it.
func NewThrottle(perMinute, burst int, idleAfter time.Duration) *Throttle {
	if perMinute <= 0 {
		perMinute = 60
	}
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	t := &Throttle{
		every:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     max(burst, 1),
		idleAfter: idleAfter,
		buckets:   make(map[string]*bucket),
		quit:      make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

func (t *Throttle) sweepLoop() {
	tick := time.NewTicker(t.idleAfter / 2)
	defer tick.Stop()
	for {
		select {
		case now := <-tick.C:
			t.sweep(now.Add(-t.idleAfter))
		case <-t.quit:
			return
		}
	}
}

// sweep forgets every key last seen before cutoff.
func (t *Throttle) sweep(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, b := range t.buckets {
		if b.seen.Before(cutoff) {
			delete(t.buckets, k)
		}
	}
}

// Close stops the sweep. Extra calls are no-ops.
func (t *Throttle) Close() {
	t.quitOnce.Do(func() { close(t.quit) })
}

// Allow takes one token from key's bucket.
func (t *Throttle) Allow(key string) bool {
	now := time.Now()
	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(t.every, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	t.mu.Unlock()
	return b.tokens.AllowN(now, 1)
}

// KeyFunc derives the throttling key of a call.
type KeyFunc func(ctx context.Context) string

// PeerKey keys calls by remote host. The port is dropped so reconnects from
// one client share a bucket.
func PeerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

var errThrottled = status.Error(codes.ResourceExhausted, "too many requests, retry later")

// RateLimitStreamInterceptor throttles the opening of the listed streams,
// keyed by key (PeerKey when nil).
func RateLimitStreamInterceptor(t *Throttle, methods map[string]bool, key KeyFunc) grpc.StreamServerInterceptor {
	if key == nil {
		key = PeerKey
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if methods[info.FullMethod] && !t.Allow(key(ss.Context())) {
			return errThrottled
		}
		return handler(srv, ss)
	}
}

// RateLimitUnaryInterceptor is the unary form of RateLimitStreamInterceptor.
func RateLimitUnaryInterceptor(t *Throttle, methods map[string]bool, key KeyFunc) grpc.UnaryServerInterceptor {
	if key == nil {
		key = PeerKey
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if methods[info.FullMethod] && !t.Allow(key(ctx)) {
			return nil, errThrottled
		}
		return handler(ctx, req)
	}
}
