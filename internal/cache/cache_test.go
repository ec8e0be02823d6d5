package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAccelerator(t *testing.T) (*Accelerator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAccelerator(rdb, 100*time.Millisecond, time.Hour, nil), mr
}

func TestGetInt_MissLoadsAndRepopulates(t *testing.T) {
	a, mr := newTestAccelerator(t)
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (int64, error) { loads++; return 7, nil }

	n, err := a.GetInt(ctx, "k", load)
	if err != nil || n != 7 {
		t.Fatalf("GetInt = %d, %v; want 7", n, err)
	}
	a.Wait()

	if v, _ := mr.Get("k"); v != "7" {
		t.Fatalf("expected cache repopulated with 7, got %q", v)
	}

	n, err = a.GetInt(ctx, "k", load)
	if err != nil || n != 7 || loads != 1 {
		t.Fatalf("second GetInt = %d, %v, loads=%d; want cache hit", n, err, loads)
	}
}

func TestGetInt_CacheDownFallsBack(t *testing.T) {
	a, mr := newTestAccelerator(t)
	mr.Close()

	n, err := a.GetInt(context.Background(), "k", func(context.Context) (int64, error) { return 3, nil })
	if err != nil || n != 3 {
		t.Fatalf("GetInt = %d, %v; want durable value 3", n, err)
	}
	a.Wait()
}

func TestGetInt_LoadErrorPropagates(t *testing.T) {
	a, _ := newTestAccelerator(t)
	boom := errors.New("durable down")

	if _, err := a.GetInt(context.Background(), "k", func(context.Context) (int64, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected durable error, got %v", err)
	}
}

func TestIncrIfPresent(t *testing.T) {
	a, mr := newTestAccelerator(t)
	ctx := context.Background()

	a.IncrIfPresent(ctx, "k")
	if mr.Exists("k") {
		t.Fatal("increment must not create a missing key")
	}

	_ = mr.Set("k", "2")
	a.IncrIfPresent(ctx, "k")
	if v, _ := mr.Get("k"); v != "3" {
		t.Fatalf("expected 3, got %q", v)
	}

	a.Invalidate(ctx, "k")
	if mr.Exists("k") {
		t.Fatal("Invalidate should delete the key")
	}
}

func TestGetInt_WriteDuringLoadSkipsRepopulate(t *testing.T) {
	tests := []struct {
		name  string
		write func(a *Accelerator, ctx context.Context)
	}{
		{"increment", func(a *Accelerator, ctx context.Context) { a.IncrIfPresent(ctx, "k") }},
		{"invalidate", func(a *Accelerator, ctx context.Context) { a.Invalidate(ctx, "k") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mr := newTestAccelerator(t)
			ctx := context.Background()

			// the value is read, then a write lands before the fill
			n, err := a.GetInt(ctx, "k", func(ctx context.Context) (int64, error) {
				tt.write(a, ctx)
				return 4, nil
			})
			if err != nil || n != 4 {
				t.Fatalf("GetInt = %d, %v; want 4", n, err)
			}
			a.Wait()

			if mr.Exists("k") {
				v, _ := mr.Get("k")
				t.Fatalf("stale value %q stored after a concurrent write", v)
			}
			if mr.Exists(leaseKey("k")) {
				t.Fatal("fill lease should be revoked by the write")
			}
		})
	}
}

func TestGetInt_ConcurrentMissesFillOnce(t *testing.T) {
	a, mr := newTestAccelerator(t)
	ctx := context.Background()

	// a second reader missing while the first holds the lease does not fill
	n, err := a.GetInt(ctx, "k", func(ctx context.Context) (int64, error) {
		inner, err := a.GetInt(ctx, "k", func(context.Context) (int64, error) { return 9, nil })
		if err != nil || inner != 9 {
			t.Errorf("inner GetInt = %d, %v", inner, err)
		}
		return 5, nil
	})
	if err != nil || n != 5 {
		t.Fatalf("GetInt = %d, %v; want 5", n, err)
	}
	a.Wait()

	if v, _ := mr.Get("k"); v != "5" {
		t.Fatalf("expected lease holder's value 5, got %q", v)
	}
	if mr.Exists(leaseKey("k")) {
		t.Fatal("lease should be released after the fill")
	}
	if ttl := mr.TTL("k"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb, err := Open(ctx, "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = rdb.Close()

	// an unreachable server still yields a usable client
	addr := mr.Addr()
	mr.Close()
	rdb, err = Open(ctx, "redis://"+addr+"/0")
	if rdb == nil || !apperrors.Is(err, apperrors.ErrCacheDegraded) {
		t.Fatalf("Open(down) = %v, %v; want client and ErrCacheDegraded", rdb, err)
	}
	_ = rdb.Close()

	if rdb, err := Open(ctx, "not a url"); rdb != nil || err == nil {
		t.Fatalf("Open(bad url) = %v, %v; want error", rdb, err)
	}
}
