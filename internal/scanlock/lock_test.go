package scanlock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) goredis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLockSingleHolder(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := New(client, "protego:scan", time.Minute)
	second := New(client, "protego:scan", time.Minute)

	ok, err := first.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = second.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second instance acquired a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v", ok, err)
	}
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := New(client, "protego:scan", time.Minute)
	stale := New(client, "protego:scan", time.Minute)

	if ok, err := holder.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	// A different instance releasing must not free the holder's lock.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if ok, _ := stale.TryAcquire(ctx); ok {
		t.Fatal("lock was freed by a non-holder")
	}
}

func TestReleaseIdempotentWhenExpired(t *testing.T) {
	client := newTestRedis(t)
	lock := New(client, "protego:scan", time.Minute)
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release of unheld lock: %v", err)
	}
}
