package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestCounterFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewCounter(rdb, "otp", 15*time.Minute)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "u1-login-invalid-attempts")
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != i {
			t.Fatalf("count = %d, want %d", n, i)
		}
	}
	if ttl := mr.TTL("otp:u1-login-invalid-attempts"); ttl != 15*time.Minute {
		t.Fatalf("ttl = %v, want window", ttl)
	}

	mr.FastForward(15*time.Minute + time.Second)
	n, err := c.Count(ctx, "u1-login-invalid-attempts")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count after window = %d, want 0", n)
	}
}

func TestCounterReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	c := NewCounter(rdb, "", time.Minute)
	ctx := context.Background()

	_, _ = c.Incr(ctx, "k")
	if err := c.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := c.Count(ctx, "k"); n != 0 {
		t.Fatalf("count = %d after reset", n)
	}
	if d, _ := c.TTL(ctx, "k"); d != time.Minute {
		t.Fatalf("ttl of absent key = %v, want window", d)
	}
}

func TestCounterUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewCounter(rdb, "", time.Minute)
	mr.Close()

	if _, err := c.Incr(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLoginThrottle(NewCounter(rdb, "login", time.Minute), LoginConfig{MaxAttempts: 2, Cooldown: time.Minute, PerIP: true})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "A@x.io", "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if err := l.Failure(ctx, "A@x.io", "10.0.0.1"); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	if err := l.Check(ctx, "a@x.io", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "b@x.io", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
	if err := l.Reset(ctx, "a@x.io"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "a@x.io", ""); err != nil {
		t.Fatalf("after reset: %v", err)
	}

	var disabled *LoginThrottle
	if err := disabled.Check(ctx, "a@x.io", ""); err != nil {
		t.Fatalf("nil throttle: %v", err)
	}
}
