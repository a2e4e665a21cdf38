package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the counter backend is unreachable.
var ErrUnavailable = errors.New("limiter backend unavailable")

// Counter is a fixed-window attempt counter. The window opens on the first
// increment and the key expires when it closes.
type Counter struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
}

// NewCounter returns a counter whose keys live under prefix.
func NewCounter(redisClient redis.UniversalClient, prefix string, window time.Duration) *Counter {
	return &Counter{redis: redisClient, prefix: prefix, window: window}
}

// Window returns the counter's window length.
func (c *Counter) Window() time.Duration {
	return c.window
}

func (c *Counter) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Count returns the current value of k, zero when absent.
func (c *Counter) Count(ctx context.Context, k string) (int64, error) {
	n, err := c.redis.Get(ctx, c.key(k)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Incr adds one to k and returns the new value.
func (c *Counter) Incr(ctx context.Context, k string) (int64, error) {
	key := c.key(k)
	n, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 1 && c.window > 0 {
		if err := c.redis.Expire(ctx, key, c.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return n, nil
}

// Reset deletes k.
func (c *Counter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// TTL returns how long until k's window closes. A key that is absent or has
// no expiry reports the full window.
func (c *Counter) TTL(ctx context.Context, k string) (time.Duration, error) {
	d, err := c.redis.TTL(ctx, c.key(k)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d <= 0 {
		return c.window, nil
	}
	return d, nil
}
