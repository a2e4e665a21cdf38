package limiters

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrRateLimited is returned once an identifier or address exhausts its
// login budget.
var ErrRateLimited = errors.New("rate limited")

// LoginConfig holds login throttle settings.
type LoginConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
	// PerIP also counts failures per client address.
	PerIP bool
}

// LoginThrottle counts failed logins per email and, optionally, per IP.
// A nil *LoginThrottle allows everything.
type LoginThrottle struct {
	counter *Counter
	config  LoginConfig
}

// NewLoginThrottle returns a throttle on counter.
func NewLoginThrottle(counter *Counter, cfg LoginConfig) *LoginThrottle {
	return &LoginThrottle{counter: counter, config: cfg}
}

// Check fails with ErrRateLimited when the budget is spent.
func (l *LoginThrottle) Check(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, k := range l.keys(email, ip) {
		n, err := l.counter.Count(ctx, k)
		if err != nil {
			return err
		}
		if n >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Failure records one failed attempt.
func (l *LoginThrottle) Failure(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, k := range l.keys(email, ip) {
		if _, err := l.counter.Incr(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the email counter after a successful login. Address counters
// keep running.
func (l *LoginThrottle) Reset(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.counter.Reset(ctx, emailKey(email))
}

// RetryAfter reports how long until the email counter's window closes.
func (l *LoginThrottle) RetryAfter(ctx context.Context, email string) time.Duration {
	if l == nil {
		return 0
	}
	d, err := l.counter.TTL(ctx, emailKey(email))
	if err != nil {
		return l.config.Cooldown
	}
	return d
}

func (l *LoginThrottle) keys(email, ip string) []string {
	keys := []string{emailKey(email)}
	if l.config.PerIP && ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

func emailKey(email string) string {
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}
