package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kestrelhq/authcore/internal"
	"github.com/kestrelhq/authcore/token"
)

var (
	// ErrInvalid is returned for a wrong or absent code.
	ErrInvalid = errors.New("invalid otp")
	// ErrExpired is returned for a matching code past its expiry. The code
	// is deleted.
	ErrExpired = errors.New("otp expired")
	// ErrLocked is matched by every *LockedError.
	ErrLocked = errors.New("too many otp attempts")
)

// LockedError is returned while the attempt counter is at its ceiling, even
// for a correct code.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrLocked, e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Minutes rounds RetryAfter up to whole minutes.
func (e *LockedError) Minutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// Attempts counts failed verifications. It is implemented by the Redis
// fixed-window counter in internal/limiters.
type Attempts interface {
	Count(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Config holds OTP settings.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// Manager issues and verifies one-time codes.
type Manager struct {
	store    token.Store
	attempts Attempts
	config   Config
	now      func() time.Time
}

// NewManager returns a manager. now defaults to time.Now.
func NewManager(store token.Store, attempts Attempts, cfg Config, now func() time.Time) (*Manager, error) {
	if store == nil || attempts == nil {
		return nil, errors.New("otp: store and attempt counter are required")
	}
	if cfg.Digits < 1 || cfg.Digits > 10 {
		return nil, errors.New("otp: digits must be between 1 and 10")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("otp: ttl must be > 0")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("otp: max attempts must be >= 1")
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, attempts: attempts, config: cfg, now: now}, nil
}

// AttemptKey is the counter key for a user and flow.
func AttemptKey(userID string, flow token.Flow) string {
	return userID + "-" + string(flow) + "-invalid-attempts"
}

// Issue mints a code for flow and stores it, superseding any code the user
// already had for that flow.
func (m *Manager) Issue(ctx context.Context, userID string, flow token.Flow) (string, error) {
	if _, err := flow.Type(); err != nil {
		return "", err
	}
	code, err := internal.NewOTP(m.config.Digits)
	if err != nil {
		return "", err
	}
	now := m.now()
	rec := token.NewRecord(userID, token.OTP{Flow: flow, Code: code}, "", now, now.Add(m.config.TTL))
	if err := m.store.Create(ctx, rec); err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes submitted if it is the user's live code for flow.
func (m *Manager) Verify(ctx context.Context, userID, submitted string, flow token.Flow) error {
	rec, err := m.check(ctx, userID, submitted, flow)
	if err != nil {
		return err
	}
	removed, err := m.store.Delete(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !removed {
		// Consumed by a concurrent caller.
		return ErrInvalid
	}
	return m.attempts.Reset(ctx, AttemptKey(userID, flow))
}

// Check validates submitted like Verify but leaves the code in place.
func (m *Manager) Check(ctx context.Context, userID, submitted string, flow token.Flow) error {
	_, err := m.check(ctx, userID, submitted, flow)
	return err
}

func (m *Manager) check(ctx context.Context, userID, submitted string, flow token.Flow) (token.Record, error) {
	typ, err := flow.Type()
	if err != nil {
		return token.Record{}, err
	}
	key := AttemptKey(userID, flow)

	n, err := m.attempts.Count(ctx, key)
	if err != nil {
		return token.Record{}, err
	}
	if n >= int64(m.config.MaxAttempts) {
		retry, err := m.attempts.TTL(ctx, key)
		if err != nil {
			return token.Record{}, err
		}
		return token.Record{}, &LockedError{RetryAfter: retry}
	}

	rec, err := m.store.Find(ctx, token.Criteria{UserID: userID, Type: typ})
	switch {
	case errors.Is(err, token.ErrNotFound):
		return token.Record{}, m.fail(ctx, key)
	case err != nil:
		return token.Record{}, err
	}
	if subtle.ConstantTimeCompare([]byte(rec.Value), []byte(submitted)) != 1 {
		return token.Record{}, m.fail(ctx, key)
	}

	if rec.Expired(m.now()) {
		if _, err := m.store.Delete(ctx, rec.ID); err != nil {
			return token.Record{}, err
		}
		return token.Record{}, ErrExpired
	}
	return rec, nil
}

func (m *Manager) fail(ctx context.Context, key string) error {
	if _, err := m.attempts.Incr(ctx, key); err != nil {
		return err
	}
	return ErrInvalid
}
