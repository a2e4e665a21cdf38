package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrelhq/authcore/internal"
	"github.com/kestrelhq/authcore/internal/audit"
	"github.com/kestrelhq/authcore/internal/limiters"
	"github.com/kestrelhq/authcore/otp"
	"github.com/kestrelhq/authcore/password"
	"github.com/kestrelhq/authcore/permission"
	"github.com/kestrelhq/authcore/session"
	"github.com/kestrelhq/authcore/token"
)

// Engine runs the authentication flows. Build one with [New].
//
// Engine is immutable after Build and safe for concurrent use.
type Engine struct {
	config    Config
	users     UserStore
	tokens    token.Store
	mailer    Mailer
	logger    *slog.Logger
	clock     Clock
	passwords *password.Argon2
	sessions  *session.Manager
	otps      *otp.Manager
	resolver  *permission.Resolver
	throttle  *limiters.LoginThrottle
	audit     *audit.Dispatcher
	metrics   *Metrics
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Close()
	for typ, n := range e.audit.DroppedByType() {
		e.logger.Warn("audit events dropped", "type", typ, "count", n)
	}
}

// AuditDropped reports how many audit events were discarded on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// finish converts err into a taxonomy error and logs anything unhandled.
func (e *Engine) finish(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	out := boundary(err)
	var te *Error
	if errors.As(out, &te) && te.Internal() {
		e.logger.ErrorContext(ctx, "operation failed", "op", op, "error", err)
	}
	return out
}

// send delivers m without failing the caller.
func (e *Engine) send(ctx context.Context, m Mail) {
	if err := e.mailer.Send(ctx, m); err != nil {
		e.logger.WarnContext(ctx, "mail delivery failed", "kind", string(m.Kind), "error", err)
	}
}

func (e *Engine) link(path, raw string) string {
	return strings.TrimRight(e.config.Links.BaseURL, "/") + "/" + path + "/" + raw
}

func (e *Engine) findUserByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, newError(KindNotFound, MsgUserNotFound, nil)
	}
	return e.users.FindByEmail(ctx, email)
}

// issueLink mints a single-use link token for the user, superseding any
// previous one of the same purpose.
func (e *Engine) issueLink(ctx context.Context, userID string, purpose token.Type, ttl time.Duration) (string, error) {
	raw, err := internal.NewLinkToken()
	if err != nil {
		return "", err
	}
	now := e.now()
	rec := token.NewRecord(userID, token.Link{Purpose: purpose, Raw: raw}, "", now, now.Add(ttl))
	if err := e.tokens.Create(ctx, rec); err != nil {
		return "", err
	}
	return raw, nil
}

// consumeLink deletes the live link token raw of the given purpose and
// returns its record. Of two concurrent consumers only one succeeds.
func (e *Engine) consumeLink(ctx context.Context, raw string, purpose token.Type) (token.Record, error) {
	if raw == "" {
		return token.Record{}, newError(KindUnauthorized, MsgTokenInvalid, nil)
	}
	rec, err := e.tokens.Find(ctx, token.Criteria{Type: purpose, Value: raw})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return token.Record{}, newError(KindUnauthorized, MsgTokenInvalid, err)
		}
		return token.Record{}, err
	}
	removed, err := e.tokens.Delete(ctx, rec.ID)
	if err != nil {
		return token.Record{}, err
	}
	if !removed {
		return token.Record{}, newError(KindUnauthorized, MsgTokenInvalid, nil)
	}
	if rec.Expired(e.now()) {
		return token.Record{}, newError(KindUnauthorized, MsgTokenExpired, nil)
	}
	return rec, nil
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return newError(ErrPasswordPolicy.Kind, ErrPasswordPolicy.Message, nil, e.config.Password.MinLength)
	}
	return nil
}

// storePassword hashes pw under a fresh salt and revokes every token of the
// user, signing out all sessions.
func (e *Engine) storePassword(ctx context.Context, userID, pw string) error {
	salt, err := e.passwords.NewSalt()
	if err != nil {
		return err
	}
	hash, err := e.passwords.Hash(pw, salt)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, userID, hash, salt); err != nil {
		return err
	}
	_, err = e.sessions.RevokeAllForUser(ctx, userID)
	return err
}

func sessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrExpired):
		return newError(KindUnauthorized, MsgTokenExpired, err)
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrRevoked),
		errors.Is(err, session.ErrDigestMismatch):
		return newError(KindUnauthorized, MsgTokenInvalid, err)
	default:
		return err
	}
}

func otpError(err error) error {
	var locked *otp.LockedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &locked):
		return newError(KindForbidden, MsgTooManyAttempts, err, locked.Minutes())
	case errors.Is(err, otp.ErrExpired):
		return newError(KindUnauthorized, MsgOTPExpired, err)
	case errors.Is(err, otp.ErrInvalid):
		return newError(KindUnauthorized, MsgInvalidOTP, err)
	default:
		return err
	}
}

func tokenResponse(u *User, pair session.Pair) *TokenResponse {
	return &TokenResponse{
		ID:           u.ID,
		Email:        u.Email,
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
	}
}
