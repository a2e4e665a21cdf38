package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/kestrelhq/authcore/jwt"
	"github.com/kestrelhq/authcore/session"
	"github.com/kestrelhq/authcore/token"
)

// Authenticate validates an access token and returns its principal. The
// token must be correctly signed, unexpired and still live in the store.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (session.Principal, error) {
	p, err := e.sessions.Authenticate(ctx, bearerValue(accessToken), jwt.KindAccess)
	return p, e.finish(ctx, "authenticate", sessionError(err))
}

// AuthenticateRefresh validates a refresh token the same way.
func (e *Engine) AuthenticateRefresh(ctx context.Context, refreshToken string) (session.Principal, error) {
	p, err := e.sessions.Authenticate(ctx, bearerValue(refreshToken), jwt.KindRefresh)
	return p, e.finish(ctx, "authenticate_refresh", sessionError(err))
}

// Refresh replaces the session p was authenticated with. p must come from
// AuthenticateRefresh. With revoke-on-rotate enabled, a refresh token is
// good for one rotation only.
func (e *Engine) Refresh(ctx context.Context, p session.Principal) (*TokenResponse, error) {
	res, sid, err := e.refresh(ctx, p)
	if err == nil {
		e.metrics.sessionEvent("refresh")
	}
	e.emitAudit(ctx, auditEventRefresh, p.UserID, sid, err, nil)
	return res, e.finish(ctx, "refresh", err)
}

func (e *Engine) refresh(ctx context.Context, p session.Principal) (*TokenResponse, string, error) {
	if p.Kind != jwt.KindRefresh || p.UserID == "" || p.SessionID == "" {
		return nil, p.SessionID, ErrTokenInvalid
	}
	user, err := e.users.FindByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, p.SessionID, newError(KindUnauthorized, MsgTokenInvalid, err)
		}
		return nil, p.SessionID, err
	}
	if !user.Active {
		return nil, p.SessionID, ErrUserNotActive
	}
	pair, err := e.sessions.Rotate(ctx, p)
	if err != nil {
		return nil, p.SessionID, sessionError(err)
	}
	return tokenResponse(user, pair), pair.SessionID, nil
}

// Logout revokes the session the presented access or refresh token belongs
// to. A refresh token must also match the session's stored digest.
func (e *Engine) Logout(ctx context.Context, presented string) (*MessageResponse, error) {
	rec, err := e.logout(ctx, bearerValue(presented))
	if err == nil {
		e.metrics.sessionEvent("logout")
	}
	e.emitAudit(ctx, auditEventLogout, rec.UserID, rec.SessionID, err, nil)
	if err != nil {
		return nil, e.finish(ctx, "logout", err)
	}
	return &MessageResponse{Message: MsgLogoutSuccessful}, nil
}

func (e *Engine) logout(ctx context.Context, presented string) (token.Record, error) {
	if presented == "" {
		return token.Record{}, ErrTokenInvalid
	}
	rec, err := e.sessions.FindLive(ctx, token.Criteria{Value: presented})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return token.Record{}, newError(KindUnauthorized, MsgTokenInvalid, err)
		}
		return token.Record{}, err
	}
	if rec.SessionID == "" || (rec.Type != token.TypeAccess && rec.Type != token.TypeRefresh) {
		return token.Record{}, ErrTokenInvalid
	}
	if rec.Type == token.TypeRefresh {
		if err := e.sessions.VerifyRefreshDigest(ctx, rec.SessionID, presented); err != nil {
			return rec, sessionError(err)
		}
	}
	n, err := e.sessions.RevokeSession(ctx, rec.SessionID)
	if err != nil {
		return rec, err
	}
	if n == 0 {
		return rec, ErrTokenInvalid
	}
	return rec, nil
}

// RevokeAllForUser signs the user out everywhere and drops every pending
// code and link. It returns the number of records removed.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, e.finish(ctx, "revoke_all", newError(KindNotFound, MsgUserNotFound, nil))
	}
	n, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err == nil {
		e.metrics.sessionEvent("revoke_all")
	}
	e.emitAudit(ctx, auditEventLogoutAll, userID, "", err, func() map[string]string {
		return map[string]string{"removed": strconv.Itoa(n)}
	})
	return n, e.finish(ctx, "revoke_all", err)
}

// bearerValue strips an optional "Bearer " prefix.
func bearerValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
