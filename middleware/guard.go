package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kestrelhq/authcore"
	"github.com/kestrelhq/authcore/session"
)

// Authenticator validates presented tokens. *authcore.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (session.Principal, error)
	AuthenticateRefresh(ctx context.Context, refreshToken string) (session.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard] or
// [RequireRefresh].
func PrincipalFromContext(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(session.Principal)
	return p, ok
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard requires a live access token in the Authorization header.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, func(ctx context.Context, raw string) (session.Principal, error) {
		return auth.Authenticate(ctx, raw)
	})
}

// RequireRefresh requires a live refresh token in the Authorization header.
// Mount it on the refresh endpoint only.
func RequireRefresh(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, func(ctx context.Context, raw string) (session.Principal, error) {
		return auth.AuthenticateRefresh(ctx, raw)
	})
}

func guard(auth Authenticator, check func(context.Context, string) (session.Principal, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}

			ctx := authcore.WithClientIP(r.Context(), clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			p, err := check(ctx, token)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// ClientInfo attaches the caller's IP and User-Agent to the request
// context. Guarded routes get this from [Guard]; mount it on public routes
// such as login so the throttle and audit records see the caller.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), clientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type errorResponse struct {
	Message string `json:"message"`
	Args    []any  `json:"args,omitempty"`
}

// WriteError renders err as {"message": key, "args": [...]} with the mapped
// status. Internal errors never expose their cause.
func WriteError(w http.ResponseWriter, err error) {
	body := errorResponse{Message: authcore.MsgUnhandled}
	var e *authcore.Error
	if errors.As(err, &e) && !e.Internal() {
		body.Message = e.Message
		if body.Message == "" {
			body.Message = e.Kind.String()
		}
		body.Args = e.Args
	}
	WriteJSON(w, authcore.HTTPStatus(err), body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// clientIP uses RemoteAddr only. Deployments behind a proxy rewrite it
// before this middleware runs.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
