package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelhq/authcore"
	"github.com/kestrelhq/authcore/middleware"
	"github.com/kestrelhq/authcore/permission"
	"github.com/kestrelhq/authcore/session"
	"github.com/kestrelhq/authcore/token"
)

// authService is the engine surface the API exposes. *authcore.Engine
// implements it.
type authService interface {
	middleware.Authenticator
	middleware.Authorizer
	Login(ctx context.Context, creds authcore.Credentials) (*authcore.LoginResult, error)
	VerifyOTP(ctx context.Context, email, code string, flow token.Flow) (*authcore.LoginResult, error)
	Refresh(ctx context.Context, p session.Principal) (*authcore.TokenResponse, error)
	Logout(ctx context.Context, presented string) (*authcore.MessageResponse, error)
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	ForgotPassword(ctx context.Context, email string) (*authcore.MessageResponse, error)
	ForgotPasswordOTP(ctx context.Context, email string) (*authcore.MessageResponse, error)
	ResetPassword(ctx context.Context, raw, newPassword string) (*authcore.MessageResponse, error)
	ResetPasswordOTP(ctx context.Context, email, code, newPassword string) (*authcore.MessageResponse, error)
	SetPassword(ctx context.Context, raw, newPassword string) (*authcore.MessageResponse, error)
	Invite(ctx context.Context, userID string) (*authcore.MessageResponse, error)
	AcceptInvite(ctx context.Context, raw, newPassword string) (*authcore.MessageResponse, error)
	Block(ctx context.Context, userID string) (*authcore.MessageResponse, error)
	Unblock(ctx context.Context, raw string) (*authcore.MessageResponse, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*authcore.User, error)
}

type api struct {
	auth   authService
	users  userFinder
	logger *slog.Logger
}

type otpRequest struct {
	Email string     `json:"email"`
	OTP   string     `json:"otp"`
	Flow  token.Flow `json:"flow"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type linkRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type otpPasswordRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

type revokeResponse struct {
	Revoked int `json:"revoked"`
}

// newRouter mounts the API. metrics may be nil.
func newRouter(auth authService, users userFinder, metrics http.Handler, metricsPath string, logger *slog.Logger) http.Handler {
	a := &api{auth: auth, users: users, logger: logger}
	guard := middleware.Guard(auth)
	owner := func(r *http.Request) string { return r.PathValue("id") }
	require := func(perm string, h http.HandlerFunc) http.Handler {
		return guard(middleware.RequirePermissions(auth, owner, perm)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /login", middleware.ClientInfo(http.HandlerFunc(a.login)))
	mux.Handle("POST /otp/verify", middleware.ClientInfo(http.HandlerFunc(a.verifyOTP)))
	mux.Handle("POST /token/refresh", middleware.RequireRefresh(auth)(http.HandlerFunc(a.refresh)))
	mux.Handle("POST /logout", middleware.ClientInfo(http.HandlerFunc(a.logout)))
	mux.Handle("POST /password/forgot", middleware.ClientInfo(http.HandlerFunc(a.forgotPassword)))
	mux.Handle("POST /password/forgot-otp", middleware.ClientInfo(http.HandlerFunc(a.forgotPasswordOTP)))
	mux.Handle("POST /password/reset", middleware.ClientInfo(http.HandlerFunc(a.resetPassword)))
	mux.Handle("POST /password/reset-otp", middleware.ClientInfo(http.HandlerFunc(a.resetPasswordOTP)))
	mux.Handle("POST /password/set", middleware.ClientInfo(http.HandlerFunc(a.setPassword)))
	mux.Handle("POST /invite/accept", middleware.ClientInfo(http.HandlerFunc(a.acceptInvite)))
	mux.Handle("POST /unblock", middleware.ClientInfo(http.HandlerFunc(a.unblock)))

	mux.Handle("GET /me", guard(http.HandlerFunc(a.me)))
	mux.Handle("POST /users/{id}/invite", require(permission.CreateUser, a.invite))
	mux.Handle("POST /users/{id}/block", require(permission.UpdateUser, a.block))
	mux.Handle("DELETE /users/{id}/sessions", require(permission.UpdateUser, a.revokeSessions))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, authcore.MessageResponse{Message: "ok"})
	})
	if metrics != nil {
		mux.Handle("GET "+metricsPath, metrics)
	}
	return mux
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var creds authcore.Credentials
	if !a.decode(w, r, &creds) {
		return
	}
	res, err := a.auth.Login(r.Context(), creds)
	a.respond(w, res, err)
}

func (a *api) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Flow == "" {
		req.Flow = token.FlowLogin
	}
	res, err := a.auth.VerifyOTP(r.Context(), req.Email, req.OTP, req.Flow)
	a.respond(w, res, err)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	res, err := a.auth.Refresh(r.Context(), p)
	a.respond(w, res, err)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	res, err := a.auth.Logout(r.Context(), r.Header.Get("Authorization"))
	a.respond(w, res, err)
}

func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.ForgotPassword(r.Context(), req.Email)
	a.respond(w, res, err)
}

func (a *api) forgotPasswordOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.ForgotPasswordOTP(r.Context(), req.Email)
	a.respond(w, res, err)
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.ResetPassword(r.Context(), req.Token, req.Password)
	a.respond(w, res, err)
}

func (a *api) resetPasswordOTP(w http.ResponseWriter, r *http.Request) {
	var req otpPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.ResetPasswordOTP(r.Context(), req.Email, req.OTP, req.Password)
	a.respond(w, res, err)
}

func (a *api) setPassword(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.SetPassword(r.Context(), req.Token, req.Password)
	a.respond(w, res, err)
}

func (a *api) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.AcceptInvite(r.Context(), req.Token, req.Password)
	a.respond(w, res, err)
}

func (a *api) unblock(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.auth.Unblock(r.Context(), req.Token)
	a.respond(w, res, err)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	u, err := a.users.FindByID(r.Context(), p.UserID)
	if err != nil {
		a.respond(w, nil, err)
		return
	}
	res, err := a.auth.ResolvePermissions(r.Context(), *u)
	a.respond(w, res, err)
}

func (a *api) invite(w http.ResponseWriter, r *http.Request) {
	res, err := a.auth.Invite(r.Context(), r.PathValue("id"))
	a.respond(w, res, err)
}

func (a *api) block(w http.ResponseWriter, r *http.Request) {
	res, err := a.auth.Block(r.Context(), r.PathValue("id"))
	a.respond(w, res, err)
}

func (a *api) revokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := a.auth.RevokeAllForUser(r.Context(), r.PathValue("id"))
	a.respond(w, revokeResponse{Revoked: n}, err)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, authcore.MessageResponse{Message: "invalid_body"})
		return false
	}
	return true
}

func (a *api) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		var e *authcore.Error
		if !errors.As(err, &e) || e.Internal() {
			a.logger.Error("request failed", "error", err)
		}
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, v)
}
