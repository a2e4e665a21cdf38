package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/kestrelhq/authcore/internal/limiters"
	"github.com/kestrelhq/authcore/token"
)

// Login authenticates creds.
//
// The result carries tokens, or only a message when the user has two-factor
// enabled (an OTP was mailed) or logged in with a password while having
// none (a set-password link was mailed). Social logins for an unknown email
// create an active account. Social ids must be verified with the provider
// before they reach Login.
func (e *Engine) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	res, userID, err := e.login(ctx, creds)
	if KindOf(err) == KindNotFound {
		// The user vanished mid-login, for example while linking a social id.
		err = newError(KindUnauthorized, MsgInvalidCredentials, err)
	}
	e.metrics.loginResult(resultLabel(err))
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, userID, "", err, nil)
	}
	return res, e.finish(ctx, "login", err)
}

func (e *Engine) login(ctx context.Context, creds Credentials) (*LoginResult, string, error) {
	email := creds.normalizedEmail()
	if email == "" || (creds.Password == "" && creds.SocialID == "") {
		return nil, "", ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if err := e.throttle.Check(ctx, email, ip); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			retry := e.throttle.RetryAfter(ctx, email)
			return nil, "", newError(KindForbidden, MsgLoginRateLimited, err, minutesCeil(retry))
		}
		return nil, "", err
	}

	user, err := e.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		if creds.SocialID == "" {
			e.loginFailed(ctx, email, ip)
			return nil, "", newError(KindUnauthorized, MsgInvalidCredentials, err)
		}
		user, err = e.socialSignup(ctx, creds, email)
		if err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", err
	default:
		if !user.Active {
			return nil, user.ID, ErrUserNotActive
		}
		if creds.Password != "" && !user.HasPassword() {
			res, err := e.requestSetPassword(ctx, user)
			return res, user.ID, err
		}
		if err := e.checkCredentials(ctx, user, creds); err != nil {
			e.loginFailed(ctx, email, ip)
			return nil, user.ID, err
		}
	}

	if err := e.throttle.Reset(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
	}

	if user.TwoFactor && creds.SocialID == "" {
		code, err := e.otps.Issue(ctx, user.ID, token.FlowLogin)
		if err != nil {
			return nil, user.ID, err
		}
		e.send(ctx, Mail{Kind: MailLoginOTP, To: user.Email, Name: user.Name, Language: user.Language, Code: code})
		e.emitAudit(ctx, auditEventLoginOTPSent, user.ID, "", nil, nil)
		return &LoginResult{Message: MsgOTPSent}, user.ID, nil
	}

	pair, err := e.sessions.Start(ctx, user.ID, user.Email)
	if err != nil {
		return nil, user.ID, err
	}
	e.metrics.sessionEvent("start")
	e.emitAudit(ctx, auditEventLoginSuccess, user.ID, pair.SessionID, nil, nil)
	return &LoginResult{Tokens: tokenResponse(user, pair)}, user.ID, nil
}

// checkCredentials verifies every credential present in creds. A social id
// is linked on first use.
func (e *Engine) checkCredentials(ctx context.Context, user *User, creds Credentials) error {
	if creds.Password != "" && !e.passwords.Verify(creds.Password, user.Password, user.Salt) {
		return ErrInvalidCredentials
	}
	if creds.SocialID == "" {
		return nil
	}
	stored := user.SocialID(creds.SocialProvider)
	switch {
	case creds.SocialProvider != ProviderGoogle && creds.SocialProvider != ProviderFacebook:
		return ErrInvalidCredentials
	case stored == "":
		return e.users.LinkSocial(ctx, user.ID, creds.SocialProvider, creds.SocialID)
	case subtle.ConstantTimeCompare([]byte(stored), []byte(creds.SocialID)) != 1:
		return ErrInvalidCredentials
	}
	return nil
}

func (e *Engine) socialSignup(ctx context.Context, creds Credentials, email string) (*User, error) {
	u := &User{Name: creds.Name, Email: email, Active: true}
	switch creds.SocialProvider {
	case ProviderGoogle:
		u.GoogleID = creds.SocialID
	case ProviderFacebook:
		u.FacebookID = creds.SocialID
	default:
		return nil, ErrInvalidCredentials
	}
	if err := e.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, newError(KindDuplicate, MsgEmailExists, err)
		}
		return nil, err
	}
	e.emitAudit(ctx, auditEventSocialSignup, u.ID, "", nil, func() map[string]string {
		return map[string]string{"provider": string(creds.SocialProvider)}
	})
	return u, nil
}

func (e *Engine) requestSetPassword(ctx context.Context, user *User) (*LoginResult, error) {
	raw, err := e.issueLink(ctx, user.ID, token.TypeSetPassword, e.config.Links.SetPasswordTTL)
	if err != nil {
		return nil, err
	}
	e.send(ctx, Mail{Kind: MailSetPassword, To: user.Email, Name: user.Name, Language: user.Language, Link: e.link("set-password", raw)})
	e.emitAudit(ctx, auditEventSetPasswordRequired, user.ID, "", nil, nil)
	return &LoginResult{Message: MsgSetPasswordEmailSent}, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip string) {
	if err := e.throttle.Failure(ctx, email, ip); err != nil {
		e.logger.WarnContext(ctx, "login throttle update failed", "error", err)
	}
}

// VerifyOTP checks a mailed code. The login flow consumes the code and
// returns tokens. The forgot-password flow only confirms the code, which
// stays valid for ResetPasswordOTP.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string, flow token.Flow) (*LoginResult, error) {
	res, userID, err := e.verifyOTP(ctx, email, code, flow)
	e.metrics.otpResult(string(flow), resultLabel(err))
	e.emitAudit(ctx, auditEventOTPVerify, userID, "", err, func() map[string]string {
		return map[string]string{"flow": string(flow)}
	})
	return res, e.finish(ctx, "verify_otp", err)
}

func (e *Engine) verifyOTP(ctx context.Context, email, code string, flow token.Flow) (*LoginResult, string, error) {
	user, err := e.findUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", newError(KindUnauthorized, MsgInvalidOTP, err)
		}
		return nil, "", err
	}
	if !user.Active {
		return nil, user.ID, ErrUserNotActive
	}

	switch flow {
	case token.FlowLogin:
		if err := e.otps.Verify(ctx, user.ID, code, flow); err != nil {
			return nil, user.ID, otpError(err)
		}
		pair, err := e.sessions.Start(ctx, user.ID, user.Email)
		if err != nil {
			return nil, user.ID, err
		}
		e.metrics.sessionEvent("start")
		e.emitAudit(ctx, auditEventLoginSuccess, user.ID, pair.SessionID, nil, nil)
		return &LoginResult{Tokens: tokenResponse(user, pair)}, user.ID, nil
	case token.FlowForgotPassword:
		if err := e.otps.Check(ctx, user.ID, code, flow); err != nil {
			return nil, user.ID, otpError(err)
		}
		return &LoginResult{Message: MsgOTPVerified}, user.ID, nil
	default:
		return nil, user.ID, ErrInvalidOTP
	}
}

func minutesCeil(d time.Duration) int {
	m := int(d / time.Minute)
	if d%time.Minute > 0 {
		m++
	}
	return m
}
