package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kestrelhq/authcore/jwt"
	"github.com/kestrelhq/authcore/token"
)

func TestLoginIssuesAuthenticatableTokens(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "correct-password", false)

	tokens := env.login(t, "  Alice@Example.com ", "correct-password")
	if tokens.ID != u.ID || tokens.Email != "alice@example.com" {
		t.Fatalf("unexpected token response: %+v", tokens)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.AccessToken == tokens.RefreshToken {
		t.Fatal("expected distinct access and refresh tokens")
	}

	p, err := env.engine.Authenticate(context.Background(), "Bearer "+tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate access: %v", err)
	}
	if p.UserID != u.ID || p.Kind != jwt.KindAccess || p.SessionID == "" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := env.engine.Authenticate(context.Background(), tokens.RefreshToken); err == nil {
		t.Fatal("expected refresh token to be rejected as access token")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice@example.com", "correct-password", false)
	ctx := context.Background()

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Email: "alice@example.com", Password: "wrong-password"}},
		{"unknown email", Credentials{Email: "nobody@example.com", Password: "correct-password"}},
		{"no secret", Credentials{Email: "alice@example.com"}},
		{"no email", Credentials{Password: "correct-password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.engine.Login(ctx, tt.creds)
			if res != nil {
				t.Fatalf("expected no result, got %+v", res)
			}
			requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected errors.Is ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLoginInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "bob@example.com", "correct-password", false)
	if err := env.users.SetActive(context.Background(), u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := env.engine.Login(context.Background(), Credentials{Email: "bob@example.com", Password: "correct-password"})
	requireKind(t, err, KindUnauthorized, MsgUserNotActive)
}

func TestLoginTwoFactorFlow(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "carol@example.com", "correct-password", true)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, Credentials{Email: "carol@example.com", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Message != MsgOTPSent || res.Tokens != nil {
		t.Fatalf("expected otp_sent without tokens, got %+v", res)
	}

	mail := env.mailer.last(t, MailLoginOTP)
	if mail.To != u.Email || len(mail.Code) != 4 {
		t.Fatalf("unexpected otp mail: %+v", mail)
	}

	wrong := "0000"
	if mail.Code == wrong {
		wrong = "1111"
	}
	_, err = env.engine.VerifyOTP(ctx, u.Email, wrong, token.FlowLogin)
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)

	verified, err := env.engine.VerifyOTP(ctx, u.Email, mail.Code, token.FlowLogin)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if verified.Tokens == nil || verified.Tokens.ID != u.ID {
		t.Fatalf("expected tokens after otp, got %+v", verified)
	}

	_, err = env.engine.VerifyOTP(ctx, u.Email, mail.Code, token.FlowLogin)
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)
}

func TestVerifyOTPUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.VerifyOTP(context.Background(), "ghost@example.com", "1234", token.FlowLogin)
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)
}

func TestOTPLockoutBlocksCorrectCode(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "dave@example.com", "correct-password", true)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, Credentials{Email: u.Email, Password: "correct-password"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := env.mailer.last(t, MailLoginOTP).Code
	wrong := "9999"
	if code == wrong {
		wrong = "8888"
	}

	for i := 0; i < 5; i++ {
		_, err := env.engine.VerifyOTP(ctx, u.Email, wrong, token.FlowLogin)
		requireKind(t, err, KindUnauthorized, MsgInvalidOTP)
	}

	_, err := env.engine.VerifyOTP(ctx, u.Email, code, token.FlowLogin)
	requireKind(t, err, KindForbidden, MsgTooManyAttempts)
	var e *Error
	if !errors.As(err, &e) || len(e.Args) != 1 || e.Args[0] != 15 {
		t.Fatalf("expected 15 minute lockout arg, got %+v", e)
	}

	env.mr.FastForward(16 * time.Minute)
	if _, err := env.engine.VerifyOTP(ctx, u.Email, code, token.FlowLogin); err != nil {
		t.Fatalf("expected code to verify after lockout window, got %v", err)
	}
}

func TestOTPExpired(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "erin@example.com", "correct-password", true)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, Credentials{Email: u.Email, Password: "correct-password"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := env.mailer.last(t, MailLoginOTP).Code

	env.clock.Advance(11 * time.Minute)
	_, err := env.engine.VerifyOTP(ctx, u.Email, code, token.FlowLogin)
	requireKind(t, err, KindUnauthorized, MsgOTPExpired)

	_, err = env.engine.VerifyOTP(ctx, u.Email, code, token.FlowLogin)
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)
}

func TestLoginWithoutPasswordMailsSetPasswordLink(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "frank@example.com", "", false)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, Credentials{Email: u.Email, Password: "anything-at-all"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Message != MsgSetPasswordEmailSent || res.Tokens != nil {
		t.Fatalf("expected set_password_email_sent, got %+v", res)
	}

	mail := env.mailer.last(t, MailSetPassword)
	if !strings.HasPrefix(mail.Link, "https://app.example.test/set-password/") {
		t.Fatalf("unexpected link %q", mail.Link)
	}

	msg, err := env.engine.SetPassword(ctx, linkToken(t, mail.Link), "brand-new-password")
	if err != nil {
		t.Fatalf("set password: %v", err)
	}
	if msg.Message != MsgPasswordSet {
		t.Fatalf("unexpected message %q", msg.Message)
	}
	env.login(t, u.Email, "brand-new-password")
}

func TestSocialLoginCreatesAndLinksUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, Credentials{
		Email:          "grace@example.com",
		SocialProvider: ProviderGoogle,
		SocialID:       "google-123",
		Name:           "Grace",
	})
	if err != nil {
		t.Fatalf("social signup: %v", err)
	}
	if res.Tokens == nil {
		t.Fatalf("expected tokens, got %+v", res)
	}
	created := env.users.get(res.Tokens.ID)
	if !created.Active || created.GoogleID != "google-123" || created.Name != "Grace" {
		t.Fatalf("unexpected created user: %+v", created)
	}

	_, err = env.engine.Login(ctx, Credentials{Email: "grace@example.com", SocialProvider: ProviderGoogle, SocialID: "google-999"})
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)

	existing := env.addUser(t, "heidi@example.com", "correct-password", true)
	res, err = env.engine.Login(ctx, Credentials{Email: existing.Email, SocialProvider: ProviderFacebook, SocialID: "fb-1"})
	if err != nil {
		t.Fatalf("social login for existing user: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("social logins skip the second factor")
	}
	if got := env.users.get(existing.ID).FacebookID; got != "fb-1" {
		t.Fatalf("expected facebook id linked, got %q", got)
	}
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.Security.EnableLoginThrottle = true
		cfg.Security.MaxLoginAttempts = 2
	})
	env.addUser(t, "ivan@example.com", "correct-password", false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.engine.Login(ctx, Credentials{Email: "ivan@example.com", Password: "wrong-password"})
		requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
	}
	_, err := env.engine.Login(ctx, Credentials{Email: "ivan@example.com", Password: "correct-password"})
	requireKind(t, err, KindForbidden, MsgLoginRateLimited)

	env.mr.FastForward(16 * time.Minute)
	env.login(t, "ivan@example.com", "correct-password")
}

func TestMailFailureDoesNotFailLogin(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")
	u := env.addUser(t, "judy@example.com", "correct-password", true)

	res, err := env.engine.Login(context.Background(), Credentials{Email: u.Email, Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Message != MsgOTPSent {
		t.Fatalf("unexpected result %+v", res)
	}
	if env.mailer.count() != 1 {
		t.Fatalf("expected one delivery attempt, got %d", env.mailer.count())
	}
}

func TestSocialLinkOfVanishedUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "kim@example.com", "correct-password", false)
	env.users.linkErr = fmt.Errorf("user %q: %w", u.ID, ErrUserNotFound)

	res, err := env.engine.Login(context.Background(), Credentials{Email: u.Email, SocialProvider: ProviderGoogle, SocialID: "google-7"})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
}
