package authcore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestrelhq/authcore/token"
)

func TestForgotAndResetPasswordOnce(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()
	session := env.login(t, u.Email, "old-password")

	msg, err := env.engine.ForgotPassword(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if msg.Message != MsgResetEmailSent {
		t.Fatalf("unexpected message %q", msg.Message)
	}
	mail := env.mailer.last(t, MailResetPassword)
	if !strings.HasPrefix(mail.Link, "https://app.example.test/reset-password/") {
		t.Fatalf("unexpected link %q", mail.Link)
	}
	raw := linkToken(t, mail.Link)

	msg, err = env.engine.ResetPassword(ctx, raw, "new-password")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if msg.Message != MsgPasswordReset {
		t.Fatalf("unexpected message %q", msg.Message)
	}

	_, err = env.engine.ResetPassword(ctx, raw, "another-password")
	requireKind(t, err, KindUnauthorized, MsgTokenInvalid)

	_, err = env.engine.Authenticate(ctx, session.AccessToken)
	requireKind(t, err, KindUnauthorized, MsgTokenInvalid)

	_, err = env.engine.Login(ctx, Credentials{Email: u.Email, Password: "old-password"})
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
	env.login(t, u.Email, "new-password")

	if updated := env.users.get(u.ID); updated.Salt == u.Salt {
		t.Fatal("expected a fresh salt")
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ForgotPassword(context.Background(), "ghost@example.com")
	requireKind(t, err, KindNotFound, MsgUserNotFound)
	if env.mailer.count() != 0 {
		t.Fatal("no mail expected")
	}
}

func TestForgotPasswordSupersedesPreviousLink(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()

	if _, err := env.engine.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	first := linkToken(t, env.mailer.last(t, MailResetPassword).Link)
	if _, err := env.engine.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	second := linkToken(t, env.mailer.last(t, MailResetPassword).Link)

	_, err := env.engine.ResetPassword(ctx, first, "new-password")
	requireKind(t, err, KindUnauthorized, MsgTokenInvalid)
	if _, err := env.engine.ResetPassword(ctx, second, "new-password"); err != nil {
		t.Fatalf("reset with newest link: %v", err)
	}
}

func TestResetPasswordExpiredLink(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()

	if _, err := env.engine.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	raw := linkToken(t, env.mailer.last(t, MailResetPassword).Link)

	env.clock.Advance(31 * time.Minute)
	_, err := env.engine.ResetPassword(ctx, raw, "new-password")
	requireKind(t, err, KindUnauthorized, MsgTokenExpired)
}

func TestResetPasswordPolicy(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	})
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()

	if _, err := env.engine.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	raw := linkToken(t, env.mailer.last(t, MailResetPassword).Link)

	_, err := env.engine.ResetPassword(ctx, raw, "short")
	requireKind(t, err, KindUnhandled, MsgPasswordPolicy)
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Internal() || len(e.Args) != 1 || e.Args[0] != 8 {
		t.Fatalf("expected a client-facing policy error with the minimum length, got %+v", e)
	}
	if strings.Contains(logs.String(), "level=ERROR") {
		t.Fatalf("policy violations must not be logged as failures:\n%s", logs.String())
	}

	if _, err := env.engine.ResetPassword(ctx, raw, "long-enough"); err != nil {
		t.Fatalf("policy failure must not consume the link: %v", err)
	}
}

func TestResetPasswordConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()

	if _, err := env.engine.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	raw := linkToken(t, env.mailer.last(t, MailResetPassword).Link)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := env.engine.ResetPassword(ctx, raw, "new-password"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful reset, got %d", wins)
	}
}

func TestForgotPasswordOTPFlow(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", false)
	ctx := context.Background()

	msg, err := env.engine.ForgotPasswordOTP(ctx, u.Email)
	if err != nil {
		t.Fatalf("forgot password otp: %v", err)
	}
	if msg.Message != MsgResetEmailSent {
		t.Fatalf("unexpected message %q", msg.Message)
	}
	code := env.mailer.last(t, MailForgotPasswordOTP).Code

	res, err := env.engine.VerifyOTP(ctx, u.Email, code, token.FlowForgotPassword)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if res.Message != MsgOTPVerified || res.Tokens != nil {
		t.Fatalf("unexpected verify result %+v", res)
	}

	if _, err := env.engine.ResetPasswordOTP(ctx, u.Email, code, "new-password"); err != nil {
		t.Fatalf("reset with otp: %v", err)
	}
	_, err = env.engine.ResetPasswordOTP(ctx, u.Email, code, "newer-password")
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)

	env.login(t, u.Email, "new-password")
}

func TestLoginOTPCannotResetPassword(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "old-password", true)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, Credentials{Email: u.Email, Password: "old-password"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := env.mailer.last(t, MailLoginOTP).Code

	_, err := env.engine.ResetPasswordOTP(ctx, u.Email, code, "new-password")
	requireKind(t, err, KindUnauthorized, MsgInvalidOTP)
}

func TestInviteAndAccept(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "newbie@example.com", "", false)
	ctx := context.Background()
	if err := env.users.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	msg, err := env.engine.Invite(ctx, u.ID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if msg.Message != MsgInviteSent {
		t.Fatalf("unexpected message %q", msg.Message)
	}
	mail := env.mailer.last(t, MailInvite)
	if !strings.HasPrefix(mail.Link, "https://app.example.test/accept-invite/") {
		t.Fatalf("unexpected link %q", mail.Link)
	}

	if _, err := env.engine.AcceptInvite(ctx, linkToken(t, mail.Link), "first-password"); err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	if !env.users.get(u.ID).Active {
		t.Fatal("expected user to be active")
	}
	env.login(t, u.Email, "first-password")

	_, err = env.engine.Invite(ctx, "missing")
	requireKind(t, err, KindNotFound, MsgUserNotFound)
}

func TestBlockAndUnblock(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice@example.com", "correct-password", false)
	ctx := context.Background()
	session := env.login(t, u.Email, "correct-password")

	msg, err := env.engine.Block(ctx, u.ID)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if msg.Message != MsgUserBlocked {
		t.Fatalf("unexpected message %q", msg.Message)
	}
	_, err = env.engine.Authenticate(ctx, session.AccessToken)
	requireKind(t, err, KindUnauthorized, MsgTokenInvalid)
	_, err = env.engine.Login(ctx, Credentials{Email: u.Email, Password: "correct-password"})
	requireKind(t, err, KindUnauthorized, MsgUserNotActive)

	mail := env.mailer.last(t, MailUnblock)
	if !strings.HasPrefix(mail.Link, "https://app.example.test/unblock/") {
		t.Fatalf("unexpected link %q", mail.Link)
	}
	if _, err := env.engine.Unblock(ctx, linkToken(t, mail.Link)); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	env.login(t, u.Email, "correct-password")

	_, err = env.engine.Unblock(ctx, linkToken(t, mail.Link))
	requireKind(t, err, KindUnauthorized, MsgTokenInvalid)
}
