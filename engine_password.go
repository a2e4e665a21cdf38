package authcore

import (
	"context"
	"errors"

	"github.com/kestrelhq/authcore/token"
)

// ForgotPassword mails a reset link to the user behind email.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	userID, err := e.forgotPassword(ctx, email)
	e.metrics.passwordResult("request_link", resultLabel(err))
	e.emitAudit(ctx, auditEventPasswordResetReq, userID, "", err, func() map[string]string {
		return map[string]string{"method": "link"}
	})
	if err != nil {
		return nil, e.finish(ctx, "forgot_password", err)
	}
	return &MessageResponse{Message: MsgResetEmailSent}, nil
}

// ForgotPasswordOTP mails a reset code to the user behind email.
func (e *Engine) ForgotPasswordOTP(ctx context.Context, email string) (*MessageResponse, error) {
	userID, err := e.forgotPasswordOTP(ctx, email)
	e.metrics.passwordResult("request_otp", resultLabel(err))
	e.emitAudit(ctx, auditEventPasswordResetReq, userID, "", err, func() map[string]string {
		return map[string]string{"method": "otp"}
	})
	if err != nil {
		return nil, e.finish(ctx, "forgot_password_otp", err)
	}
	return &MessageResponse{Message: MsgResetEmailSent}, nil
}

func (e *Engine) forgotPasswordOTP(ctx context.Context, email string) (string, error) {
	user, err := e.findUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	code, err := e.otps.Issue(ctx, user.ID, token.FlowForgotPassword)
	if err != nil {
		return user.ID, err
	}
	e.send(ctx, Mail{Kind: MailForgotPasswordOTP, To: user.Email, Name: user.Name, Language: user.Language, Code: code})
	return user.ID, nil
}

// ResetPassword consumes a reset link token and sets newPassword. Every
// session of the user is revoked.
func (e *Engine) ResetPassword(ctx context.Context, raw, newPassword string) (*MessageResponse, error) {
	userID, err := e.redeemLink(ctx, raw, newPassword, token.TypeForgotPassword)
	e.metrics.passwordResult("reset_link", resultLabel(err))
	e.emitAudit(ctx, auditEventPasswordReset, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "reset_password", err)
	}
	return &MessageResponse{Message: MsgPasswordReset}, nil
}

// SetPassword consumes a set-password link token and sets newPassword.
func (e *Engine) SetPassword(ctx context.Context, raw, newPassword string) (*MessageResponse, error) {
	userID, err := e.redeemLink(ctx, raw, newPassword, token.TypeSetPassword)
	e.metrics.passwordResult("set", resultLabel(err))
	e.emitAudit(ctx, auditEventPasswordSet, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "set_password", err)
	}
	return &MessageResponse{Message: MsgPasswordSet}, nil
}

// ResetPasswordOTP consumes a forgot-password code and sets newPassword.
func (e *Engine) ResetPasswordOTP(ctx context.Context, email, code, newPassword string) (*MessageResponse, error) {
	userID, err := e.resetPasswordOTP(ctx, email, code, newPassword)
	e.metrics.passwordResult("reset_otp", resultLabel(err))
	e.emitAudit(ctx, auditEventPasswordReset, userID, "", err, func() map[string]string {
		return map[string]string{"method": "otp"}
	})
	if err != nil {
		return nil, e.finish(ctx, "reset_password_otp", err)
	}
	return &MessageResponse{Message: MsgPasswordReset}, nil
}

func (e *Engine) resetPasswordOTP(ctx context.Context, email, code, newPassword string) (string, error) {
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return "", err
	}
	user, err := e.findUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	if err := e.otps.Verify(ctx, user.ID, code, token.FlowForgotPassword); err != nil {
		return user.ID, otpError(err)
	}
	return user.ID, e.storePassword(ctx, user.ID, newPassword)
}

// Invite mails an accept-invite link to an existing user.
func (e *Engine) Invite(ctx context.Context, userID string) (*MessageResponse, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err == nil {
		var raw string
		raw, err = e.issueLink(ctx, user.ID, token.TypeInvite, e.config.Links.InviteTTL)
		if err == nil {
			e.send(ctx, Mail{Kind: MailInvite, To: user.Email, Name: user.Name, Language: user.Language, Link: e.link("accept-invite", raw)})
		}
	}
	e.emitAudit(ctx, auditEventInvite, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "invite", err)
	}
	return &MessageResponse{Message: MsgInviteSent}, nil
}

// AcceptInvite consumes an invite token, sets the password and activates
// the account.
func (e *Engine) AcceptInvite(ctx context.Context, raw, newPassword string) (*MessageResponse, error) {
	userID, err := e.redeemLink(ctx, raw, newPassword, token.TypeInvite)
	if err == nil {
		err = e.users.SetActive(ctx, userID, true)
	}
	e.metrics.passwordResult("invite", resultLabel(err))
	e.emitAudit(ctx, auditEventInviteAccepted, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "accept_invite", err)
	}
	return &MessageResponse{Message: MsgPasswordSet}, nil
}

// Block deactivates the user, revokes every token and mails an unblock
// link.
func (e *Engine) Block(ctx context.Context, userID string) (*MessageResponse, error) {
	err := e.block(ctx, userID)
	e.emitAudit(ctx, auditEventBlock, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "block", err)
	}
	return &MessageResponse{Message: MsgUserBlocked}, nil
}

func (e *Engine) block(ctx context.Context, userID string) error {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.users.SetActive(ctx, user.ID, false); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}
	raw, err := e.issueLink(ctx, user.ID, token.TypeBlockUser, e.config.Links.UnblockTTL)
	if err != nil {
		return err
	}
	e.send(ctx, Mail{Kind: MailUnblock, To: user.Email, Name: user.Name, Language: user.Language, Link: e.link("unblock", raw)})
	return nil
}

// Unblock consumes an unblock token and reactivates the account.
func (e *Engine) Unblock(ctx context.Context, raw string) (*MessageResponse, error) {
	var userID string
	rec, err := e.consumeLink(ctx, raw, token.TypeBlockUser)
	if err == nil {
		userID = rec.UserID
		err = e.users.SetActive(ctx, userID, true)
	}
	e.emitAudit(ctx, auditEventUnblock, userID, "", err, nil)
	if err != nil {
		return nil, e.finish(ctx, "unblock", err)
	}
	return &MessageResponse{Message: MsgUserUnblocked}, nil
}

func (e *Engine) forgotPassword(ctx context.Context, email string) (string, error) {
	user, err := e.findUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	raw, err := e.issueLink(ctx, user.ID, token.TypeForgotPassword, e.config.Links.ResetTTL)
	if err != nil {
		return user.ID, err
	}
	e.send(ctx, Mail{Kind: MailResetPassword, To: user.Email, Name: user.Name, Language: user.Language, Link: e.link("reset-password", raw)})
	return user.ID, nil
}

// redeemLink checks the policy, consumes the link token and stores the new
// password for its user.
func (e *Engine) redeemLink(ctx context.Context, raw, newPassword string, purpose token.Type) (string, error) {
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return "", err
	}
	rec, err := e.consumeLink(ctx, raw, purpose)
	if err != nil {
		return "", err
	}
	if _, err := e.users.FindByID(ctx, rec.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec.UserID, newError(KindUnauthorized, MsgTokenInvalid, err)
		}
		return rec.UserID, err
	}
	return rec.UserID, e.storePassword(ctx, rec.UserID, newPassword)
}
