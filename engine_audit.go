package authcore

import (
	"context"
	"errors"

	"github.com/kestrelhq/authcore/internal/audit"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginOTPSent        = "login_otp_sent"
	auditEventSetPasswordRequired = "set_password_required"
	auditEventSocialSignup        = "social_signup"
	auditEventOTPVerify           = "otp_verify"
	auditEventRefresh             = "refresh"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventPasswordResetReq    = "password_reset_request"
	auditEventPasswordReset       = "password_reset"
	auditEventPasswordSet         = "password_set"
	auditEventInvite              = "invite"
	auditEventInviteAccepted      = "invite_accepted"
	auditEventBlock               = "user_blocked"
	auditEventUnblock             = "user_unblocked"
	auditEventAuthorizeDenied     = "authorize_denied"
)

// criticalAuditEvents record account-state changes and are never shed for a
// full audit buffer.
var criticalAuditEvents = []string{
	auditEventLogoutAll,
	auditEventPasswordReset,
	auditEventPasswordSet,
	auditEventBlock,
	auditEventUnblock,
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	userID string,
	sessionID string,
	err error,
	fields func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Time:      e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   err == nil,
		Error:     auditErrorCode(err),
	}
	if fields != nil {
		event.Fields = fields()
	}
	e.audit.Emit(ctx, event)
}

// auditErrorCode keeps audit records free of raw backend error strings.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && !e.Internal() && e.Message != "" {
		return e.Message
	}
	return "internal_error"
}
