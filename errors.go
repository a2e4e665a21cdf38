package authcore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kestrelhq/authcore/permission"
)

// Kind classifies an [Error] for transport mapping.
type Kind uint8

const (
	// KindUnhandled is anything outside the taxonomy. Its cause is never shown to clients.
	KindUnhandled Kind = iota
	// KindNotFound means the user or token does not exist.
	KindNotFound
	// KindUnauthorized covers bad credentials, inactive accounts and invalid or revoked tokens.
	KindUnauthorized
	// KindForbidden covers missing permissions and lockouts.
	KindForbidden
	// KindDuplicate means a unique constraint was violated.
	KindDuplicate
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindDuplicate:
		return "duplicate"
	default:
		return "unhandled"
	}
}

// Error is the error type returned by every public [Engine] operation.
//
// Message is a stable, localizable key such as "invalid_credentials". Args
// carries interpolation values for the localized message, for example the
// minutes remaining on an OTP lockout.
type Error struct {
	Kind    Kind
	Message string
	Args    []any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindUnhandled {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Internal reports whether e is an Unhandled failure whose details stay on
// the server. Unhandled errors built from a message key alone, such as a
// password policy violation, are meant for the client.
func (e *Error) Internal() bool {
	if e.Kind != KindUnhandled {
		return false
	}
	return e.Err != nil || e.Message == "" || e.Message == MsgUnhandled
}

// Is matches the kind sentinels below. A target carrying a message also has
// to match that message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var (
	// ErrNotFound matches every NotFound error.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrUnauthorized matches every Unauthorized error.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrForbidden matches every Forbidden error.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrDuplicate matches every Duplicate error.
	ErrDuplicate = &Error{Kind: KindDuplicate}
	// ErrUnhandled matches every Unhandled error.
	ErrUnhandled = &Error{Kind: KindUnhandled}

	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: MsgInvalidCredentials}
	// ErrUserNotActive is returned when an inactive account tries to log in.
	ErrUserNotActive = &Error{Kind: KindUnauthorized, Message: MsgUserNotActive}
	// ErrInvalidOTP is returned when an OTP is missing or does not match.
	ErrInvalidOTP = &Error{Kind: KindUnauthorized, Message: MsgInvalidOTP}
	// ErrOTPExpired is returned when a matching OTP is past its expiry.
	ErrOTPExpired = &Error{Kind: KindUnauthorized, Message: MsgOTPExpired}
	// ErrTokenInvalid is returned for revoked, expired or malformed tokens.
	ErrTokenInvalid = &Error{Kind: KindUnauthorized, Message: MsgTokenInvalid}
	// ErrTooManyAttempts is returned while an OTP lockout is active.
	ErrTooManyAttempts = &Error{Kind: KindForbidden, Message: MsgTooManyAttempts}
	// ErrLoginRateLimited is returned when the login throttle trips.
	ErrLoginRateLimited = &Error{Kind: KindForbidden, Message: MsgLoginRateLimited}
	// ErrUserNotFound is the error user stores return for a missing user.
	ErrUserNotFound = &Error{Kind: KindNotFound, Message: MsgUserNotFound}
	// ErrEmailExists is returned when a social sign-up collides with an existing email.
	ErrEmailExists = &Error{Kind: KindDuplicate, Message: MsgEmailExists}
	// ErrPasswordPolicy is returned when a new password is too short. Args
	// holds the minimum length.
	ErrPasswordPolicy = &Error{Kind: KindUnhandled, Message: MsgPasswordPolicy}
	// ErrEngineNotReady is returned when a required collaborator was not configured.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Message keys. Transport layers translate these; the core never renders text.
const (
	MsgInvalidCredentials   = "invalid_credentials"
	MsgUserNotActive        = "user_not_active"
	MsgUserNotFound         = "user_not_found"
	MsgInvalidOTP           = "invalid_otp"
	MsgOTPExpired           = "otp_expired"
	MsgTooManyAttempts      = "too_many_otp_attempts"
	MsgTokenInvalid         = "token_invalid"
	MsgTokenExpired         = "token_expired"
	MsgLoginRateLimited     = "login_rate_limited"
	MsgEmailExists          = "email_exists"
	MsgInsufficientPerms    = "insufficient_permissions"
	MsgUnhandled            = "unhandled"
	MsgOTPSent              = "otp_sent"
	MsgOTPVerified          = "otp_verified"
	MsgSetPasswordEmailSent = "set_password_email_sent"
	MsgResetEmailSent       = "reset_password_email_sent"
	MsgPasswordReset        = "password_reset"
	MsgPasswordSet          = "password_set"
	MsgLogoutSuccessful     = "logout_successful"
	MsgInviteSent           = "invite_sent"
	MsgUserBlocked          = "user_blocked"
	MsgUserUnblocked        = "user_unblocked"
	MsgPasswordPolicy       = "password_policy"
)

func newError(kind Kind, message string, cause error, args ...any) *Error {
	return &Error{Kind: kind, Message: message, Args: args, Err: cause}
}

// KindOf reports the taxonomy kind of err. Errors outside the taxonomy are Unhandled.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnhandled
}

// HTTPStatus maps err onto the status code the transport layer should send.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// DecisionError converts a denied decision into a Forbidden error whose Args
// are the missing permissions. It returns nil for allowed decisions.
func DecisionError(d permission.Decision) error {
	if d.Allowed() {
		return nil
	}
	reason := d.Reason
	if reason == "" {
		reason = MsgInsufficientPerms
	}
	args := make([]any, len(d.Missing))
	for i, m := range d.Missing {
		args[i] = m
	}
	return &Error{Kind: KindForbidden, Message: reason, Args: args}
}

// boundary keeps taxonomy errors and folds everything else into Unhandled.
func boundary(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindUnhandled, Message: MsgUnhandled, Err: err}
}
