package authcore

import (
	"context"
	"strings"
	"time"

	"github.com/kestrelhq/authcore/permission"
)

// Provider names a social login provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// User is the identity record the engine authenticates.
//
// Password and Salt are empty for social-only accounts.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email"`
	Password   string `json:"-"`
	Salt       string `json:"-"`
	Active     bool   `json:"active"`
	TwoFactor  bool   `json:"twoFactor"`
	GoogleID   string `json:"-"`
	FacebookID string `json:"-"`
	Language   string `json:"language,omitempty"`
}

// SocialID returns the user's id at provider.
func (u User) SocialID(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderFacebook:
		return u.FacebookID
	default:
		return ""
	}
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.Password != ""
}

// Credentials is a login attempt. Either Password or SocialID is set.
type Credentials struct {
	Email          string   `json:"email"`
	Password       string   `json:"password,omitempty"`
	SocialProvider Provider `json:"socialProvider,omitempty"`
	SocialID       string   `json:"socialId,omitempty"`
	Name           string   `json:"name,omitempty"`
}

func (c Credentials) normalizedEmail() string {
	return normalizeEmail(c.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TokenResponse carries a freshly issued session.
type TokenResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// MessageResponse is the result of operations that only report a message key.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResult is either a message (an OTP or a set-password link was
// mailed) or tokens.
type LoginResult struct {
	Message string         `json:"message,omitempty"`
	Tokens  *TokenResponse `json:"tokens,omitempty"`
}

// UserWithPermissions is a user plus its resolved capability set. It
// satisfies permission.Subject.
type UserWithPermissions struct {
	User
	Permissions []permission.Granted `json:"permissions"`
	Roles       []permission.RoleRef `json:"roles"`
}

func (u *UserWithPermissions) SubjectID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// HasPermission reports whether name was resolved for the user, ignoring case.
func (u *UserWithPermissions) HasPermission(name string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.Permissions {
		if strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

// UserStore persists users. Lookups of a missing user must return an error
// matching ErrNotFound.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Create inserts u and fills in its ID. An existing email is a Duplicate error.
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, hash, salt string) error
	LinkSocial(ctx context.Context, userID string, p Provider, socialID string) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// MailKind selects the template of an outbound mail.
type MailKind string

const (
	MailLoginOTP          MailKind = "login_otp"
	MailForgotPasswordOTP MailKind = "forgot_password_otp"
	MailResetPassword     MailKind = "reset_password"
	MailSetPassword       MailKind = "set_password"
	MailInvite            MailKind = "invite"
	MailUnblock           MailKind = "unblock"
)

// Mail is one outbound message. Exactly one of Code and Link is set.
type Mail struct {
	Kind     MailKind
	To       string
	Name     string
	Language string
	Code     string
	Link     string
}

// Mailer delivers mail. The engine does not wait on delivery outcomes beyond
// logging failures.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// Clock supplies the current time.
type Clock func() time.Time
