package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelhq/authcore/internal"
)

var (
	// ErrNotFound is returned when no live record matches.
	ErrNotFound = errors.New("token not found")
	// ErrInvalidCriteria is returned when a lookup has nothing to key on.
	ErrInvalidCriteria = errors.New("token criteria must name a value, session or user")
	// ErrInvalidRecord is returned by Create for incomplete records.
	ErrInvalidRecord = errors.New("invalid token record")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("token store unavailable")
)

// Type is the persisted discriminator of a token record.
type Type string

const (
	TypeAccess            Type = "access_token"
	TypeRefresh           Type = "refresh_token"
	TypeHashedRefresh     Type = "hashed_refresh_token"
	TypeInvite            Type = "invite_token"
	TypeForgotPassword    Type = "forgot_password"
	TypeForgotPasswordOTP Type = "forgot_password_otp"
	TypeLoginOTP          Type = "login_otp"
	TypeSetPassword       Type = "set_password"
	TypeBlockUser         Type = "block_user"
)

// Types lists every known type.
var Types = []Type{
	TypeAccess,
	TypeRefresh,
	TypeHashedRefresh,
	TypeInvite,
	TypeForgotPassword,
	TypeForgotPasswordOTP,
	TypeLoginOTP,
	TypeSetPassword,
	TypeBlockUser,
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// PerUser reports whether at most one live record of this type may exist per
// user. Creating a new one supersedes the previous record.
func (t Type) PerUser() bool {
	switch t {
	case TypeLoginOTP, TypeForgotPasswordOTP, TypeForgotPassword, TypeSetPassword, TypeInvite, TypeBlockUser:
		return true
	default:
		return false
	}
}

// OTP reports whether values of this type are short codes that are only
// unique within a user.
func (t Type) OTP() bool {
	return t == TypeLoginOTP || t == TypeForgotPasswordOTP
}

// Kind is the typed view of a token. The set of implementations is closed.
type Kind interface {
	Type() Type
	Value() string
	sealed()
}

// Access is a signed access token.
type Access struct{ Raw string }

// Refresh is a signed refresh token.
type Refresh struct{ Raw string }

// HashedRefresh is the irreversible digest of a refresh token.
type HashedRefresh struct{ Digest string }

// Flow selects which OTP type a code belongs to.
type Flow string

const (
	FlowLogin          Flow = "login"
	FlowForgotPassword Flow = "forgot_password"
)

// Type maps a flow onto its record type.
func (f Flow) Type() (Type, error) {
	switch f {
	case FlowLogin:
		return TypeLoginOTP, nil
	case FlowForgotPassword:
		return TypeForgotPasswordOTP, nil
	default:
		return "", fmt.Errorf("unknown otp flow %q", string(f))
	}
}

// OTP is a short numeric code bound to a flow.
type OTP struct {
	Flow Flow
	Code string
}

// Link is an opaque single-use token mailed to the user.
type Link struct {
	Purpose Type
	Raw     string
}

func (Access) Type() Type      { return TypeAccess }
func (a Access) Value() string { return a.Raw }
func (Access) sealed()         {}

func (Refresh) Type() Type      { return TypeRefresh }
func (r Refresh) Value() string { return r.Raw }
func (Refresh) sealed()         {}

func (HashedRefresh) Type() Type      { return TypeHashedRefresh }
func (h HashedRefresh) Value() string { return h.Digest }
func (HashedRefresh) sealed()         {}

// Type returns the empty type for an unknown flow, which Create rejects.
func (o OTP) Type() Type {
	t, err := o.Flow.Type()
	if err != nil {
		return ""
	}
	return t
}
func (o OTP) Value() string { return o.Code }
func (OTP) sealed()         {}

func (l Link) Type() Type    { return l.Purpose }
func (l Link) Value() string { return l.Raw }
func (Link) sealed()         {}

// KindOf rebuilds the typed view of a stored record.
func KindOf(r Record) (Kind, error) {
	switch r.Type {
	case TypeAccess:
		return Access{Raw: r.Value}, nil
	case TypeRefresh:
		return Refresh{Raw: r.Value}, nil
	case TypeHashedRefresh:
		return HashedRefresh{Digest: r.Value}, nil
	case TypeLoginOTP:
		return OTP{Flow: FlowLogin, Code: r.Value}, nil
	case TypeForgotPasswordOTP:
		return OTP{Flow: FlowForgotPassword, Code: r.Value}, nil
	case TypeInvite, TypeForgotPassword, TypeSetPassword, TypeBlockUser:
		return Link{Purpose: r.Type, Raw: r.Value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, string(r.Type))
	}
}

// Describe names k for logs without exposing its value.
func Describe(k Kind) string {
	switch v := k.(type) {
	case Access:
		return "access"
	case Refresh:
		return "refresh"
	case HashedRefresh:
		return "refresh digest"
	case OTP:
		return "otp:" + string(v.Flow)
	case Link:
		return "link:" + string(v.Purpose)
	default:
		return "unknown"
	}
}

// Record is one persisted token row.
type Record struct {
	ID        string
	UserID    string
	Type      Type
	Value     string
	SessionID string
	ExpiresAt time.Time
	CreatedAt time.Time
	DeletedAt *time.Time
}

// NewRecord builds a record for kind with a fresh id.
func NewRecord(userID string, kind Kind, sessionID string, createdAt, expiresAt time.Time) Record {
	return Record{
		ID:        internal.NewRecordID(createdAt),
		UserID:    userID,
		Type:      kind.Type(),
		Value:     kind.Value(),
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
}

// Live reports whether the record has not been revoked.
func (r Record) Live() bool {
	return r.DeletedAt == nil
}

// Expired reports whether now is past the record's expiry. Records without
// an expiry never expire.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func (r Record) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	case !r.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, string(r.Type))
	case r.Value == "":
		return fmt.Errorf("%w: missing value", ErrInvalidRecord)
	}
	return nil
}

// Criteria selects records. Empty fields match anything, but at least one of
// Value, SessionID or UserID has to be set.
type Criteria struct {
	UserID    string
	Type      Type
	Value     string
	SessionID string
}

func (c Criteria) validate() error {
	if c.Value == "" && c.SessionID == "" && c.UserID == "" {
		return ErrInvalidCriteria
	}
	if c.Type != "" && !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCriteria, string(c.Type))
	}
	return nil
}

// Matches reports whether r satisfies every non-empty field of c.
func (c Criteria) Matches(r Record) bool {
	if c.UserID != "" && c.UserID != r.UserID {
		return false
	}
	if c.Type != "" && c.Type != r.Type {
		return false
	}
	if c.Value != "" && c.Value != r.Value {
		return false
	}
	if c.SessionID != "" && c.SessionID != r.SessionID {
		return false
	}
	return r.Live()
}

// Store persists token records.
//
// Create is all-or-nothing. Find returns the newest live match regardless
// of expiry. Delete reports whether this call removed the record, so two
// racing consumers of a single-use token see exactly one true.
// DeleteBySession has the same single-winner guarantee per session.
type Store interface {
	Create(ctx context.Context, records ...Record) error
	Find(ctx context.Context, c Criteria) (Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteBySession(ctx context.Context, sessionID string) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// Validate checks records before they reach a backend.
func Validate(records ...Record) error {
	for _, r := range records {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCriteria checks c before it reaches a backend.
func ValidateCriteria(c Criteria) error {
	return c.validate()
}
