package authcore

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/kestrelhq/authcore/password"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig      `koanf:"jwt"`
	Password PasswordConfig `koanf:"password"`
	OTP      OTPConfig      `koanf:"otp"`
	Links    LinksConfig    `koanf:"links"`
	Session  SessionConfig  `koanf:"session"`
	Security SecurityConfig `koanf:"security"`
	Audit    AuditConfig    `koanf:"audit"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds signer settings. Access and refresh tokens use separate
// keys of the same algorithm family.
type JWTConfig struct {
	AccessTTL         time.Duration `koanf:"access_ttl"`
	RefreshTTL        time.Duration `koanf:"refresh_ttl"`
	SigningMethod     string        `koanf:"signing_method"` // "ed25519" (default) or "hs256"
	AccessPrivateKey  []byte        `koanf:"-"`
	AccessPublicKey   []byte        `koanf:"-"`
	RefreshPrivateKey []byte        `koanf:"-"`
	RefreshPublicKey  []byte        `koanf:"-"`
	Issuer            string        `koanf:"issuer"`
	Audience          string        `koanf:"audience"`
	Leeway            time.Duration `koanf:"leeway"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by authcore APIs.
//
// Pepper is the process-wide secret mixed into every credential hash.
// Changing it invalidates every stored password.
type PasswordConfig struct {
	Pepper            string `koanf:"pepper"`
	Memory            uint32 `koanf:"memory"` // in KB
	Time              uint32 `koanf:"time"`
	Parallelism       uint8  `koanf:"parallelism"`
	SaltLength        uint32 `koanf:"salt_length"`
	KeyLength         uint32 `koanf:"key_length"`
	MinLength         int    `koanf:"min_length"`
	RefreshDigestCost int    `koanf:"refresh_digest_cost"`
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig defines a public type used by authcore APIs.
type OTPConfig struct {
	Digits          int           `koanf:"digits"`
	TTL             time.Duration `koanf:"ttl"`
	MaxAttempts     int           `koanf:"max_attempts"`
	LockoutDuration time.Duration `koanf:"lockout_duration"`
}

/*
====================================
LINKS CONFIG
====================================
*/

// LinksConfig controls mailed single-use links. Links are rendered as
// {BaseURL}/{path}/{token}.
type LinksConfig struct {
	BaseURL        string        `koanf:"base_url"`
	ResetTTL       time.Duration `koanf:"reset_ttl"`
	SetPasswordTTL time.Duration `koanf:"set_password_ttl"`
	InviteTTL      time.Duration `koanf:"invite_ttl"`
	UnblockTTL     time.Duration `koanf:"unblock_ttl"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by authcore APIs.
type SessionConfig struct {
	RedisPrefix    string        `koanf:"redis_prefix"`
	RevokeOnRotate bool          `koanf:"revoke_on_rotate"`
	RetentionGrace time.Duration `koanf:"retention_grace"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by authcore APIs.
type SecurityConfig struct {
	ProductionMode      bool          `koanf:"production_mode"`
	EnableLoginThrottle bool          `koanf:"enable_login_throttle"`
	ThrottleByIP        bool          `koanf:"throttle_by_ip"`
	MaxLoginAttempts    int           `koanf:"max_login_attempts"`
	LoginCooldown       time.Duration `koanf:"login_cooldown"`
}

// AuditConfig defines a public type used by authcore APIs.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// MetricsConfig defines a public type used by authcore APIs.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Keys and the pepper are
// left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:            65536,
			Time:              3,
			Parallelism:       2,
			SaltLength:        16,
			KeyLength:         32,
			MinLength:         8,
			RefreshDigestCost: password.MinDigestCost,
		},
		OTP: OTPConfig{
			Digits:          4,
			TTL:             10 * time.Minute,
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
		},
		Links: LinksConfig{
			ResetTTL:       30 * time.Minute,
			SetPasswordTTL: 24 * time.Hour,
			InviteTTL:      72 * time.Hour,
			UnblockTTL:     48 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:    "at",
			RevokeOnRotate: true,
			RetentionGrace: time.Hour,
		},
		Security: SecurityConfig{
			EnableLoginThrottle: false,
			MaxLoginAttempts:    5,
			LoginCooldown:       15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "authcore",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessPrivateKey = cloneBytes(cfg.JWT.AccessPrivateKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks c and returns the first violated rule.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.AccessPrivateKey) == 0 || len(c.JWT.RefreshPrivateKey) == 0 {
			return errors.New("ed25519 requires access and refresh private keys")
		}
	case "hs256":
		if len(c.JWT.AccessPrivateKey) == 0 || len(c.JWT.RefreshPrivateKey) == 0 {
			return errors.New("hs256 requires access and refresh secrets")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if bytes.Equal(c.JWT.AccessPrivateKey, c.JWT.RefreshPrivateKey) {
		return errors.New("JWT access and refresh keys must differ")
	}

	// Password
	if c.Password.Pepper == "" {
		return errors.New("Password Pepper must be set")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.RefreshDigestCost < password.MinDigestCost {
		return errors.New("Password RefreshDigestCost must be >= 10")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("OTP MaxAttempts must be >= 1")
	}
	if c.OTP.LockoutDuration <= 0 {
		return errors.New("OTP LockoutDuration must be > 0")
	}

	// Links
	if c.Links.ResetTTL <= 0 || c.Links.SetPasswordTTL <= 0 || c.Links.InviteTTL <= 0 || c.Links.UnblockTTL <= 0 {
		return errors.New("Links TTLs must be > 0")
	}
	if c.Security.ProductionMode && !strings.HasPrefix(c.Links.BaseURL, "https://") {
		return errors.New("Links BaseURL must use https in production mode")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.RetentionGrace < 0 {
		return errors.New("Session RetentionGrace must be >= 0")
	}
	if c.Security.ProductionMode && !c.Session.RevokeOnRotate {
		return errors.New("Session RevokeOnRotate is required in production mode")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts < 1 {
			return errors.New("Security MaxLoginAttempts must be >= 1")
		}
		if c.Security.LoginCooldown <= 0 {
			return errors.New("Security LoginCooldown must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
