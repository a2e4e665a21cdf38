package security

import (
	"fmt"
	"time"
)

// Recommended floors. Settings below them are reported, not rejected.
const (
	MinArgon2Memory     = 64 * 1024
	MinArgon2Time       = 2
	MaxAccessTTL        = time.Hour
	MinOTPDigits        = 4
	MaxOTPAttemptsFloor = 10
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

type Report struct {
	ProductionMode      bool
	SigningAlgorithm    string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Argon2              PasswordReport
	PepperConfigured    bool
	RotationRevokesOld  bool
	OTPLockoutActive    bool
	LoginThrottleActive bool
	AuditActive         bool
	ResetLinksExpire    bool
	Warnings            []string
}

type ReportInput struct {
	ProductionMode      bool
	SigningMethod       string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Password            PasswordReport
	Pepper              string
	RevokeOnRotate      bool
	OTPDigits           int
	OTPMaxAttempts      int
	OTPLockout          time.Duration
	EnableLoginThrottle bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration
	AuditEnabled        bool
	ResetTTL            time.Duration
}

func BuildReport(input ReportInput) Report {
	throttle := input.EnableLoginThrottle &&
		input.MaxLoginAttempts > 0 &&
		input.LoginCooldown > 0

	r := Report{
		ProductionMode:      input.ProductionMode,
		SigningAlgorithm:    signingAlgorithm(input.SigningMethod),
		AccessTTL:           input.AccessTTL,
		RefreshTTL:          input.RefreshTTL,
		Argon2:              input.Password,
		PepperConfigured:    input.Pepper != "",
		RotationRevokesOld:  input.RevokeOnRotate,
		OTPLockoutActive:    input.OTPMaxAttempts > 0 && input.OTPLockout > 0,
		LoginThrottleActive: throttle,
		AuditActive:         input.AuditEnabled,
		ResetLinksExpire:    input.ResetTTL > 0,
	}

	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}
	if !r.PepperConfigured {
		warn("password pepper is empty")
	}
	if input.Password.Memory < MinArgon2Memory {
		warn("argon2 memory %d KiB is below %d KiB", input.Password.Memory, MinArgon2Memory)
	}
	if input.Password.Time < MinArgon2Time {
		warn("argon2 time %d is below %d", input.Password.Time, MinArgon2Time)
	}
	if input.AccessTTL > MaxAccessTTL {
		warn("access token ttl %s exceeds %s", input.AccessTTL, MaxAccessTTL)
	}
	if input.OTPDigits < MinOTPDigits {
		warn("otp length %d is below %d digits", input.OTPDigits, MinOTPDigits)
	}
	if !r.OTPLockoutActive {
		warn("otp lockout is disabled")
	} else if input.OTPMaxAttempts > MaxOTPAttemptsFloor {
		warn("otp lockout allows %d attempts", input.OTPMaxAttempts)
	}
	if !r.RotationRevokesOld {
		warn("refresh rotation keeps the previous session alive")
	}
	if input.ProductionMode && !r.LoginThrottleActive {
		warn("login throttling is off in production mode")
	}
	if input.ProductionMode && r.SigningAlgorithm == "HS256" {
		warn("symmetric signing in production mode")
	}
	return r
}

func signingAlgorithm(method string) string {
	switch method {
	case "hs256":
		return "HS256"
	default:
		return "EdDSA"
	}
}
