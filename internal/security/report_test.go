package security

import (
	"strings"
	"testing"
	"time"
)

func strongInput() ReportInput {
	return ReportInput{
		ProductionMode: true,
		SigningMethod:  "ed25519",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		Password: PasswordReport{
			Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32, MinLength: 8,
		},
		Pepper:              "pepper",
		RevokeOnRotate:      true,
		OTPDigits:           4,
		OTPMaxAttempts:      5,
		OTPLockout:          15 * time.Minute,
		EnableLoginThrottle: true,
		MaxLoginAttempts:    5,
		LoginCooldown:       15 * time.Minute,
		AuditEnabled:        true,
		ResetTTL:            30 * time.Minute,
	}
}

func TestBuildReportStrongConfig(t *testing.T) {
	r := BuildReport(strongInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", r.Warnings)
	}
	if r.SigningAlgorithm != "EdDSA" || !r.LoginThrottleActive || !r.OTPLockoutActive || !r.PepperConfigured {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportInput)
		want   string
	}{
		{"no pepper", func(in *ReportInput) { in.Pepper = "" }, "pepper"},
		{"weak memory", func(in *ReportInput) { in.Password.Memory = 8 * 1024 }, "argon2 memory"},
		{"weak time", func(in *ReportInput) { in.Password.Time = 1 }, "argon2 time"},
		{"long access ttl", func(in *ReportInput) { in.AccessTTL = 2 * time.Hour }, "access token ttl"},
		{"short otp", func(in *ReportInput) { in.OTPDigits = 3 }, "otp length"},
		{"no lockout", func(in *ReportInput) { in.OTPLockout = 0 }, "otp lockout is disabled"},
		{"lax lockout", func(in *ReportInput) { in.OTPMaxAttempts = 50 }, "allows 50 attempts"},
		{"rotation keeps session", func(in *ReportInput) { in.RevokeOnRotate = false }, "rotation"},
		{"no throttle in production", func(in *ReportInput) { in.EnableLoginThrottle = false }, "login throttling"},
		{"hs256 in production", func(in *ReportInput) { in.SigningMethod = "hs256" }, "symmetric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := strongInput()
			tt.mutate(&in)
			r := BuildReport(in)
			if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], tt.want) {
				t.Fatalf("warnings = %v, want one containing %q", r.Warnings, tt.want)
			}
		})
	}
}

func TestBuildReportThrottleOffOutsideProduction(t *testing.T) {
	in := strongInput()
	in.ProductionMode = false
	in.EnableLoginThrottle = false
	r := BuildReport(in)
	if r.LoginThrottleActive || len(r.Warnings) != 0 {
		t.Fatalf("unexpected report %+v", r)
	}
}
