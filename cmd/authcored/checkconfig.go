package main

import (
	"fmt"
	"io"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/authcore"
	"github.com/kestrelhq/authcore/internal/security"
)

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and report its security posture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			report := securityReport(cfg.Auth)
			printReport(cmd.OutOrStdout(), report)
			if strict && len(report.Warnings) > 0 {
				return oops.Code("INSECURE_CONFIG").Errorf("%d warnings", len(report.Warnings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any warning is reported")
	return cmd
}

func securityReport(c authcore.Config) security.Report {
	return security.BuildReport(security.ReportInput{
		ProductionMode: c.Security.ProductionMode,
		SigningMethod:  c.JWT.SigningMethod,
		AccessTTL:      c.JWT.AccessTTL,
		RefreshTTL:     c.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
			MinLength:   c.Password.MinLength,
		},
		Pepper:              c.Password.Pepper,
		RevokeOnRotate:      c.Session.RevokeOnRotate,
		OTPDigits:           c.OTP.Digits,
		OTPMaxAttempts:      c.OTP.MaxAttempts,
		OTPLockout:          c.OTP.LockoutDuration,
		EnableLoginThrottle: c.Security.EnableLoginThrottle,
		MaxLoginAttempts:    c.Security.MaxLoginAttempts,
		LoginCooldown:       c.Security.LoginCooldown,
		AuditEnabled:        c.Audit.Enabled,
		ResetTTL:            c.Links.ResetTTL,
	})
}

func printReport(w io.Writer, r security.Report) {
	fmt.Fprintf(w, "signing=%s access_ttl=%s refresh_ttl=%s production=%t\n",
		r.SigningAlgorithm, r.AccessTTL, r.RefreshTTL, r.ProductionMode)
	fmt.Fprintf(w, "argon2 memory=%dKiB time=%d parallelism=%d min_length=%d pepper=%t\n",
		r.Argon2.Memory, r.Argon2.Time, r.Argon2.Parallelism, r.Argon2.MinLength, r.PepperConfigured)
	fmt.Fprintf(w, "rotation_revokes=%t otp_lockout=%t login_throttle=%t audit=%t\n",
		r.RotationRevokesOld, r.OTPLockoutActive, r.LoginThrottleActive, r.AuditActive)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "WARN %s\n", warning)
	}
}
