// Package limiters provides Redis-backed attempt counters.
//
//   - [Counter] is a fixed-window INCR/EXPIRE counter. The OTP manager keys it
//     by "{userId}-{flow}-invalid-attempts".
//   - [LoginThrottle] counts failed logins per email and client address.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling package.
//   - Decide consequences. Callers turn counts into errors.
package limiters
