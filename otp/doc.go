// Package otp issues and verifies the short numeric codes used for two-factor
// login and password reset.
//
// A user holds at most one code per flow. Failed verifications are counted
// per user and flow; once the count reaches MaxAttempts every verification
// fails with a *LockedError until the counter's window closes.
package otp
