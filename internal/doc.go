// Package internal contains helpers that are private to authcore: session and
// record id generation, OTP and link-token randomness, and value digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: Redis fixed-window counters for OTP attempts and login throttling
//   - security: configuration posture report printed by authcored check-config
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
