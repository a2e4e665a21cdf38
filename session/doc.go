// Package session issues, rotates and revokes access/refresh token pairs.
//
// A session is the access token, the refresh token and the refresh digest
// that share one session id. They are written together and revoked together.
// A token authenticates only if its signature verifies and its record is
// still live, so revoked tokens stop working before they expire.
//
// # What this package must NOT do
//
//   - Know about users, passwords or permissions.
//   - Import authcore.
package session
