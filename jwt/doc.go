// Package jwt signs and verifies the access and refresh tokens of a session.
//
// Access and refresh tokens are signed with independent keys of the same
// algorithm family, so a leaked refresh key cannot mint access tokens. The typ
// claim is checked on parse as well.
package jwt
