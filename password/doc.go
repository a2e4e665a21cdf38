// Package password implements the credential verifier and the refresh-token digest.
//
// # Output format
//
// Credential hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashing is deterministic: the KDF input is the password, the process-wide
// pepper and the per-user salt, and the salt doubles as the argon2 salt. The
// caller stores the salt next to the hash and passes both to [Argon2.Verify].
//
// Refresh digests use bcrypt over the SHA-256 hex of the token so the raw
// refresh token never has to be retained twice.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy is
// enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other authcore package.
//   - Log plaintext passwords or the pepper.
package password
