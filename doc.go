// Package authcore is an authentication and authorization engine: password
// and social login with optional mailed one-time codes, session tokens
// backed by a revocable token store, password reset and set flows, and
// permission resolution with self-service redaction.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] and [Mailer] ports, and value types such as [LoginResult].
// Signing lives in jwt, hashing in password, token records in token, the
// session lifecycle in session, codes in otp, and grants in permission.
// Postgres adapters for the ports live in postgres.
//
// # Errors
//
// Every Engine operation returns nil or an [*Error]. Its Kind drives the
// transport status ([HTTPStatus]) and its Message is a stable key for
// localization. Failures outside the taxonomy surface as KindUnhandled and
// are logged.
//
// # What this package must NOT do
//
//   - Render user-facing text. Messages are keys.
//   - Fail a request because a mail could not be delivered.
//   - Import any sub-package that re-imports authcore (no import cycles).
package authcore
