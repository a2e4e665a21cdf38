// Package middleware adapts the engine to net/http.
//
// # Handlers
//
//   - [Guard] requires a live access token and stores the principal.
//   - [RequireRefresh] does the same for refresh tokens.
//   - [RequirePermissions] resolves the principal's permissions and applies
//     the owner-or-permission policy.
//   - [ClientInfo] records the caller's address for unauthenticated routes.
//
// Failures are written as {"message": key} with the status from
// authcore.HTTPStatus.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the engine).
//   - Access Redis or Postgres.
package middleware
