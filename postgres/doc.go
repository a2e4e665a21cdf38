// Package postgres implements the token, user and grant stores on
// PostgreSQL through pgx.
//
// Token revocation is a soft delete: rows get a deleted_at stamp and stop
// matching lookups, which keeps an audit trail of issued tokens. Concurrent
// revocations of the same rows are serialized by row locks, so exactly one
// caller observes a non-zero count.
//
// The schema ships as [Schema] and is applied verbatim by [ApplySchema].
package postgres
