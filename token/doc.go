// Package token defines the persisted token record and the stores that hold it.
//
// Every credential the service hands out, from signed access and refresh
// tokens to OTP codes and mailed links, is one [Record] discriminated by
// [Type]. [Kind] is the typed view used by callers; [KindOf] rebuilds it from
// a stored record.
//
// Records that share a session id form a session. Revoking a session removes
// every record carrying its id at once.
//
// [RedisStore] is the default backend. The postgres package provides a
// relational one with the same [Store] contract.
package token
