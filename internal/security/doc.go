// Package security summarizes the security posture of an engine
// configuration: which protections are active and which settings fall below
// recommended minimums. authcored prints the report from check-config.
//
// # What this package must NOT do
//
//   - Validate configuration. Build rejects invalid configs; a report only
//     flags weak ones.
package security
