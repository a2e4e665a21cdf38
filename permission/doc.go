// Package permission resolves a user's capability set from role grants and
// direct permission grants, and decides whether a requester may act on a
// resource.
//
// # Resolution
//
// Role grants expand into the role's permissions tagged with the role id.
// Direct grants are added untagged. Duplicates by (id, name) collapse to the
// first occurrence after the inputs are put in a canonical order, so the
// result does not depend on row order.
//
// # Authorization
//
// [Authorize] allows a requester holding every required permission. Failing
// that, a requester acting on their own resource is allowed too, but every
// field tagged `access:"admin"` in the supplied payload is cleared in place.
// Anything else is a forbidden [Decision]; nothing is signalled by panics or
// errors.
//
// # What this package must NOT do
//
//   - Talk to a database directly. Grants come through [GrantStore].
//   - Import authcore, jwt, session or token.
package permission
