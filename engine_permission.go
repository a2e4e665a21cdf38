package authcore

import (
	"context"
	"strings"

	"github.com/kestrelhq/authcore/permission"
)

// ResolvePermissions attaches the user's resolved permissions and roles.
func (e *Engine) ResolvePermissions(ctx context.Context, u User) (*UserWithPermissions, error) {
	resolved, err := e.resolver.Resolve(ctx, u.ID)
	if err != nil {
		return nil, e.finish(ctx, "resolve_permissions", err)
	}
	return &UserWithPermissions{
		User:        u,
		Permissions: resolved.Permissions,
		Roles:       resolved.Roles,
	}, nil
}

// Authorize decides whether requester may act on a resource owned by
// ownerID. See [permission.Authorize]. Denials are audited; use
// [DecisionError] to turn one into an error.
func (e *Engine) Authorize(ctx context.Context, required []string, requester permission.Subject, ownerID string, payload any) permission.Decision {
	d := permission.Authorize(required, requester, ownerID, payload)
	e.metrics.authorizeResult(d.Outcome.String())

	if !d.Allowed() {
		var subject string
		if requester != nil {
			subject = requester.SubjectID()
		}
		e.emitAudit(ctx, auditEventAuthorizeDenied, subject, "", DecisionError(d), func() map[string]string {
			return map[string]string{
				"owner":   ownerID,
				"missing": strings.Join(d.Missing, ","),
			}
		})
	}
	return d
}
