package middleware

import (
	"context"
	"net/http"

	"github.com/kestrelhq/authcore"
	"github.com/kestrelhq/authcore/permission"
)

// Authorizer resolves and checks permissions. *authcore.Engine implements it.
type Authorizer interface {
	ResolvePermissions(ctx context.Context, u authcore.User) (*authcore.UserWithPermissions, error)
	Authorize(ctx context.Context, required []string, requester permission.Subject, ownerID string, payload any) permission.Decision
}

// OwnerFunc extracts the id of the user owning the addressed resource. It
// returns "" when the route has no owner.
type OwnerFunc func(r *http.Request) string

type decisionContextKey struct{}
type subjectContextKey struct{}

// DecisionFromContext returns the decision made by [RequirePermissions].
// Handlers that accept a body must pass it through permission.Redact when
// the outcome is OutcomeSelfService.
func DecisionFromContext(ctx context.Context) (permission.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(permission.Decision)
	return d, ok
}

// SubjectFromContext returns the resolved requester.
func SubjectFromContext(ctx context.Context) (*authcore.UserWithPermissions, bool) {
	u, ok := ctx.Value(subjectContextKey{}).(*authcore.UserWithPermissions)
	return u, ok
}

// RequirePermissions must run after [Guard]. It resolves the requester's
// permissions and allows the request when all of required are held or the
// requester owns the resource named by owner.
func RequirePermissions(authz Authorizer, owner OwnerFunc, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}

			subject, err := authz.ResolvePermissions(r.Context(), authcore.User{ID: p.UserID, Email: p.Email})
			if err != nil {
				WriteError(w, err)
				return
			}

			var ownerID string
			if owner != nil {
				ownerID = owner(r)
			}
			d := authz.Authorize(r.Context(), required, subject, ownerID, nil)
			if err := authcore.DecisionError(d); err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
			ctx = context.WithValue(ctx, subjectContextKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
