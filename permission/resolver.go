package permission

import (
	"context"
	"sort"
	"strings"
)

// Permission is a named capability, optionally grouped by app component.
type Permission struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AppComponent string `json:"appComponent,omitempty"`
}

// Role bundles permissions.
type Role struct {
	ID          string
	Name        string
	Permissions []Permission
}

// RoleGrant assigns a role to a user.
type RoleGrant struct {
	UserID string
	Role   Role
}

// PermissionGrant assigns a permission straight to a user.
type PermissionGrant struct {
	UserID     string
	Permission Permission
}

// Granted is a resolved permission and the role that conferred it. RoleID is
// empty for direct grants.
type Granted struct {
	Permission
	RoleID string `json:"roleId,omitempty"`
}

// Direct reports whether the permission was granted without a role.
func (g Granted) Direct() bool {
	return g.RoleID == ""
}

// RoleRef is the flattened view of a held role.
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolved is a user's deduplicated capability set.
type Resolved struct {
	Permissions []Granted `json:"permissions"`
	Roles       []RoleRef `json:"roles"`
}

// Has reports whether name is in the set, ignoring case.
func (r Resolved) Has(name string) bool {
	for _, g := range r.Permissions {
		if strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

// Names lists the permission names in resolution order.
func (r Resolved) Names() []string {
	out := make([]string, len(r.Permissions))
	for i, g := range r.Permissions {
		out[i] = g.Name
	}
	return out
}

// GrantStore loads a user's grants. RoleGrants must carry each role's
// permissions.
type GrantStore interface {
	RoleGrants(ctx context.Context, userID string) ([]RoleGrant, error)
	PermissionGrants(ctx context.Context, userID string) ([]PermissionGrant, error)
}

// Resolver resolves capability sets from a [GrantStore].
type Resolver struct {
	store GrantStore
}

// NewResolver returns a resolver on store.
func NewResolver(store GrantStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads and merges the grants of userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Resolved, error) {
	roles, err := r.store.RoleGrants(ctx, userID)
	if err != nil {
		return Resolved{}, err
	}
	direct, err := r.store.PermissionGrants(ctx, userID)
	if err != nil {
		return Resolved{}, err
	}
	return Resolve(roles, direct), nil
}

// Resolve merges role-derived and direct permissions. Role permissions come
// first, so a permission held both ways keeps its role tag.
func Resolve(roles []RoleGrant, direct []PermissionGrant) Resolved {
	sortedRoles := make([]Role, 0, len(roles))
	for _, g := range roles {
		sortedRoles = append(sortedRoles, g.Role)
	}
	sort.SliceStable(sortedRoles, func(i, j int) bool {
		return lessRole(sortedRoles[i], sortedRoles[j])
	})

	out := Resolved{
		Permissions: []Granted{},
		Roles:       []RoleRef{},
	}
	seenPerm := make(map[string]struct{})
	seenRole := make(map[string]struct{})

	add := func(p Permission, roleID string) {
		k := permKey(p)
		if _, ok := seenPerm[k]; ok {
			return
		}
		seenPerm[k] = struct{}{}
		out.Permissions = append(out.Permissions, Granted{Permission: p, RoleID: roleID})
	}

	for _, role := range sortedRoles {
		if _, ok := seenRole[role.ID]; !ok {
			seenRole[role.ID] = struct{}{}
			out.Roles = append(out.Roles, RoleRef{ID: role.ID, Name: role.Name})
		}
		for _, p := range sortedPermissions(role.Permissions) {
			add(p, role.ID)
		}
	}

	directPerms := make([]Permission, 0, len(direct))
	for _, g := range direct {
		directPerms = append(directPerms, g.Permission)
	}
	for _, p := range sortedPermissions(directPerms) {
		add(p, "")
	}

	return out
}

func permKey(p Permission) string {
	return p.ID + "\x00" + strings.ToLower(p.Name)
}

func lessRole(a, b Role) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

func sortedPermissions(in []Permission) []Permission {
	out := append([]Permission(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		if ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name); ni != nj {
			return ni < nj
		}
		return out[i].AppComponent < out[j].AppComponent
	})
	return out
}
