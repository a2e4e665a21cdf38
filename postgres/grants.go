package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/kestrelhq/authcore"
	"github.com/kestrelhq/authcore/permission"
)

// GrantStore is a permission.GrantStore over the role and permission
// tables. It also carries the administrative writes the CLI uses.
type GrantStore struct {
	pool Pool
}

var _ permission.GrantStore = (*GrantStore)(nil)

// NewGrantStore returns a store on pool.
func NewGrantStore(pool Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

// RoleGrants returns every role held by userID with its permissions.
func (s *GrantStore) RoleGrants(ctx context.Context, userID string) ([]permission.RoleGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, p.id, p.name, p.app_component
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY r.id, p.id`, userID)
	if err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("operation", "role grants").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []permission.RoleGrant
	for rows.Next() {
		var (
			roleID, roleName         string
			permID, permName, permAC *string
		)
		if err := rows.Scan(&roleID, &roleName, &permID, &permName, &permAC); err != nil {
			return nil, oops.Code("GRANT_SCAN_FAILED").With("user_id", userID).Wrap(err)
		}
		if len(out) == 0 || out[len(out)-1].Role.ID != roleID {
			out = append(out, permission.RoleGrant{
				UserID: userID,
				Role:   permission.Role{ID: roleID, Name: roleName},
			})
		}
		if permID == nil {
			continue
		}
		role := &out[len(out)-1].Role
		role.Permissions = append(role.Permissions, permission.Permission{
			ID:           *permID,
			Name:         deref(permName),
			AppComponent: deref(permAC),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("operation", "role grants").With("user_id", userID).Wrap(err)
	}
	return out, nil
}

// PermissionGrants returns the permissions granted to userID directly.
func (s *GrantStore) PermissionGrants(ctx context.Context, userID string) ([]permission.PermissionGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.app_component
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("operation", "permission grants").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []permission.PermissionGrant
	for rows.Next() {
		var p permission.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.AppComponent); err != nil {
			return nil, oops.Code("GRANT_SCAN_FAILED").With("user_id", userID).Wrap(err)
		}
		out = append(out, permission.PermissionGrant{UserID: userID, Permission: p})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("operation", "permission grants").With("user_id", userID).Wrap(err)
	}
	return out, nil
}

// SeedCatalog inserts the built-in permissions, keyed by name. Existing
// rows are left alone.
func (s *GrantStore) SeedCatalog(ctx context.Context) error {
	for _, name := range permission.Catalog() {
		if err := s.UpsertPermission(ctx, permission.Permission{ID: name, Name: name}); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPermission inserts p or updates its name and component.
func (s *GrantStore) UpsertPermission(ctx context.Context, p permission.Permission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permissions (id, name, app_component) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, app_component = EXCLUDED.app_component`,
		p.ID, p.Name, p.AppComponent)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("PERMISSION_EXISTS").With("id", p.ID).With("name", p.Name).Wrap(authcore.ErrDuplicate)
		}
		return oops.Code("PERMISSION_UPSERT_FAILED").With("id", p.ID).Wrap(err)
	}
	return nil
}

// UpsertRole writes role and replaces its permission set.
func (s *GrantStore) UpsertRole(ctx context.Context, role permission.Role) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("operation", "upsert role").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO roles (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, role.ID, role.Name); err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ROLE_EXISTS").With("id", role.ID).With("name", role.Name).Wrap(authcore.ErrDuplicate)
		}
		return oops.Code("ROLE_UPSERT_FAILED").With("id", role.ID).Wrap(err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
		return oops.Code("ROLE_UPSERT_FAILED").With("id", role.ID).Wrap(err)
	}
	for _, p := range role.Permissions {
		if _, err = tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			role.ID, p.ID); err != nil {
			return oops.Code("ROLE_UPSERT_FAILED").With("id", role.ID).With("permission_id", p.ID).Wrap(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").With("operation", "upsert role").Wrap(err)
	}
	return nil
}

// GrantRole assigns roleID to userID. Granting twice is a no-op.
func (s *GrantStore) GrantRole(ctx context.Context, userID, roleID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	if err != nil {
		return oops.Code("GRANT_FAILED").With("user_id", userID).With("role_id", roleID).Wrap(err)
	}
	return nil
}

// GrantPermission assigns permissionID to userID directly.
func (s *GrantStore) GrantPermission(ctx context.Context, userID, permissionID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, permissionID)
	if err != nil {
		return oops.Code("GRANT_FAILED").With("user_id", userID).With("permission_id", permissionID).Wrap(err)
	}
	return nil
}

// RevokeRole removes roleID from userID. It reports whether a grant existed.
func (s *GrantStore) RevokeRole(ctx context.Context, userID, roleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID)
	if err != nil {
		return false, oops.Code("REVOKE_FAILED").With("user_id", userID).With("role_id", roleID).Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokePermission removes a direct grant. Permissions held through a role
// are unaffected.
func (s *GrantStore) RevokePermission(ctx context.Context, userID, permissionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	if err != nil {
		return false, oops.Code("REVOKE_FAILED").With("user_id", userID).With("permission_id", permissionID).Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
