package permission

// Built-in permission names seeded with every deployment.
const (
	CreateUser = "create_user"
	UpdateUser = "update_user"
	DeleteUser = "delete_user"
	ViewUser   = "view_user"
	CreateRole = "create_role"
	UpdateRole = "update_role"
	DeleteRole = "delete_role"
	ViewRole   = "view_role"
)

// Catalog lists the built-in permission names.
func Catalog() []string {
	return []string{
		CreateUser, UpdateUser, DeleteUser, ViewUser,
		CreateRole, UpdateRole, DeleteRole, ViewRole,
	}
}
