package auth

// Permission names follow "resource:action". These are the names the
// migrations seed into the permissions catalog; the bootstrap links
// all of them to the default Admin role.
const (
	PermissionAccountsRead   = "accounts:read"
	PermissionAccountsUpdate = "accounts:update"
	PermissionAccountsDelete = "accounts:delete"

	PermissionMembersRead   = "members:read"
	PermissionMembersInvite = "members:invite"
	PermissionMembersRemove = "members:remove"

	PermissionRolesRead   = "roles:read"
	PermissionRolesManage = "roles:manage"

	PermissionAuditRead = "audit:read"
)

// AllPermissions returns the catalog in a stable order.
func AllPermissions() []string {
	return []string{
		PermissionAccountsRead,
		PermissionAccountsUpdate,
		PermissionAccountsDelete,
		PermissionMembersRead,
		PermissionMembersInvite,
		PermissionMembersRemove,
		PermissionRolesRead,
		PermissionRolesManage,
		PermissionAuditRead,
	}
}

// ValidPermission reports whether name is part of the catalog.
func ValidPermission(name string) bool {
	for _, p := range AllPermissions() {
		if p == name {
			return true
		}
	}
	return false
}
