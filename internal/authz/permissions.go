package authz

// Permission is an atomic capability flag gating one administrative action.
// Each permission occupies a single bit so that a role's permission set can
// be stored as one integer column.
type Permission uint64

const (
	// EditRole allows creating, reading, updating, and deleting roles. The
	// last role holding this permission can neither lose it nor be deleted.
	EditRole Permission = 1 << iota
	// EditUser allows creating, reading, updating, and deleting users.
	EditUser
	// EditGlobalSettings allows modifying the global application settings.
	EditGlobalSettings
)

// AllPermissions is the combination of every defined permission.
const AllPermissions = EditRole | EditUser | EditGlobalSettings

// Definition carries display metadata for a single permission.
type Definition struct {
	Permission  Permission
	Name        string
	Title       string
	Description string
}

// Definitions lists every defined permission in declaration order, for
// rendering the role edit form.
func Definitions() []Definition {
	return []Definition{
		{
			Permission:  EditRole,
			Name:        "edit_role",
			Title:       "Edit Roles",
			Description: "Create, read, update, or delete a role. This permission cannot be removed from the only role allowed to edit roles.",
		},
		{
			Permission:  EditUser,
			Name:        "edit_user",
			Title:       "Edit Users",
			Description: "Create, read, update, or delete a user.",
		},
		{
			Permission:  EditGlobalSettings,
			Name:        "edit_global_settings",
			Title:       "Edit Global Settings",
			Description: "Modify the global settings.",
		},
	}
}

// Combine folds the given permissions into a single bitmask.
func Combine(perms ...Permission) Permission {
	var combined Permission
	for _, p := range perms {
		combined |= p
	}
	return combined
}

// Known masks off any bits that do not correspond to a defined permission.
// Undefined high bits in stored values are ignored rather than rejected, so
// a database row written by a newer release never grants or blocks anything
// here.
func (p Permission) Known() Permission {
	return p & AllPermissions
}

// Has reports whether the permission set includes the given permission. The
// empty permission is always included.
func (p Permission) Has(required Permission) bool {
	return p.Known()&required.Known() == required.Known()
}

// HasAny reports whether the permission set includes at least one of the
// given permissions.
func (p Permission) HasAny(required ...Permission) bool {
	for _, r := range required {
		if p.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether the permission set includes every given permission.
func (p Permission) HasAll(required ...Permission) bool {
	for _, r := range required {
		if !p.Has(r) {
			return false
		}
	}
	return true
}
