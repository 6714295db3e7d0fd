package roles

import (
	"time"

	"github.com/aerarium-app/aerarium/internal/authz"
)

// Role is a named, reusable bundle of permissions assigned to users.
type Role struct {
	ID          int64
	Name        string
	Permissions authz.Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReservedNames lists names that may not be used for a role because they
// collide with routing segments.
var ReservedNames = []string{"new"}

// HasPermission reports whether the role's permission set includes the given
// permission.
func (r Role) HasPermission(p authz.Permission) bool {
	return r.Permissions.Has(p)
}
