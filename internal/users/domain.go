package users

import "time"

// User is a managed account. RoleName is populated by queries that join
// the roles table and is empty otherwise.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	RoleID       int64
	RoleName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
