package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.email, u.name, u.password_hash, u.is_active, u.role_id, COALESCE(r.name, ''), u.created_at, u.updated_at`
const userJoin = `FROM users u LEFT JOIN roles r ON r.id = u.role_id`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.RoleID, &u.RoleName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` `+userJoin+` WHERE u.id = $1`, id))
}

// GetUserByEmail fetches a user by email. The lookup is case insensitive
// because addresses are stored lowercased but login input may not be.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` `+userJoin+` WHERE LOWER(u.email) = LOWER($1)`, email))
}

// CountUsers returns how many users match the LIKE term on name or email.
// An empty term counts everyone.
func (r *Repository) CountUsers(ctx context.Context, likeTerm string) (int, error) {
	var count int
	if likeTerm == "" {
		err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
		return count, err
	}
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE name ILIKE $1 OR email ILIKE $1`, likeTerm).Scan(&count)
	return count, err
}

// ListUsers returns one page of users ordered by name, filtered on name or
// email by the LIKE term when given.
func (r *Repository) ListUsers(ctx context.Context, likeTerm string, offset, limit int) ([]User, error) {
	query := `SELECT ` + userColumns + ` ` + userJoin + ` ORDER BY u.name, u.id OFFSET $1 LIMIT $2`
	args := []any{offset, limit}
	if likeTerm != "" {
		query = `SELECT ` + userColumns + ` ` + userJoin + ` WHERE u.name ILIKE $1 OR u.email ILIKE $1 ORDER BY u.name, u.id OFFSET $2 LIMIT $3`
		args = []any{likeTerm, offset, limit}
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsersWithRolePermission returns how many active users hold a role
// whose bitmask includes every bit of the given permission. Inactive
// accounts cannot act, so they do not count towards lockout checks.
func (r *Repository) CountUsersWithRolePermission(ctx context.Context, p authz.Permission) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users u JOIN roles r ON r.id = u.role_id WHERE u.is_active AND r.permissions & $1 = $1`,
		int64(p)).Scan(&count)
	return count, err
}

// UserPermissions returns the permission bitmask of the role a user holds.
// A user without a role has no permissions.
func (r *Repository) UserPermissions(ctx context.Context, userID int64) (authz.Permission, error) {
	var perms int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(r.permissions, 0) FROM users u LEFT JOIN roles r ON r.id = u.role_id WHERE u.id = $1`,
		userID).Scan(&perms)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if perms < 0 {
		perms = 0
	}
	return authz.Permission(perms), nil
}

// RolePermissions returns the permission bitmask stored on a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) (authz.Permission, error) {
	var perms int64
	err := r.pool.QueryRow(ctx, `SELECT permissions FROM roles WHERE id = $1`, roleID).Scan(&perms)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	if perms < 0 {
		perms = 0
	}
	return authz.Permission(perms), nil
}

// CreateUser inserts a new user. A unique violation on the email surfaces
// as shared.ErrDuplicateEmail.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, is_active, role_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		u.Email, u.Name, u.PasswordHash, u.IsActive, u.RoleID)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, mapUniqueViolation(err)
	}
	return u, nil
}

// UpdateUser updates name, email, active flag and role of an existing user.
func (r *Repository) UpdateUser(ctx context.Context, u User) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET email = $2, name = $3, is_active = $4, role_id = $5, updated_at = NOW() WHERE id = $1`,
		u.ID, u.Email, u.Name, u.IsActive, u.RoleID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateEmail changes only the email address of a user.
func (r *Repository) UpdateEmail(ctx context.Context, id int64, email string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET email = $2, updated_at = NOW() WHERE id = $1`, id, email)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash of a user.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Returns shared.ErrNotFound when nothing was
// deleted.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicateEmail
	}
	return err
}
