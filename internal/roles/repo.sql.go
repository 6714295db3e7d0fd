package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/platform/db"
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

const roleColumns = `id, name, permissions, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var perms int64
	if err := row.Scan(&role.ID, &role.Name, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	if perms < 0 {
		perms = 0
	}
	role.Permissions = authz.Permission(perms)
	return role, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by its unique name. Names are case sensitive.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// CountRoles returns how many roles match the LIKE term. An empty term
// counts every role.
func (r *Repository) CountRoles(ctx context.Context, likeTerm string) (int, error) {
	var count int
	if likeTerm == "" {
		err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count)
		return count, err
	}
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE name ILIKE $1`, likeTerm).Scan(&count)
	return count, err
}

// ListRoles returns one page of roles ordered by name, filtered by the LIKE
// term when given.
func (r *Repository) ListRoles(ctx context.Context, likeTerm string, offset, limit int) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY name OFFSET $1 LIMIT $2`
	args := []any{offset, limit}
	if likeTerm != "" {
		query = `SELECT ` + roleColumns + ` FROM roles WHERE name ILIKE $1 ORDER BY name OFFSET $2 LIMIT $3`
		args = []any{likeTerm, offset, limit}
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// AllRoles returns every role ordered by name, for selection lists.
func (r *Repository) AllRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListRolesWithPermission returns every role whose bitmask includes the
// given permission.
func (r *Repository) ListRolesWithPermission(ctx context.Context, p authz.Permission) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE permissions & $1 = $1 ORDER BY name`, int64(p))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a new role. A unique violation on the name surfaces
// as shared.ErrDuplicateName.
func (r *Repository) CreateRole(ctx context.Context, name string, perms authz.Permission) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, permissions, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING `+roleColumns,
		name, int64(perms))
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapUniqueViolation(err)
	}
	return role, nil
}

// UpdateRole updates name and permissions of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name string, perms authz.Permission) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, permissions = $3, updated_at = NOW() WHERE id = $1 RETURNING `+roleColumns,
		id, name, int64(perms))
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapUniqueViolation(err)
	}
	return role, nil
}

// CountUsersWithRole returns the number of users referencing a role.
func (r *Repository) CountUsersWithRole(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// DeleteRole removes a role without touching users. Returns
// shared.ErrNotFound when nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteRoleReassigning moves every user of the role to the replacement
// role and deletes the role, atomically.
func (r *Repository) DeleteRoleReassigning(ctx context.Context, id, newRoleID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE role_id = $1`, id, newRoleID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// UserPermissions returns the combined permission bitmask of the role
// assigned to a user. A user without a role has no permissions.
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

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicateName
	}
	return err
}
