package roles

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	AllRoles(ctx context.Context) ([]Role, error)
	CountRoles(ctx context.Context, likeTerm string) (int, error)
	ListRoles(ctx context.Context, likeTerm string, offset, limit int) ([]Role, error)
	ListRolesWithPermission(ctx context.Context, p authz.Permission) ([]Role, error)
	CreateRole(ctx context.Context, name string, perms authz.Permission) (Role, error)
	UpdateRole(ctx context.Context, id int64, name string, perms authz.Permission) (Role, error)
	CountUsersWithRole(ctx context.Context, roleID int64) (int, error)
	DeleteRole(ctx context.Context, id int64) error
	DeleteRoleReassigning(ctx context.Context, id, newRoleID int64) error
	UserPermissions(ctx context.Context, userID int64) (authz.Permission, error)
}

// Auditor records administration actions. Implemented by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role business logic.
type Service struct {
	repo    RepositoryPort
	audit   Auditor
	perPage int
}

// NewService builds a Service instance. perPage is the configured listing
// page size.
func NewService(repo RepositoryPort, audit Auditor, perPage int) *Service {
	return &Service{repo: repo, audit: audit, perPage: perPage}
}

// Listing is one page of a role search.
type Listing struct {
	Roles      []Role
	Page       shared.Page
	SearchTerm string
}

// List returns one page of roles, optionally filtered by a wildcard search
// term on the role name. The count runs first because the requested page is
// clamped against it before the rows are fetched.
func (s *Service) List(ctx context.Context, searchTerm string, requestedPage int) (Listing, error) {
	pattern, err := shared.CompilePattern(searchTerm)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: bad search term: %v", shared.ErrInvalidArgument, err)
	}
	likeTerm := ""
	if !pattern.IsEmpty() {
		likeTerm = pattern.LikeTerm()
	}

	total, err := s.repo.CountRoles(ctx, likeTerm)
	if err != nil {
		return Listing{}, err
	}
	page, err := shared.Paginate(total, s.perPage, requestedPage)
	if err != nil {
		return Listing{}, err
	}

	roles, err := s.repo.ListRoles(ctx, likeTerm, page.Offset(), page.PerPage)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Roles: roles, Page: page, SearchTerm: searchTerm}, nil
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// All returns every role ordered by name, for selection lists.
func (s *Service) All(ctx context.Context) ([]Role, error) {
	return s.repo.AllRoles(ctx)
}

// UsersWithRole returns the number of users referencing a role.
func (s *Service) UsersWithRole(ctx context.Context, roleID int64) (int, error) {
	return s.repo.CountUsersWithRole(ctx, roleID)
}

// GetByName fetches a role by its unique name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// Create inserts a new role with the given permissions.
func (s *Service) Create(ctx context.Context, actorID int64, name string, perms authz.Permission) (Role, error) {
	name, err := validateName(name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.CreateRole(ctx, name, perms.Known())
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditRoleCreated, role)
	return role, nil
}

// Update renames a role and replaces its permissions.
//
// If the role is the only one allowed to edit roles and the new permission
// set drops EditRole, the permission is silently kept: removing it would
// leave nobody able to manage roles ever again.
func (s *Service) Update(ctx context.Context, actorID, id int64, name string, perms authz.Permission) (Role, error) {
	name, err := validateName(name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}

	perms = perms.Known()
	if !perms.Has(authz.EditRole) {
		only, err := s.isOnlyRoleAllowedToEditRoles(ctx, role)
		if err != nil {
			return Role{}, err
		}
		if only {
			perms |= authz.EditRole
		}
	}

	updated, err := s.repo.UpdateRole(ctx, id, name, perms)
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditRoleUpdated, updated)
	return updated, nil
}

// Delete removes a role.
//
// Deleting the only role allowed to edit roles fails with ErrWouldLockOut.
// Deleting a role that users still reference fails with ErrInUse unless a
// replacement role is given, in which case the users are reassigned and the
// role deleted in one transaction.
func (s *Service) Delete(ctx context.Context, actorID, id int64, newRoleID *int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}

	only, err := s.isOnlyRoleAllowedToEditRoles(ctx, role)
	if err != nil {
		return err
	}
	if only {
		return shared.ErrWouldLockOut
	}

	if newRoleID != nil && *newRoleID == id {
		return fmt.Errorf("%w: replacement role must differ from the deleted role", shared.ErrInvalidArgument)
	}

	users, err := s.repo.CountUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if users > 0 {
		if newRoleID == nil {
			return shared.ErrInUse
		}
		if _, err := s.repo.GetRole(ctx, *newRoleID); err != nil {
			return err
		}
		if err := s.repo.DeleteRoleReassigning(ctx, id, *newRoleID); err != nil {
			return err
		}
	} else if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, shared.AuditRoleDeleted, role)
	return nil
}

// PermissionsForUser resolves the permission bitmask of the role assigned
// to a user. Satisfies authz.PermissionResolver.
func (s *Service) PermissionsForUser(ctx context.Context, userID int64) (authz.Permission, error) {
	return s.repo.UserPermissions(ctx, userID)
}

// isOnlyRoleAllowedToEditRoles reports whether the given role is the single
// role holding EditRole. The check considers every role with the permission,
// not just well-known names, so renaming "Administrator" cannot defeat it.
func (s *Service) isOnlyRoleAllowedToEditRoles(ctx context.Context, role Role) (bool, error) {
	if !role.HasPermission(authz.EditRole) {
		return false, nil
	}
	holders, err := s.repo.ListRolesWithPermission(ctx, authz.EditRole)
	if err != nil {
		return false, err
	}
	return len(holders) == 1 && holders[0].ID == role.ID, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, role Role) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(role.ID, 10),
		Meta:     map[string]any{"name": role.Name, "permissions": int64(role.Permissions)},
	})
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: role name required", shared.ErrInvalidArgument)
	}
	for _, reserved := range ReservedNames {
		if name == reserved {
			return "", fmt.Errorf("%w: role name %q is reserved", shared.ErrInvalidArgument, name)
		}
	}
	return name, nil
}
