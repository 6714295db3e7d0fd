package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/mail"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CountUsers(ctx context.Context, likeTerm string) (int, error)
	ListUsers(ctx context.Context, likeTerm string, offset, limit int) ([]User, error)
	CountUsersWithRolePermission(ctx context.Context, p authz.Permission) (int, error)
	UserPermissions(ctx context.Context, userID int64) (authz.Permission, error)
	RolePermissions(ctx context.Context, roleID int64) (authz.Permission, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
}

// MailSender queues transactional mail for asynchronous delivery.
type MailSender interface {
	Enqueue(ctx context.Context, msg mail.Message) error
}

// Auditor records administration actions. Implemented by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig collects the service dependencies and tuning knobs.
type ServiceConfig struct {
	Repo       RepositoryPort
	Tokens     *token.Codec
	Mailer     MailSender
	Audit      Auditor
	PerPage    int
	TokenTTL   time.Duration
	BaseURL    string
	BcryptCost int
}

// Service handles user administration and profile workflows.
type Service struct {
	repo       RepositoryPort
	tokens     *token.Codec
	mailer     MailSender
	audit      Auditor
	validate   *validator.Validate
	perPage    int
	tokenTTL   time.Duration
	baseURL    string
	bcryptCost int
}

// NewService builds a Service instance.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:       cfg.Repo,
		tokens:     cfg.Tokens,
		mailer:     cfg.Mailer,
		audit:      cfg.Audit,
		validate:   validator.New(),
		perPage:    cfg.PerPage,
		tokenTTL:   cfg.TokenTTL,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		bcryptCost: cfg.BcryptCost,
	}
}

// Listing is one page of a user search.
type Listing struct {
	Users      []User
	Page       shared.Page
	SearchTerm string
}

// List returns one page of users, optionally filtered by a wildcard search
// term matching name or email. The count runs first because the requested
// page is clamped against it before the rows are fetched.
func (s *Service) List(ctx context.Context, searchTerm string, requestedPage int) (Listing, error) {
	pattern, err := shared.CompilePattern(searchTerm)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: bad search term: %v", shared.ErrInvalidArgument, err)
	}
	likeTerm := ""
	if !pattern.IsEmpty() {
		likeTerm = pattern.LikeTerm()
	}

	total, err := s.repo.CountUsers(ctx, likeTerm)
	if err != nil {
		return Listing{}, err
	}
	page, err := shared.Paginate(total, s.perPage, requestedPage)
	if err != nil {
		return Listing{}, err
	}

	users, err := s.repo.ListUsers(ctx, likeTerm, page.Offset(), page.PerPage)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Users: users, Page: page, SearchTerm: searchTerm}, nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetByEmail fetches a user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// CreateInput carries the form values for creating a user.
type CreateInput struct {
	Name     string `validate:"required,min=2,max=120"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	RoleID   int64  `validate:"required,gt=0"`
	IsActive bool
}

// Create inserts a new user with a bcrypt hashed password.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
		IsActive:     in.IsActive,
		RoleID:       in.RoleID,
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditUserCreated, user, nil)
	return user, nil
}

// UpdateInput carries the form values for editing a user.
type UpdateInput struct {
	ID       int64  `validate:"required,gt=0"`
	Name     string `validate:"required,min=2,max=120"`
	Email    string `validate:"required,email"`
	RoleID   int64  `validate:"required,gt=0"`
	IsActive bool
}

// Update edits name, email, role and active flag of a user. The update is
// refused when it would strip the last user able to edit roles of that
// ability, either by role change or by deactivation.
func (s *Service) Update(ctx context.Context, actorID int64, in UpdateInput) (User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	user, err := s.repo.GetUser(ctx, in.ID)
	if err != nil {
		return User{}, err
	}

	newPerms, err := s.repo.RolePermissions(ctx, in.RoleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, fmt.Errorf("%w: unknown role", shared.ErrInvalidArgument)
		}
		return User{}, err
	}
	losesEditRole := !newPerms.Has(authz.EditRole) || !in.IsActive
	if losesEditRole {
		last, err := s.isLastRoleEditor(ctx, user)
		if err != nil {
			return User{}, err
		}
		if last {
			return User{}, shared.ErrWouldLockOut
		}
	}

	user.Name = in.Name
	user.Email = in.Email
	user.RoleID = in.RoleID
	user.IsActive = in.IsActive
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditUserUpdated, user, nil)
	return user, nil
}

// Delete removes a user, refusing to delete the last one able to edit roles.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	last, err := s.isLastRoleEditor(ctx, user)
	if err != nil {
		return err
	}
	if last {
		return shared.ErrWouldLockOut
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, shared.AuditUserDeleted, user, nil)
	return nil
}

// RequestEmailChange issues an email change token and mails the
// confirmation link to the NEW address. The stored address only changes
// once the link is followed.
func (s *Service) RequestEmailChange(ctx context.Context, userID int64, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	if err := s.validate.Var(newEmail, "required,email"); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Email == newEmail {
		return fmt.Errorf("%w: address unchanged", shared.ErrInvalidArgument)
	}
	if _, err := s.repo.GetUserByEmail(ctx, newEmail); err == nil {
		return shared.ErrDuplicateEmail
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	tok, err := s.tokens.EncodeEmailChange(token.EmailChangeClaims{UserID: user.ID, NewEmail: newEmail}, s.tokenTTL)
	if err != nil {
		return err
	}
	err = s.mailer.Enqueue(ctx, mail.Message{
		To:       newEmail,
		Subject:  "Confirm your new email address",
		Template: "email_change",
		Context:  s.linkContext(user.Name, "/profile/email/confirm", tok),
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, user.ID, shared.AuditEmailChangeStart, user, map[string]any{"new_email": newEmail})
	return nil
}

// ConfirmEmailChange applies an email change token. Replays are no-ops
// because the address is already set; the token becomes single-use through
// the state change, not through revocation.
func (s *Service) ConfirmEmailChange(ctx context.Context, tok string) (User, error) {
	claims, err := s.tokens.DecodeEmailChange(tok)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.GetUser(ctx, claims.UserID)
	if err != nil {
		return User{}, err
	}
	if user.Email == claims.NewEmail {
		return user, nil
	}
	if other, err := s.repo.GetUserByEmail(ctx, claims.NewEmail); err == nil && other.ID != user.ID {
		return User{}, shared.ErrDuplicateEmail
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return User{}, err
	}
	if err := s.repo.UpdateEmail(ctx, user.ID, claims.NewEmail); err != nil {
		return User{}, err
	}
	old := user.Email
	user.Email = claims.NewEmail
	s.recordAudit(ctx, user.ID, shared.AuditEmailChanged, user, map[string]any{"old_email": old})
	return user, nil
}

// RequestAccountDeletion mails a deletion confirmation link to the user's
// current address.
func (s *Service) RequestAccountDeletion(ctx context.Context, userID int64) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	tok, err := s.tokens.EncodeAccountDeletion(token.AccountDeletionClaims{UserID: user.ID}, s.tokenTTL)
	if err != nil {
		return err
	}
	err = s.mailer.Enqueue(ctx, mail.Message{
		To:       user.Email,
		Subject:  "Confirm the deletion of your account",
		Template: "account_deletion",
		Context:  s.linkContext(user.Name, "/profile/delete/confirm", tok),
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, user.ID, shared.AuditDeletionRequest, user, nil)
	return nil
}

// ConfirmAccountDeletion applies an account deletion token. Deleting the
// last user able to edit roles is refused; a replay after the account is
// gone is a no-op.
func (s *Service) ConfirmAccountDeletion(ctx context.Context, tok string) error {
	claims, err := s.tokens.DecodeAccountDeletion(tok)
	if err != nil {
		return err
	}
	user, err := s.repo.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	last, err := s.isLastRoleEditor(ctx, user)
	if err != nil {
		return err
	}
	if last {
		return shared.ErrWouldLockOut
	}
	if err := s.repo.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	s.recordAudit(ctx, user.ID, shared.AuditUserDeleted, user, map[string]any{"self_service": true})
	return nil
}

// isLastRoleEditor reports whether the user is the only active one whose
// role grants the permission to edit roles. Removing or demoting that
// user would leave nobody able to manage roles. An inactive user is not
// a role editor: they cannot act, and refusing to delete them would
// block cleanup of disabled accounts.
func (s *Service) isLastRoleEditor(ctx context.Context, user User) (bool, error) {
	if !user.IsActive {
		return false, nil
	}
	perms, err := s.repo.UserPermissions(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if !perms.Has(authz.EditRole) {
		return false, nil
	}
	count, err := s.repo.CountUsersWithRolePermission(ctx, authz.EditRole)
	if err != nil {
		return false, err
	}
	return count <= 1, nil
}

func (s *Service) linkContext(name, path, tok string) map[string]any {
	return map[string]any{
		"Name":         name,
		"Link":         s.baseURL + path + "?token=" + tok,
		"ValidMinutes": int(s.tokenTTL.Minutes()),
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, user User, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["email"] = user.Email
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(user.ID, 10),
		Meta:     meta,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
