package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aerarium-app/aerarium/internal/mail"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
)

// MailSender queues transactional mail for asynchronous delivery.
type MailSender interface {
	Enqueue(ctx context.Context, msg mail.Message) error
}

// Auditor records authentication related actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig collects the service dependencies and tuning knobs.
type ServiceConfig struct {
	Repo       Repository
	Tokens     *token.Codec
	Mailer     MailSender
	Audit      Auditor
	TokenTTL   time.Duration
	BaseURL    string
	BcryptCost int
}

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	tokens     *token.Codec
	mailer     MailSender
	audit      Auditor
	tokenTTL   time.Duration
	baseURL    string
	bcryptCost int
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:       cfg.Repo,
		tokens:     cfg.Tokens,
		mailer:     cfg.Mailer,
		audit:      cfg.Audit,
		tokenTTL:   cfg.TokenTTL,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		bcryptCost: cfg.BcryptCost,
	}
}

// Authenticate validates email/password credentials. Unknown address,
// inactive account and wrong password all collapse into
// ErrInvalidCredentials so a login form cannot probe for accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// RequestPasswordReset mails a reset link to the given address. An unknown
// address is reported as success so the form cannot be used to probe for
// accounts; only storage failures surface as errors.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	tok, err := s.tokens.EncodePasswordReset(token.PasswordResetClaims{UserID: user.ID}, s.tokenTTL)
	if err != nil {
		return err
	}
	err = s.mailer.Enqueue(ctx, mail.Message{
		To:       user.Email,
		Subject:  "Reset your password",
		Template: "password_reset",
		Context: map[string]any{
			"Name":         user.Name,
			"Link":         s.baseURL + "/auth/password/reset?token=" + tok,
			"ValidMinutes": int(s.tokenTTL.Minutes()),
		},
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, user, shared.AuditPasswordReset)
	return nil
}

// ConfirmPasswordReset applies a password reset token. The token stays
// technically valid until it expires; replaying it sets the same password
// again, which is harmless.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tok, password string) error {
	claims, err := s.tokens.DecodePasswordReset(tok)
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password too short", shared.ErrInvalidArgument)
	}
	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.recordAudit(ctx, user, shared.AuditPasswordChanged)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, user *User, action string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.ID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(user.ID, 10),
		Meta:     map[string]any{"email": user.Email},
	})
}
