package token

import (
	"fmt"
	"math"
	"time"
)

// Operation kinds carried in the token's "typ" field.
const (
	KindEmailChange     = "email_change"
	KindAccountDeletion = "account_deletion"
	KindPasswordReset   = "password_reset"
)

// EmailChangeClaims confirms a request to change a user's email address. The
// new address travels inside the token so it never has to be stored while
// unconfirmed.
type EmailChangeClaims struct {
	UserID   int64
	NewEmail string
}

// AccountDeletionClaims confirms a request to delete a user's account.
type AccountDeletionClaims struct {
	UserID int64
}

// PasswordResetClaims confirms a request to reset a user's password.
type PasswordResetClaims struct {
	UserID int64
}

// EncodeEmailChange issues a token for the email-change workflow.
func (c *Codec) EncodeEmailChange(cl EmailChangeClaims, ttl time.Duration) (string, error) {
	return c.Encode(KindEmailChange, map[string]any{
		"user_id":   cl.UserID,
		"new_email": cl.NewEmail,
	}, ttl)
}

// DecodeEmailChange verifies an email-change token.
func (c *Codec) DecodeEmailChange(tok string) (EmailChangeClaims, error) {
	payload, err := c.decodeKind(tok, KindEmailChange, "user_id", "new_email")
	if err != nil {
		return EmailChangeClaims{}, err
	}
	userID, err := payloadInt64(payload, "user_id")
	if err != nil {
		return EmailChangeClaims{}, err
	}
	newEmail, err := payloadString(payload, "new_email")
	if err != nil {
		return EmailChangeClaims{}, err
	}
	return EmailChangeClaims{UserID: userID, NewEmail: newEmail}, nil
}

// EncodeAccountDeletion issues a token for the account-deletion workflow.
func (c *Codec) EncodeAccountDeletion(cl AccountDeletionClaims, ttl time.Duration) (string, error) {
	return c.Encode(KindAccountDeletion, map[string]any{"user_id": cl.UserID}, ttl)
}

// DecodeAccountDeletion verifies an account-deletion token.
func (c *Codec) DecodeAccountDeletion(tok string) (AccountDeletionClaims, error) {
	payload, err := c.decodeKind(tok, KindAccountDeletion, "user_id")
	if err != nil {
		return AccountDeletionClaims{}, err
	}
	userID, err := payloadInt64(payload, "user_id")
	if err != nil {
		return AccountDeletionClaims{}, err
	}
	return AccountDeletionClaims{UserID: userID}, nil
}

// EncodePasswordReset issues a token for the password-reset workflow.
func (c *Codec) EncodePasswordReset(cl PasswordResetClaims, ttl time.Duration) (string, error) {
	return c.Encode(KindPasswordReset, map[string]any{"user_id": cl.UserID}, ttl)
}

// DecodePasswordReset verifies a password-reset token.
func (c *Codec) DecodePasswordReset(tok string) (PasswordResetClaims, error) {
	payload, err := c.decodeKind(tok, KindPasswordReset, "user_id")
	if err != nil {
		return PasswordResetClaims{}, err
	}
	userID, err := payloadInt64(payload, "user_id")
	if err != nil {
		return PasswordResetClaims{}, err
	}
	return PasswordResetClaims{UserID: userID}, nil
}

// decodeKind decodes a token and checks that its kind matches and that the
// payload carries exactly the expected fields. A token of the wrong kind or
// shape is malformed for this workflow, even though its signature verifies;
// this prevents a password-reset token from confirming an account deletion.
func (c *Codec) decodeKind(tok, wantKind string, fields ...string) (map[string]any, error) {
	kind, payload, err := c.Decode(tok)
	if err != nil {
		return nil, err
	}
	if kind != wantKind {
		return nil, fmt.Errorf("%w: kind %q, want %q", ErrMalformed, kind, wantKind)
	}
	if len(payload) != len(fields) {
		return nil, fmt.Errorf("%w: unexpected payload shape", ErrMalformed)
	}
	for _, f := range fields {
		if _, ok := payload[f]; !ok {
			return nil, fmt.Errorf("%w: missing payload field %q", ErrMalformed, f)
		}
	}
	return payload, nil
}

func payloadInt64(payload map[string]any, field string) (int64, error) {
	// JSON numbers decode as float64.
	f, ok := payload[field].(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: payload field %q is not an integer", ErrMalformed, field)
	}
	return int64(f), nil
}

func payloadString(payload map[string]any, field string) (string, error) {
	s, ok := payload[field].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: payload field %q is not a string", ErrMalformed, field)
	}
	return s, nil
}
