package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidArgument indicates a violated precondition on caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateName indicates a unique name is already taken.
	ErrDuplicateName = errors.New("name already in use")
	// ErrDuplicateEmail indicates an email address is already registered.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrInUse indicates an entity cannot be deleted while referenced.
	ErrInUse = errors.New("entity still in use")
	// ErrWouldLockOut indicates an operation would leave no role able to manage roles.
	ErrWouldLockOut = errors.New("operation would lock out all administrators")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserSafeMessage maps internal errors to a message suitable for display.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested entry does not exist."
	case errors.Is(err, ErrDuplicateName):
		return "This name is already in use."
	case errors.Is(err, ErrDuplicateEmail):
		return "This email address is already in use."
	case errors.Is(err, ErrInUse):
		return "This entry is still in use and cannot be deleted."
	case errors.Is(err, ErrWouldLockOut):
		return "This change would leave no role able to manage roles."
	case errors.Is(err, ErrInvalidArgument):
		return "The request contains invalid values."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
