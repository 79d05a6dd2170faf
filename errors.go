package identity

import (
	"database/sql"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeIdentityNotFound     = "identity_not_found"
	TextCodeTokenExpired         = "session_token_expired"
	TextCodeTokenMalformed       = "session_token_malformed"
	TextCodeAdminBootstrapFailed = "admin_bootstrap_failed"
)

// ErrIdentityNotFound is returned when no user matches an identifier.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrTokenExpired is returned when a session token is past its validity window.
var ErrTokenExpired = errors.New("session token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when a session token cannot be parsed or its
// signature does not verify.
var ErrTokenMalformed = errors.New("session token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrAdminBootstrapFailed wraps failures of the first-admin grant. It is
// logged and swallowed by sign-in flows; an authentication must never fail
// because housekeeping did.
var ErrAdminBootstrapFailed = errors.New("admin bootstrap failed", errors.CategoryInternal).
	WithTextCode(TextCodeAdminBootstrapFailed)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenExpired) || strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenMalformed) ||
		strings.Contains(err.Error(), "token is malformed")
}

// IsUniqueViolation reports whether a store error came from a uniqueness
// constraint. The database constraint is the final race guard for identity
// linking, so callers map these to a retryable conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
