package linking

import "github.com/goliatone/go-errors"

const (
	TextCodeEmailRequired = "link_email_required"
	TextCodeSignupClosed  = "link_signup_closed"
	TextCodeLinkConflict  = "link_conflict"
	TextCodeUserNotFound  = "link_user_not_found"
)

// ErrEmailRequired is returned for provider callbacks carrying no email
// claim. Email is mandatory for every externally-linked identity.
var ErrEmailRequired = errors.New("provider did not supply an email", errors.CategoryBadInput).
	WithTextCode(TextCodeEmailRequired).
	WithCode(errors.CodeBadRequest)

// ErrSignupClosed is the structured denial surfaced when the signup policy
// rejects an unknown identity. It is a policy outcome for user-facing
// messaging, not an application error.
var ErrSignupClosed = errors.New("signups are closed", errors.CategoryAuth).
	WithTextCode(TextCodeSignupClosed).
	WithCode(errors.CodeForbidden)

// ErrLinkConflict is returned when a concurrent attempt won the race on the
// email uniqueness constraint. The attempt is retryable.
var ErrLinkConflict = errors.New("identity link conflicted with a concurrent attempt", errors.CategoryConflict).
	WithTextCode(TextCodeLinkConflict).
	WithCode(errors.CodeConflict)

// ErrUserNotFound is returned by the email-only flow when no account owns
// the address.
var ErrUserNotFound = errors.New("no account for email", errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)
