package linking

import (
	"context"

	"github.com/goliatone/go-errors"
)

// ResolveEmail handles the credential-link (magic link) flow. It is a
// restricted variant of the machine: there is no external identity, so it
// never creates Account rows and resolves directly to the user owning the
// matched verified email.
//
// The legacy fallback matches the denormalized users.email column for rows
// created before the user_emails migration. That check is a narrower trust
// path than the verified-email table and exists only as a migration shim;
// it should be removed once all users carry verified email rows.
func (r *Resolver) ResolveEmail(ctx context.Context, email string) (*Outcome, error) {
	if email == "" {
		return nil, ErrEmailRequired
	}

	userEmail, err := r.repo.UserEmails().FindVerified(ctx, email)
	if err == nil && userEmail != nil {
		user, err := r.repo.Users().GetByIdentifier(ctx, userEmail.UserID.String())
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load email owner")
		}
		return &Outcome{State: StateVerifiedEmailMatch, User: user}, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up verified email")
	}

	user, err := r.repo.Users().GetByIdentifier(ctx, email)
	if err == nil && user != nil {
		r.logger.Info("magic link matched legacy email row", "user_id", user.ID.String())
		return &Outcome{State: StateLegacyEmailMatch, User: user}, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up user by email")
	}

	return nil, ErrUserNotFound
}
