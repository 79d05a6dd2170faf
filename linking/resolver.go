// Package linking decides what a sign-in attempt from an external identity
// provider is allowed to do: sign in an already-linked account, attach the
// identity to an existing verified-email account, create a new account, or
// be rejected.
//
// The decision procedure is an explicit state machine evaluated per attempt:
//
//	StateExistingAccount    an Account row exists for (provider, provider
//	                        account id); always accepted, first and
//	                        unconditionally, regardless of the claimed email
//	StateVerifiedEmailMatch no linked account, but the claimed email matches
//	                        a verified UserEmail; the only transition that
//	                        may attach a new identity to an existing user
//	StateNewUser            no match and the signup policy allows: create
//	                        user, verified primary email, and account
//	StateDenied             no match and the signup policy refuses
//	StateRejectedNoEmail    the provider supplied no email claim
//
// The web layer calls Resolve synchronously from its OAuth callback handler.
package linking

import (
	"context"
	"database/sql"
	"time"

	identity "github.com/giftwell/go-identity"
	"github.com/giftwell/go-identity/secrets"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// State names a terminal state of the resolution machine.
type State string

const (
	StateExistingAccount    State = "existing_account"
	StateVerifiedEmailMatch State = "verified_email_match"
	StateNewUser            State = "new_user"
	StateLegacyEmailMatch   State = "legacy_email_match"
	StateDenied             State = "denied"
	StateRejectedNoEmail    State = "rejected_no_email"
)

// Attempt is the OAuth callback contract this subsystem consumes. Raw
// provider tokens pass through to sealed storage and are never logged.
type Attempt struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	AvatarURL         string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    *time.Time
}

// Validate checks the fields every attempt must carry.
func (a Attempt) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Provider, validation.Required),
		validation.Field(&a.ProviderAccountID, validation.Required),
	)
}

// Outcome reports the user an accepted attempt resolved to.
type Outcome struct {
	State     State
	User      *identity.User
	Account   *identity.Account
	IsNewUser bool
	Linked    bool
}

// Resolver runs the resolution machine against the transactional store.
type Resolver struct {
	repo      identity.RepositoryManager
	policy    SignupPolicy
	encryptor *secrets.Encryptor
	logger    identity.Logger
	activity  identity.ActivitySink

	// OnUserCreated runs after the creating transaction commits; the
	// application wires admin bootstrap and onboarding here. Hook errors are
	// logged, never returned: the sign-in already succeeded.
	OnUserCreated func(ctx context.Context, user *identity.User) error
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithLogger overrides the default logger.
func WithLogger(logger identity.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActivitySink sets the sink that receives login and denial events.
func WithActivitySink(sink identity.ActivitySink) ResolverOption {
	return func(r *Resolver) {
		r.activity = identity.NormalizeActivitySink(sink)
	}
}

// WithEncryptor seals provider tokens at rest. Without one, tokens fall back
// to the legacy plaintext columns.
func WithEncryptor(enc *secrets.Encryptor) ResolverOption {
	return func(r *Resolver) {
		r.encryptor = enc
	}
}

// NewResolver builds a Resolver. policy may be nil, which denies all signups.
func NewResolver(repo identity.RepositoryManager, policy SignupPolicy, opts ...ResolverOption) *Resolver {
	if policy == nil {
		policy = PolicyClosed()
	}

	r := &Resolver{
		repo:     repo,
		policy:   policy,
		logger:   identity.DefaultLogger(),
		activity: identity.NormalizeActivitySink(nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve runs one sign-in attempt through the machine. All row mutations for
// an attempt happen in a single transaction; a cancelled context rolls the
// whole attempt back rather than leaving a half-linked identity. Concurrent
// attempts for the same new email race on the email uniqueness constraint,
// and the loser receives the retryable ErrLinkConflict.
func (r *Resolver) Resolve(ctx context.Context, attempt Attempt) (*Outcome, error) {
	if err := attempt.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid sign-in attempt")
	}

	var outcome *Outcome
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		resolved, err := r.resolveTx(ctx, tx, attempt)
		if err != nil {
			return err
		}
		outcome = resolved
		return nil
	})
	if err != nil {
		if identity.IsUniqueViolation(err) {
			return nil, ErrLinkConflict
		}
		return nil, err
	}

	r.recordOutcome(ctx, attempt, outcome)

	if outcome.IsNewUser && r.OnUserCreated != nil {
		if err := r.OnUserCreated(ctx, outcome.User); err != nil {
			r.logger.Error("post-signup hook failed", "user_id", outcome.User.ID.String(), "error", err)
		}
	}

	return outcome, nil
}

func (r *Resolver) resolveTx(ctx context.Context, tx bun.Tx, attempt Attempt) (*Outcome, error) {
	// Transition 1: an existing linked identity wins unconditionally. Once
	// linked, the (provider, provider account id) pair is permanently bound
	// to its user no matter what email the provider now claims.
	account, err := r.repo.Accounts().FindByProviderTx(ctx, tx, attempt.Provider, attempt.ProviderAccountID)
	if err == nil && account != nil {
		return r.signInExisting(ctx, tx, account, attempt)
	}
	if err != nil && !isNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up linked account")
	}

	if attempt.Email == "" {
		r.recordDenial(ctx, attempt, StateRejectedNoEmail)
		return nil, ErrEmailRequired
	}

	// Transition 2: a verified email is the only bridge to a pre-existing
	// user. Matching unverified rows here would let an attacker pre-register
	// the victim's address and capture the victim's OAuth identity.
	userEmail, err := r.repo.UserEmails().FindVerifiedTx(ctx, tx, attempt.Email)
	if err == nil && userEmail != nil {
		return r.linkToVerified(ctx, tx, userEmail, attempt)
	}
	if err != nil && !isNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up verified email")
	}

	allowed, err := r.policy.AllowSignup(ctx, attempt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "signup policy failed")
	}

	if !allowed {
		r.recordDenial(ctx, attempt, StateDenied)
		return nil, ErrSignupClosed
	}

	return r.createUser(ctx, tx, attempt)
}

func (r *Resolver) signInExisting(ctx context.Context, tx bun.Tx, account *identity.Account, attempt Attempt) (*Outcome, error) {
	user, err := r.repo.Users().GetByIdentifierTx(ctx, tx, account.UserID.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load linked user")
	}

	r.sealTokens(account, attempt)
	account.TokenExpiresAt = attempt.TokenExpiresAt
	if err := r.repo.Accounts().UpdateTokensTx(ctx, tx, account); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to refresh provider tokens")
	}

	r.syncProfileTx(ctx, tx, user, attempt)

	if err := r.repo.Users().TrackSuccessfulLoginTx(ctx, tx, user); err != nil {
		r.logger.Warn("failed to track login", "user_id", user.ID.String(), "error", err)
	}

	return &Outcome{State: StateExistingAccount, User: user, Account: account}, nil
}

func (r *Resolver) linkToVerified(ctx context.Context, tx bun.Tx, userEmail *identity.UserEmail, attempt Attempt) (*Outcome, error) {
	user, err := r.repo.Users().GetByIdentifierTx(ctx, tx, userEmail.UserID.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load email owner")
	}

	account, err := r.createAccountTx(ctx, tx, user.ID, attempt)
	if err != nil {
		return nil, err
	}

	if _, err := r.repo.UserEmails().UpsertVerifiedTx(ctx, tx, user.ID, attempt.Email, userEmail.IsPrimary); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to refresh verified email")
	}

	if err := r.repo.Users().TrackSuccessfulLoginTx(ctx, tx, user); err != nil {
		r.logger.Warn("failed to track login", "user_id", user.ID.String(), "error", err)
	}

	return &Outcome{State: StateVerifiedEmailMatch, User: user, Account: account, Linked: true}, nil
}

func (r *Resolver) createUser(ctx context.Context, tx bun.Tx, attempt Attempt) (*Outcome, error) {
	user := &identity.User{
		Name:      attempt.Name,
		Email:     attempt.Email,
		AvatarURL: attempt.AvatarURL,
		Role:      identity.RoleUser,
	}

	if id, err := hashid.NewUUID(attempt.Email); err == nil {
		user.ID = id
	}

	created, err := r.repo.Users().CreateTx(ctx, tx, user)
	if err != nil {
		return nil, err
	}

	// A pre-registered unverified row for this address must not block the
	// signup, and must not bridge to whoever registered it either. The row
	// gets claimed for the new user; a fresh address gets a plain insert,
	// where the unique constraint on email stays the final guard against
	// two concurrent signups claiming the same address.
	existing, err := r.repo.UserEmails().FindByEmailTx(ctx, tx, attempt.Email)
	if err != nil && !isNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up claimed email")
	}

	if err == nil && existing != nil {
		if _, err := r.repo.UserEmails().ClaimUnverifiedTx(ctx, tx, created.ID, attempt.Email); err != nil {
			return nil, err
		}
	} else {
		now := time.Now()
		email := &identity.UserEmail{
			ID:         uuid.New(),
			UserID:     created.ID,
			Email:      attempt.Email,
			IsPrimary:  true,
			IsVerified: true,
			VerifiedAt: &now,
		}
		if _, err := r.repo.UserEmails().CreateTx(ctx, tx, email); err != nil {
			return nil, err
		}
	}

	account, err := r.createAccountTx(ctx, tx, created.ID, attempt)
	if err != nil {
		return nil, err
	}

	return &Outcome{State: StateNewUser, User: created, Account: account, IsNewUser: true}, nil
}

func (r *Resolver) createAccountTx(ctx context.Context, tx bun.Tx, userID uuid.UUID, attempt Attempt) (*identity.Account, error) {
	account := &identity.Account{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          attempt.Provider,
		ProviderAccountID: attempt.ProviderAccountID,
		TokenExpiresAt:    attempt.TokenExpiresAt,
	}
	r.sealTokens(account, attempt)

	created, err := r.repo.Accounts().CreateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	return created, nil
}

// sealTokens writes provider tokens through the encryptor. Sealing is best
// effort: with no encryptor, or when sealing fails, the legacy plaintext
// columns are used so the sign-in still completes.
func (r *Resolver) sealTokens(account *identity.Account, attempt Attempt) {
	if r.encryptor == nil {
		account.SetAccessTokenSecret(secrets.StoredSecret{Legacy: attempt.AccessToken})
		account.SetRefreshTokenSecret(secrets.StoredSecret{Legacy: attempt.RefreshToken})
		return
	}

	access, err := secrets.Seal(r.encryptor, attempt.AccessToken)
	if err != nil {
		r.logger.Warn("failed to seal access token, storing legacy", "provider", attempt.Provider)
		access = secrets.StoredSecret{Legacy: attempt.AccessToken}
	}
	account.SetAccessTokenSecret(access)

	refresh, err := secrets.Seal(r.encryptor, attempt.RefreshToken)
	if err != nil {
		r.logger.Warn("failed to seal refresh token, storing legacy", "provider", attempt.Provider)
		refresh = secrets.StoredSecret{Legacy: attempt.RefreshToken}
	}
	account.SetRefreshTokenSecret(refresh)
}

func (r *Resolver) syncProfileTx(ctx context.Context, tx bun.Tx, user *identity.User, attempt Attempt) {
	changed := false
	if attempt.Name != "" && attempt.Name != user.Name {
		user.Name = attempt.Name
		changed = true
	}
	if attempt.AvatarURL != "" && attempt.AvatarURL != user.AvatarURL {
		user.AvatarURL = attempt.AvatarURL
		changed = true
	}

	if !changed {
		return
	}

	if _, err := r.repo.Users().UpdateTx(ctx, tx, user, repository.UpdateByID(user.ID.String())); err != nil {
		r.logger.Warn("failed to sync profile", "user_id", user.ID.String(), "error", err)
	}
}

func (r *Resolver) recordOutcome(ctx context.Context, attempt Attempt, outcome *Outcome) {
	eventType := identity.ActivityEventLoginSuccess
	switch {
	case outcome.IsNewUser:
		eventType = identity.ActivityEventUserCreated
	case outcome.Linked:
		eventType = identity.ActivityEventIdentityLinked
	}

	if err := r.activity.Record(ctx, identity.ActivityEvent{
		EventType:  eventType,
		UserID:     outcome.User.ID.String(),
		Provider:   attempt.Provider,
		Metadata:   map[string]any{"state": string(outcome.State)},
		OccurredAt: time.Now(),
	}); err != nil {
		r.logger.Warn("linking activity sink failed", "error", err)
	}
}

func (r *Resolver) recordDenial(ctx context.Context, attempt Attempt, state State) {
	if err := r.activity.Record(ctx, identity.ActivityEvent{
		EventType:  identity.ActivityEventSignupDenied,
		Provider:   attempt.Provider,
		Metadata:   map[string]any{"state": string(state)},
		OccurredAt: time.Now(),
	}); err != nil {
		r.logger.Warn("denial activity sink failed", "error", err)
	}
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
