package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserEmails manages the verified-email trust anchor.
type UserEmails interface {
	repository.Repository[*UserEmail]

	FindByEmail(ctx context.Context, email string) (*UserEmail, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error)
	FindVerified(ctx context.Context, email string) (*UserEmail, error)
	FindVerifiedTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error)
	UpsertVerifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, email string, primary bool) (*UserEmail, error)
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error)
	ClaimUnverifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, email string) (*UserEmail, error)
}

type userEmails struct {
	repository.Repository[*UserEmail]
	db *bun.DB
}

var _ UserEmails = (*userEmails)(nil)

func NewUserEmailsRepository(db *bun.DB) UserEmails {
	repo := repository.NewRepository[*UserEmail](db, repository.ModelHandlers[*UserEmail]{
		NewRecord: func() *UserEmail { return &UserEmail{} },
		GetID: func(e *UserEmail) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *UserEmail, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &userEmails{
		Repository: repo,
		db:         db,
	}
}

func (r *userEmails) FindByEmail(ctx context.Context, email string) (*UserEmail, error) {
	return r.FindByEmailTx(ctx, r.db, email)
}

func (r *userEmails) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error) {
	record := &UserEmail{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *userEmails) FindVerified(ctx context.Context, email string) (*UserEmail, error) {
	return r.FindVerifiedTx(ctx, r.db, email)
}

// FindVerifiedTx resolves an email only when it has been confirmed out of
// band. Unverified rows are invisible here: matching them would let an
// attacker pre-register a victim's address and capture their account.
func (r *userEmails) FindVerifiedTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error) {
	record := &UserEmail{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.is_verified = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UpsertVerifiedTx creates or updates the row for email as verified under
// userID. The unique constraint on email is the final guard against two
// concurrent attempts claiming the same new address.
func (r *userEmails) UpsertVerifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, email string, primary bool) (*UserEmail, error) {
	now := time.Now()
	record := &UserEmail{
		ID:         uuid.New(),
		UserID:     userID,
		Email:      email,
		IsPrimary:  primary,
		IsVerified: true,
		VerifiedAt: &now,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (email) DO UPDATE").
		Set("is_verified = ?", true).
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return r.FindByEmailTx(ctx, tx, email)
}

// ClaimUnverifiedTx reassigns a pre-registered unverified row for email to
// userID and marks it verified. Verified rows are never reassigned here; a
// claim against one matches nothing and reports not found.
func (r *userEmails) ClaimUnverifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, email string) (*UserEmail, error) {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*UserEmail)(nil)).
		Set("user_id = ?", userID).
		Set("is_primary = ?", true).
		Set("is_verified = ?", true).
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.is_verified = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"email": email})
	}

	return r.FindByEmailTx(ctx, tx, email)
}

func (r *userEmails) MarkVerifiedTx(ctx context.Context, tx bun.IDB, email string) (*UserEmail, error) {
	now := time.Now()
	_, err := tx.NewUpdate().
		Model((*UserEmail)(nil)).
		Set("is_verified = ?", true).
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("?TableAlias.email = ?", email).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return r.FindByEmailTx(ctx, tx, email)
}
