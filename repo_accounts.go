package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts manages external provider identities. A (provider,
// provider_account_id) pair is set once at creation and never reassigned to a
// different user; there is deliberately no relink operation.
type Accounts interface {
	repository.Repository[*Account]

	FindByProvider(ctx context.Context, provider, providerAccountID string) (*Account, error)
	FindByProviderTx(ctx context.Context, tx bun.IDB, provider, providerAccountID string) (*Account, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Account, error)
	UpdateTokensTx(ctx context.Context, tx bun.IDB, account *Account) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (r *accounts) FindByProvider(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	return r.FindByProviderTx(ctx, r.db, provider, providerAccountID)
}

func (r *accounts) FindByProviderTx(ctx context.Context, tx bun.IDB, provider, providerAccountID string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ? AND ?TableAlias.provider_account_id = ?", provider, providerAccountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *accounts) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Account, error) {
	var records []*Account
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateTokensTx refreshes the stored OAuth tokens in place. user_id is
// intentionally excluded from the update set.
func (r *accounts) UpdateTokensTx(ctx context.Context, tx bun.IDB, account *Account) error {
	now := time.Now()
	_, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("access_token_ciphertext = ?", account.AccessTokenCiphertext).
		Set("access_token_nonce = ?", account.AccessTokenNonce).
		Set("access_token = ?", account.AccessTokenLegacy).
		Set("refresh_token_ciphertext = ?", account.RefreshTokenCiphertext).
		Set("refresh_token_nonce = ?", account.RefreshTokenNonce).
		Set("refresh_token = ?", account.RefreshTokenLegacy).
		Set("token_expires_at = ?", account.TokenExpiresAt).
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", account.ID).
		Exec(ctx)

	return err
}
