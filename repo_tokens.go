package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccessTokens manages personal access token records. The read path only ever
// handles hashes and prefixes; the secret itself is never reconstructable.
type AccessTokens interface {
	repository.Repository[*PersonalAccessToken]

	FindByPrefix(ctx context.Context, prefix string) ([]*PersonalAccessToken, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*PersonalAccessToken, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
}

type accessTokens struct {
	repository.Repository[*PersonalAccessToken]
	db *bun.DB
}

var _ AccessTokens = (*accessTokens)(nil)

func NewAccessTokensRepository(db *bun.DB) AccessTokens {
	repo := repository.NewRepository[*PersonalAccessToken](db, repository.ModelHandlers[*PersonalAccessToken]{
		NewRecord: func() *PersonalAccessToken { return &PersonalAccessToken{} },
		GetID: func(t *PersonalAccessToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *PersonalAccessToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &accessTokens{
		Repository: repo,
		db:         db,
	}
}

// FindByPrefix narrows candidates by the indexed 8-character prefix before
// the expensive hash comparison. Collisions are possible, so it returns a
// slice rather than a single row.
func (r *accessTokens) FindByPrefix(ctx context.Context, prefix string) ([]*PersonalAccessToken, error) {
	var records []*PersonalAccessToken
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.token_prefix = ?", prefix).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *accessTokens) ListByUser(ctx context.Context, userID uuid.UUID) ([]*PersonalAccessToken, error) {
	var records []*PersonalAccessToken
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *accessTokens) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := r.db.NewUpdate().
		Model((*PersonalAccessToken)(nil)).
		Set("last_used_at = ?", now).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

// Revoke hard-deletes the token record.
func (r *accessTokens) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*PersonalAccessToken)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}
