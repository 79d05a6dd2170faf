package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions manages active browser sessions.
type Sessions interface {
	repository.Repository[*Session]

	FindByToken(ctx context.Context, token string) (*Session, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	ListActiveByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Session, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
	DeleteByIDsTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (r *sessions) FindByToken(ctx context.Context, token string) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Where("?TableAlias.expires_at > ?", time.Now()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *sessions) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	return r.ListActiveByUserTx(ctx, r.db, userID)
}

// ListActiveByUserTx returns non-expired sessions, oldest issuance first so
// callers can evict from the head of the slice.
func (r *sessions) ListActiveByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Session, error) {
	var records []*Session
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.expires_at > ?", time.Now()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *sessions) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessions) DeleteByIDsTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessions) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.expires_at <= ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
