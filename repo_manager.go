package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories plus transaction scoping. Every
// multi-row invariant check in this subsystem runs through RunInTx.
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error

	Users() Users
	UserEmails() UserEmails
	Accounts() Accounts
	Sessions() Sessions
	AccessTokens() AccessTokens
}

type mngr struct {
	db           *bun.DB
	users        Users
	userEmails   UserEmails
	accounts     Accounts
	sessions     Sessions
	accessTokens AccessTokens
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		userEmails:   NewUserEmailsRepository(db),
		accounts:     NewAccountsRepository(db),
		sessions:     NewSessionsRepository(db),
		accessTokens: NewAccessTokensRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.userEmails == nil {
		return errors.New("repository userEmails should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.accessTokens == nil {
		return errors.New("repository accessTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) UserEmails() UserEmails {
	return m.userEmails
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) AccessTokens() AccessTokens {
	return m.accessTokens
}
