package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/giftwell/go-identity"
	"github.com/giftwell/go-identity/secrets"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestUsersGetByIdentifier(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "pat@example.com")

	t.Run("finds by id", func(t *testing.T) {
		found, err := repo.Users().GetByIdentifier(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
	})

	t.Run("finds by email", func(t *testing.T) {
		found, err := repo.Users().GetByIdentifier(ctx, "pat@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Users().GetByIdentifier(ctx, "nobody@example.com")
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})
}

func TestUsersRegisterDefaults(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	created, err := repo.Users().Register(context.Background(), &identity.User{
		Name:  "No Role",
		Email: "norole@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleUser, created.Role)
	assert.NotEqual(t, uuid.Nil, created.ID)
}

func TestUsersTrackSuccessfulLogin(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "login@example.com")
	require.Nil(t, user.LoggedInAt)

	err := repo.Users().TrackSuccessfulLogin(ctx, user)
	require.NoError(t, err)

	found, err := repo.Users().GetByIdentifier(ctx, user.ID.String())
	require.NoError(t, err)
	require.NotNil(t, found.LoggedInAt)
	assert.WithinDuration(t, time.Now(), *found.LoggedInAt, 5*time.Second)
}

func TestUsersAdminHelpers(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "first@example.com")

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		count, err := repo.Users().CountAdminsTx(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		require.NoError(t, repo.Users().GrantAdminTx(ctx, tx, user.ID))

		count, err = repo.Users().CountAdminsTx(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)

	promoted, err := repo.Users().GetByIdentifier(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, promoted.Role)
	assert.True(t, promoted.IsAdmin)
	require.NotNil(t, promoted.UpdatedAt)

	t.Run("granting a missing user errors", func(t *testing.T) {
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return repo.Users().GrantAdminTx(ctx, tx, uuid.New())
		})
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})
}

func TestUserEmailsVerifiedLookup(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	owner := seedUser(t, repo, "owner@example.com")
	attacker := seedUser(t, repo, "attacker@example.com")

	_, err := repo.UserEmails().Create(ctx, &identity.UserEmail{
		ID:         uuid.New(),
		UserID:     attacker.ID,
		Email:      "victim@example.com",
		IsVerified: false,
	})
	require.NoError(t, err)

	t.Run("unverified rows are invisible", func(t *testing.T) {
		_, err := repo.UserEmails().FindVerified(ctx, "victim@example.com")
		require.Error(t, err)
	})

	t.Run("verified rows resolve to their owner", func(t *testing.T) {
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := repo.UserEmails().UpsertVerifiedTx(ctx, tx, owner.ID, "owner@example.com", true)
			return err
		})
		require.NoError(t, err)

		found, err := repo.UserEmails().FindVerified(ctx, "owner@example.com")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, found.UserID)
		assert.True(t, found.IsVerified)
	})
}

// The upsert refreshes verification flags on conflict but must never move an
// existing row to a different user.
func TestUserEmailsUpsertDoesNotReassign(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	owner := seedUser(t, repo, "owner@example.com")
	other := seedUser(t, repo, "other@example.com")

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.UserEmails().UpsertVerifiedTx(ctx, tx, owner.ID, "shared@example.com", true)
		return err
	})
	require.NoError(t, err)

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.UserEmails().UpsertVerifiedTx(ctx, tx, other.ID, "shared@example.com", false)
		return err
	})
	require.NoError(t, err)

	found, err := repo.UserEmails().FindVerified(ctx, "shared@example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, found.UserID)
}

func TestUserEmailsClaimUnverified(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	squatter := seedUser(t, repo, "squatter@example.com")
	newcomer := seedUser(t, repo, "newcomer@example.com")

	_, err := repo.UserEmails().Create(ctx, &identity.UserEmail{
		ID:         uuid.New(),
		UserID:     squatter.ID,
		Email:      "contested@example.com",
		IsVerified: false,
	})
	require.NoError(t, err)

	t.Run("reassigns an unverified row", func(t *testing.T) {
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			record, err := repo.UserEmails().ClaimUnverifiedTx(ctx, tx, newcomer.ID, "contested@example.com")
			if err != nil {
				return err
			}
			assert.Equal(t, newcomer.ID, record.UserID)
			assert.True(t, record.IsVerified)
			assert.NotNil(t, record.VerifiedAt)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("never reassigns a verified row", func(t *testing.T) {
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := repo.UserEmails().ClaimUnverifiedTx(ctx, tx, squatter.ID, "contested@example.com")
			return err
		})
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))

		found, err := repo.UserEmails().FindVerified(ctx, "contested@example.com")
		require.NoError(t, err)
		assert.Equal(t, newcomer.ID, found.UserID)
	})
}

func TestUserEmailsMarkVerified(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "pending@example.com")

	_, err := repo.UserEmails().Create(ctx, &identity.UserEmail{
		ID:     uuid.New(),
		UserID: user.ID,
		Email:  "pending@example.com",
	})
	require.NoError(t, err)

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := repo.UserEmails().MarkVerifiedTx(ctx, tx, "pending@example.com")
		if err != nil {
			return err
		}
		assert.True(t, record.IsVerified)
		assert.NotNil(t, record.VerifiedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestAccountsTokenRefreshKeepsBinding(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "linked@example.com")

	account, err := repo.Accounts().Create(ctx, &identity.Account{
		ID:                uuid.New(),
		UserID:            user.ID,
		Provider:          "google",
		ProviderAccountID: "goog-123",
		AccessTokenLegacy: "old-access",
	})
	require.NoError(t, err)

	account.SetAccessTokenSecret(secrets.StoredSecret{Ciphertext: []byte{0x01}, Nonce: []byte{0x02}})
	account.SetRefreshTokenSecret(secrets.StoredSecret{Legacy: "new-refresh"})

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return repo.Accounts().UpdateTokensTx(ctx, tx, account)
	})
	require.NoError(t, err)

	found, err := repo.Accounts().FindByProvider(ctx, "google", "goog-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.UserID)
	assert.Equal(t, []byte{0x01}, found.AccessTokenCiphertext)
	assert.Equal(t, "new-refresh", found.RefreshTokenLegacy)
	assert.Empty(t, found.AccessTokenLegacy)
}

func TestAccountsUniqueProviderIdentity(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "dupe@example.com")

	_, err := repo.Accounts().Create(ctx, &identity.Account{
		ID:                uuid.New(),
		UserID:            user.ID,
		Provider:          "github",
		ProviderAccountID: "gh-1",
	})
	require.NoError(t, err)

	_, err = repo.Accounts().Create(ctx, &identity.Account{
		ID:                uuid.New(),
		UserID:            user.ID,
		Provider:          "github",
		ProviderAccountID: "gh-1",
	})
	require.Error(t, err)
	assert.True(t, identity.IsUniqueViolation(err))
}

func TestSessionsFindByToken(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "sess@example.com")

	live, err := repo.Sessions().Create(ctx, &identity.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     "live-token",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.Sessions().Create(ctx, &identity.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     "dead-token",
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	found, err := repo.Sessions().FindByToken(ctx, "live-token")
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)

	t.Run("expired sessions never resolve", func(t *testing.T) {
		_, err := repo.Sessions().FindByToken(ctx, "dead-token")
		require.Error(t, err)
	})
}

func TestSessionsDeleteExpired(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "gc@example.com")

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Minute, time.Hour} {
		_, err := repo.Sessions().Create(ctx, &identity.Session{
			ID:        uuid.New(),
			UserID:    user.ID,
			Token:     uuid.NewString(),
			ExpiresAt: time.Now().Add(offset),
		})
		require.NoError(t, err, "session %d", i)
	}

	deleted, err := repo.Sessions().DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	remaining, err := repo.Sessions().ListActiveByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestAccessTokensFindByPrefix(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "pat-repo@example.com")

	for _, prefix := range []string{"gwa_aaaa", "gwa_aaaa", "gwa_bbbb"} {
		_, err := repo.AccessTokens().Create(ctx, &identity.PersonalAccessToken{
			ID:          uuid.New(),
			UserID:      user.ID,
			Label:       "ci",
			TokenHash:   "$argon2id$...",
			TokenPrefix: prefix,
		})
		require.NoError(t, err)
	}

	candidates, err := repo.AccessTokens().FindByPrefix(ctx, "gwa_aaaa")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	none, err := repo.AccessTokens().FindByPrefix(ctx, "gwa_zzzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}
