package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/giftwell/go-identity"
	"github.com/giftwell/go-identity/credentials"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, repo identity.RepositoryManager, sink identity.ActivitySink) *identity.TokenIssuer {
	t.Helper()

	issuer, err := identity.NewTokenIssuer(repo, credentials.HashParams{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}, nil, sink)
	require.NoError(t, err)
	return issuer
}

func TestTokenIssuerIssue(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "issue@example.com")
	sink := &capturingSink{}
	issuer := newTestIssuer(t, repo, sink)

	issued, err := issuer.Issue(ctx, user.ID, "ci-deploy", credentials.ClassAccess, nil)
	require.NoError(t, err)

	assert.Equal(t, credentials.ClassAccess, credentials.Classify(issued.Plaintext))
	assert.Equal(t, issued.Plaintext[:8], issued.Record.TokenPrefix)
	assert.NotEqual(t, issued.Plaintext, issued.Record.TokenHash)
	assert.NotContains(t, issued.Record.TokenHash, issued.Plaintext)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, identity.ActivityEventTokenIssued, events[0].EventType)
	// The sink must never see the credential itself.
	for _, v := range events[0].Metadata {
		assert.NotEqual(t, issued.Plaintext, v)
	}
}

func TestTokenIssuerIssueRequiresLabel(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	issuer := newTestIssuer(t, repo, nil)
	_, err := issuer.Issue(context.Background(), uuid.New(), "", credentials.ClassAccess, nil)
	assert.Error(t, err)
}

func TestTokenIssuerVerify(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "verify@example.com")
	issuer := newTestIssuer(t, repo, nil)

	issued, err := issuer.Issue(ctx, user.ID, "ci", credentials.ClassAccess, nil)
	require.NoError(t, err)

	t.Run("accepts the issued plaintext", func(t *testing.T) {
		record, ok := issuer.Verify(ctx, issued.Plaintext)
		require.True(t, ok)
		assert.Equal(t, issued.Record.ID, record.ID)
	})

	t.Run("updates last used", func(t *testing.T) {
		record, err := repo.AccessTokens().GetByID(ctx, issued.Record.ID.String())
		require.NoError(t, err)
		assert.NotNil(t, record.LastUsedAt)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, ok := issuer.Verify(ctx, "not-a-token")
		assert.False(t, ok)
	})

	t.Run("rejects an unknown credential with a valid shape", func(t *testing.T) {
		other, err := credentials.Generate(credentials.ClassAccess)
		require.NoError(t, err)
		_, ok := issuer.Verify(ctx, other)
		assert.False(t, ok)
	})

	t.Run("rejects a truncated credential", func(t *testing.T) {
		_, ok := issuer.Verify(ctx, issued.Plaintext[:len(issued.Plaintext)-1])
		assert.False(t, ok)
	})
}

func TestTokenIssuerVerifyExpired(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "expired@example.com")
	issuer := newTestIssuer(t, repo, nil)

	past := time.Now().Add(-time.Minute)
	issued, err := issuer.Issue(ctx, user.ID, "stale", credentials.ClassAccess, &past)
	require.NoError(t, err)

	_, ok := issuer.Verify(ctx, issued.Plaintext)
	assert.False(t, ok)
}

func TestTokenIssuerRevoke(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	owner := seedUser(t, repo, "owner@example.com")
	stranger := seedUser(t, repo, "stranger@example.com")
	issuer := newTestIssuer(t, repo, nil)

	issued, err := issuer.Issue(ctx, owner.ID, "doomed", credentials.ClassAccess, nil)
	require.NoError(t, err)

	t.Run("refuses another user's token", func(t *testing.T) {
		err := issuer.Revoke(ctx, stranger.ID, issued.Record.ID)
		require.Error(t, err)

		_, ok := issuer.Verify(ctx, issued.Plaintext)
		assert.True(t, ok, "token must survive a failed revocation")
	})

	t.Run("owner revokes", func(t *testing.T) {
		err := issuer.Revoke(ctx, owner.ID, issued.Record.ID)
		require.NoError(t, err)

		_, ok := issuer.Verify(ctx, issued.Plaintext)
		assert.False(t, ok)
	})
}
