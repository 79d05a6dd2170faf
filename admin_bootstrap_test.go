package identity_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	identity "github.com/giftwell/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureFirstAdmin(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	sink := &capturingSink{}
	bootstrapper := identity.NewAdminBootstrapper(repo, nil, sink)

	first := seedUser(t, repo, "first@example.com")
	second := seedUser(t, repo, "second@example.com")

	granted, err := bootstrapper.EnsureFirstAdmin(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = bootstrapper.EnsureFirstAdmin(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, granted)

	promoted, err := repo.Users().GetByIdentifier(ctx, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, promoted.Role)
	assert.True(t, promoted.IsAdmin)

	unchanged, err := repo.Users().GetByIdentifier(ctx, second.ID.String())
	require.NoError(t, err)
	assert.Equal(t, identity.RoleUser, unchanged.Role)
	assert.False(t, unchanged.IsAdmin)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, identity.ActivityEventAdminBootstrapped, events[0].EventType)
	assert.Equal(t, first.ID.String(), events[0].UserID)
}

func TestEnsureFirstAdminIsIdempotent(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	bootstrapper := identity.NewAdminBootstrapper(repo, nil, nil)
	user := seedUser(t, repo, "only@example.com")

	granted, err := bootstrapper.EnsureFirstAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = bootstrapper.EnsureFirstAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, granted)
}

// Concurrent signups must produce exactly one administrator no matter how the
// transactions interleave.
func TestEnsureFirstAdminConcurrent(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	ctx := context.Background()
	bootstrapper := identity.NewAdminBootstrapper(repo, nil, nil)

	const racers = 8
	users := make([]*identity.User, racers)
	for i := range users {
		users[i] = seedUser(t, repo, fmt.Sprintf("racer%d@example.com", i))
	}

	var wg sync.WaitGroup
	grants := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i] = bootstrapper.BootstrapNewUser(ctx, users[i].ID)
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, g := range grants {
		if g {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	admins := 0
	for _, u := range users {
		found, err := repo.Users().GetByIdentifier(ctx, u.ID.String())
		require.NoError(t, err)
		if found.IsAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}

func TestBootstrapNewUserNeverFails(t *testing.T) {
	repo, cleanup := setupRepos(t)
	defer cleanup()

	bootstrapper := identity.NewAdminBootstrapper(repo, nil, nil)

	// A user that does not exist cannot be promoted; the sign-in flow still
	// proceeds and simply reports no grant.
	granted := bootstrapper.BootstrapNewUser(context.Background(), seedUser(t, repo, "ok@example.com").ID)
	assert.True(t, granted)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, bootstrapper.BootstrapNewUser(cancelled, seedUser(t, repo, "late@example.com").ID))
}
