package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AdminBootstrapper grants the administrator role to the first user of a
// fresh deployment. It runs opportunistically on every new-user creation.
type AdminBootstrapper struct {
	repo     RepositoryManager
	logger   Logger
	activity ActivitySink
}

// NewAdminBootstrapper builds an AdminBootstrapper.
func NewAdminBootstrapper(repo RepositoryManager, logger Logger, sink ActivitySink) *AdminBootstrapper {
	if logger == nil {
		logger = defLogger{}
	}
	return &AdminBootstrapper{
		repo:     repo,
		logger:   logger,
		activity: NormalizeActivitySink(sink),
	}
}

// EnsureFirstAdmin grants admin to userID when no administrator exists yet.
// The check-then-grant pair runs under serializable isolation: under the
// store's default level two users finishing signup in the same window could
// both read "no admin exists" and both be promoted. Serializable is required
// for correctness here, not a tuning choice.
//
// It reports whether the grant happened.
func (b *AdminBootstrapper) EnsureFirstAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	granted := false

	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	err := b.repo.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		count, err := b.repo.Users().CountAdminsTx(ctx, tx)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to count administrators")
		}

		if count > 0 {
			return nil
		}

		if err := b.repo.Users().GrantAdminTx(ctx, tx, userID); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to grant administrator role")
		}

		granted = true
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, ErrAdminBootstrapFailed.Category, ErrAdminBootstrapFailed.Message).
			WithTextCode(ErrAdminBootstrapFailed.TextCode)
	}

	if granted {
		if err := b.activity.Record(ctx, ActivityEvent{
			EventType:  ActivityEventAdminBootstrapped,
			UserID:     userID.String(),
			OccurredAt: time.Now(),
		}); err != nil {
			b.logger.Warn("admin bootstrap activity sink failed", "error", err)
		}
	}

	return granted, nil
}

// BootstrapNewUser is the sign-in flow entry point: it never fails the
// enclosing authentication. A failed grant is logged and the user proceeds as
// a non-admin, correctable later by an operator.
func (b *AdminBootstrapper) BootstrapNewUser(ctx context.Context, userID uuid.UUID) bool {
	granted, err := b.EnsureFirstAdmin(ctx, userID)
	if err != nil {
		b.logger.Error("admin bootstrap failed, continuing sign-in", "user_id", userID.String(), "error", err)
		return false
	}
	return granted
}
