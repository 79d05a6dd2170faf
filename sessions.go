package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionManager owns the session lifecycle: creation, rotation on
// security-relevant events, concurrency capping, and expiry cleanup.
type SessionManager struct {
	repo     RepositoryManager
	tokens   TokenService
	ttl      time.Duration
	maxPer   int
	logger   Logger
	activity ActivitySink
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithSessionLogger overrides the default logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionActivitySink sets the sink receiving rotation events.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.activity = NormalizeActivitySink(sink)
	}
}

// NewSessionManager builds a SessionManager bound to the repositories and
// claims signer.
func NewSessionManager(repo RepositoryManager, tokens TokenService, cfg *Config, opts ...SessionManagerOption) *SessionManager {
	ttl := 30 * 24 * time.Hour
	maxPer := 5
	if cfg != nil {
		if cfg.SessionTTL > 0 {
			ttl = cfg.SessionTTL
		}
		if cfg.MaxSessionsPerUser > 0 {
			maxPer = cfg.MaxSessionsPerUser
		}
	}

	m := &SessionManager{
		repo:     repo,
		tokens:   tokens,
		ttl:      ttl,
		maxPer:   maxPer,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Create mints a new session row and its signed cookie token.
func (m *SessionManager) Create(ctx context.Context, user *User) (*Session, string, error) {
	if user == nil {
		return nil, "", errors.New("user is required", errors.CategoryBadInput)
	}

	record := newSessionRecord(user.ID, m.ttl)
	session, err := m.repo.Sessions().Create(ctx, record)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CategoryInternal, "failed to create session")
	}

	signed, err := m.tokens.Generate(user, session)
	if err != nil {
		return nil, "", err
	}

	return session, signed, nil
}

// Regenerate invalidates every existing session for the user and mints a
// fresh one, used after login and after any privilege-relevant mutation.
// Both steps run in one transaction, so a retry simply rotates again and the
// user is never left with zero valid sessions. Expiry cleanup afterwards is
// best effort and cannot fail the call.
func (m *SessionManager) Regenerate(ctx context.Context, user *User, reason string) (*Session, string, error) {
	if user == nil {
		return nil, "", errors.New("user is required", errors.CategoryBadInput)
	}

	var session *Session
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := m.repo.Sessions().DeleteByUserTx(ctx, tx, user.ID); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to invalidate sessions")
		}

		created, err := m.createTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		session = created
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	signed, err := m.tokens.Generate(user, session)
	if err != nil {
		return nil, "", err
	}

	if err := m.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventSessionRegenerated,
		UserID:     user.ID.String(),
		Metadata:   map[string]any{"reason": reason},
		OccurredAt: time.Now(),
	}); err != nil {
		m.logger.Warn("session activity sink failed", "error", err)
	}

	m.CleanupExpired(ctx)

	return session, signed, nil
}

// EnforceMaxConcurrent evicts the oldest-issued sessions until the user holds
// at most limit active sessions. A non-positive limit uses the configured cap.
func (m *SessionManager) EnforceMaxConcurrent(ctx context.Context, userID uuid.UUID, limit int) (int64, error) {
	if limit <= 0 {
		limit = m.maxPer
	}

	var evicted int64
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		active, err := m.repo.Sessions().ListActiveByUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if len(active) <= limit {
			return nil
		}

		// active is ordered oldest first.
		excess := active[:len(active)-limit]
		ids := make([]uuid.UUID, 0, len(excess))
		for _, s := range excess {
			ids = append(ids, s.ID)
		}

		evicted, err = m.repo.Sessions().DeleteByIDsTx(ctx, tx, ids)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to enforce session cap")
	}

	return evicted, nil
}

// CleanupExpired removes sessions past expiry. It is safe to call on every
// authentication event; failures are logged, never returned, because an
// authentication flow must not fail on housekeeping.
func (m *SessionManager) CleanupExpired(ctx context.Context) {
	deleted, err := m.repo.Sessions().DeleteExpired(ctx)
	if err != nil {
		m.logger.Warn("expired session cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		m.logger.Debug("expired sessions removed", "count", deleted)
	}
}

// Validate checks a cookie token: the signature and window first, then the
// server-side session row referenced by the JWT ID.
func (m *SessionManager) Validate(ctx context.Context, tokenString string) (*SessionClaims, *Session, error) {
	claims, err := m.tokens.Validate(tokenString)
	if err != nil {
		return nil, nil, err
	}

	session, err := m.repo.Sessions().FindByToken(ctx, claims.SessionID())
	if err != nil {
		return nil, nil, ErrTokenExpired
	}

	return claims, session, nil
}

func (m *SessionManager) createTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Session, error) {
	created, err := m.repo.Sessions().CreateTx(ctx, tx, newSessionRecord(userID, m.ttl))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create session")
	}

	return created, nil
}

func newSessionRecord(userID uuid.UUID, ttl time.Duration) *Session {
	id := uuid.New()
	return &Session{
		ID:        id,
		UserID:    userID,
		Token:     id.String(),
		ExpiresAt: time.Now().Add(ttl),
	}
}
