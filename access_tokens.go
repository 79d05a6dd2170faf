package identity

import (
	"context"
	"time"

	"github.com/giftwell/go-identity/credentials"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenIssuer mints and verifies personal access tokens. The plaintext
// credential exists only in the return value of Issue; storage keeps the
// argon2id hash and an 8-character prefix for indexed lookup.
type TokenIssuer struct {
	repo     RepositoryManager
	hasher   *credentials.Hasher
	logger   Logger
	activity ActivitySink
}

// IssuedToken pairs the one-time plaintext with its stored record.
type IssuedToken struct {
	// Plaintext is shown to the user exactly once and never persisted.
	Plaintext string
	Record    *PersonalAccessToken
}

// NewTokenIssuer builds a TokenIssuer with the given hash cost parameters.
func NewTokenIssuer(repo RepositoryManager, params credentials.HashParams, logger Logger, sink ActivitySink) (*TokenIssuer, error) {
	hasher, err := credentials.NewHasher(params)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = defLogger{}
	}

	return &TokenIssuer{
		repo:     repo,
		hasher:   hasher,
		logger:   logger,
		activity: NormalizeActivitySink(sink),
	}, nil
}

// Issue creates a credential of the given class for the user. expiresAt may
// be nil for a non-expiring token.
func (ti *TokenIssuer) Issue(ctx context.Context, userID uuid.UUID, label string, class credentials.Class, expiresAt *time.Time) (*IssuedToken, error) {
	if label == "" {
		return nil, errors.New("token label is required", errors.CategoryValidation)
	}

	plaintext, err := credentials.Generate(class)
	if err != nil {
		return nil, err
	}

	hash, err := ti.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	record := &PersonalAccessToken{
		ID:          uuid.New(),
		UserID:      userID,
		Label:       label,
		TokenHash:   hash,
		TokenPrefix: credentials.ExtractPrefix(plaintext),
		ExpiresAt:   expiresAt,
	}

	created, err := ti.repo.AccessTokens().Create(ctx, record)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to store access token")
	}

	if err := ti.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventTokenIssued,
		UserID:     userID.String(),
		Metadata:   map[string]any{"label": label, "class": string(class)},
		OccurredAt: time.Now(),
	}); err != nil {
		ti.logger.Warn("token activity sink failed", "error", err)
	}

	return &IssuedToken{Plaintext: plaintext, Record: created}, nil
}

// Verify resolves a presented bearer credential. It collapses every failure
// to (nil, false): malformed input, unknown prefix, hash mismatch, expired
// token, or a corrupt stored hash. The presented value is never logged.
func (ti *TokenIssuer) Verify(ctx context.Context, presented string) (*PersonalAccessToken, bool) {
	if !credentials.IsWellFormed(presented) {
		return nil, false
	}

	candidates, err := ti.repo.AccessTokens().FindByPrefix(ctx, credentials.ExtractPrefix(presented))
	if err != nil {
		ti.logger.Debug("token prefix lookup failed", "error", err)
		return nil, false
	}

	now := time.Now()
	for _, candidate := range candidates {
		if !ti.hasher.Verify(presented, candidate.TokenHash) {
			continue
		}

		if candidate.Expired(now) {
			return nil, false
		}

		if err := ti.repo.AccessTokens().TouchLastUsed(ctx, candidate.ID); err != nil {
			ti.logger.Debug("failed to update token last-used timestamp", "error", err)
		}

		return candidate, true
	}

	return nil, false
}

// Revoke hard-deletes a token owned by userID.
func (ti *TokenIssuer) Revoke(ctx context.Context, userID, tokenID uuid.UUID) error {
	record, err := ti.repo.AccessTokens().GetByID(ctx, tokenID.String())
	if err != nil {
		return err
	}

	if record.UserID != userID {
		return errors.New("token does not belong to user", errors.CategoryAuthz).
			WithCode(errors.CodeForbidden)
	}

	if err := ti.repo.AccessTokens().Revoke(ctx, tokenID); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to revoke token")
	}

	if err := ti.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventTokenRevoked,
		UserID:     userID.String(),
		Metadata:   map[string]any{"token_id": tokenID.String()},
		OccurredAt: time.Now(),
	}); err != nil {
		ti.logger.Warn("token activity sink failed", "error", err)
	}

	return nil
}
