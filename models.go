package identity

import (
	"time"

	"github.com/giftwell/go-identity/secrets"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity root. Created on first successful authentication,
// never hard-deleted by this subsystem.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name               string     `bun:"name,notnull" json:"name,omitempty"`
	Email              string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Role               UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	IsAdmin            bool       `bun:"is_admin" json:"is_admin,omitempty"`
	OnboardingComplete bool       `bun:"onboarding_complete" json:"onboarding_complete,omitempty"`
	AvatarURL          string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	LoggedInAt         *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt          *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// UserEmail is one row per address a user controls. It is the sole trust
// anchor for identity linking: an address can attach an external identity to
// its owner only when IsVerified is true.
type UserEmail struct {
	bun.BaseModel `bun:"table:user_emails,alias:uem"`

	ID         uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID     uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User       *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Email      string     `bun:"email,notnull,unique" json:"email,omitempty"`
	IsPrimary  bool       `bun:"is_primary" json:"is_primary,omitempty"`
	IsVerified bool       `bun:"is_verified" json:"is_verified,omitempty"`
	VerifiedAt *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt  *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Account is an external provider identity, unique per
// (provider, provider_account_id). Once created it is permanently bound to
// its user; tokens are refreshed in place but the row is never relinked.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acct"`

	ID                uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID            uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User              *User     `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Provider          string    `bun:"provider,notnull" json:"provider,omitempty"`
	ProviderAccountID string    `bun:"provider_account_id,notnull" json:"provider_account_id,omitempty"`

	// OAuth tokens at rest. The ciphertext/nonce pair is the current format;
	// the plaintext columns remain readable for pre-migration rows.
	AccessTokenCiphertext  []byte `bun:"access_token_ciphertext,nullzero" json:"-"`
	AccessTokenNonce       []byte `bun:"access_token_nonce,nullzero" json:"-"`
	AccessTokenLegacy      string `bun:"access_token,nullzero" json:"-"`
	RefreshTokenCiphertext []byte `bun:"refresh_token_ciphertext,nullzero" json:"-"`
	RefreshTokenNonce      []byte `bun:"refresh_token_nonce,nullzero" json:"-"`
	RefreshTokenLegacy     string `bun:"refresh_token,nullzero" json:"-"`

	TokenExpiresAt *time.Time `bun:"token_expires_at,nullzero" json:"token_expires_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AccessTokenSecret returns the stored access token as a secrets variant.
func (a *Account) AccessTokenSecret() secrets.StoredSecret {
	return secrets.StoredSecret{
		Ciphertext: a.AccessTokenCiphertext,
		Nonce:      a.AccessTokenNonce,
		Legacy:     a.AccessTokenLegacy,
	}
}

// RefreshTokenSecret returns the stored refresh token as a secrets variant.
func (a *Account) RefreshTokenSecret() secrets.StoredSecret {
	return secrets.StoredSecret{
		Ciphertext: a.RefreshTokenCiphertext,
		Nonce:      a.RefreshTokenNonce,
		Legacy:     a.RefreshTokenLegacy,
	}
}

// SetAccessTokenSecret writes the sealed access token columns. The legacy
// column is cleared so the row no longer carries plaintext.
func (a *Account) SetAccessTokenSecret(s secrets.StoredSecret) {
	a.AccessTokenCiphertext = s.Ciphertext
	a.AccessTokenNonce = s.Nonce
	a.AccessTokenLegacy = s.Legacy
}

// SetRefreshTokenSecret writes the sealed refresh token columns.
func (a *Account) SetRefreshTokenSecret(s secrets.StoredSecret) {
	a.RefreshTokenCiphertext = s.Ciphertext
	a.RefreshTokenNonce = s.Nonce
	a.RefreshTokenLegacy = s.Legacy
}

// Session is one active authenticated browser session. Rotated on login and
// on privilege-relevant events, garbage-collected after expiry.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID    uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User      *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Token     string     `bun:"token,notnull,unique" json:"-"`
	ExpiresAt time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// PersonalAccessToken is a long-lived bearer credential for programmatic
// access. Only the argon2id hash and an 8-character lookup prefix are stored;
// the secret exists transiently at issuance and is never persisted or logged.
type PersonalAccessToken struct {
	bun.BaseModel `bun:"table:personal_access_tokens,alias:pat"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID      uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User        *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Label       string     `bun:"label,notnull" json:"label,omitempty"`
	TokenHash   string     `bun:"token_hash,notnull" json:"-"`
	TokenPrefix string     `bun:"token_prefix,notnull" json:"token_prefix,omitempty"`
	ExpiresAt   *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `bun:"last_used_at,nullzero" json:"last_used_at,omitempty"`
	CreatedAt   *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token is past its optional expiry.
func (t *PersonalAccessToken) Expired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !t.ExpiresAt.After(now)
}
