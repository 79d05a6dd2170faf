package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the self-contained claims bundle carried by the session
// cookie: identity, authorization flags, and UI preferences, bound to a fixed
// validity window.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID                string            `json:"uid,omitempty"`
	Email              string            `json:"email,omitempty"`
	UserRole           string            `json:"role,omitempty"`
	Admin              bool              `json:"admin,omitempty"`
	OnboardingComplete bool              `json:"onboarded,omitempty"`
	Prefs              map[string]string `json:"prefs,omitempty"`
}

// UserID returns the user ID
func (c *SessionClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Role returns the global role
func (c *SessionClaims) Role() string {
	return c.UserRole
}

// SessionID returns the token's JWT ID, which is the database session row ID.
func (c *SessionClaims) SessionID() string {
	return c.RegisteredClaims.ID
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *SessionClaims) IsAtLeast(minRole UserRole) bool {
	return UserRole(c.UserRole).IsAtLeast(minRole)
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// StaleFor reports whether the claims predate the user's last privilege
// mutation and should be refreshed. Admin bootstrap touches the user's
// updated_at marker precisely so this check fires.
func (c *SessionClaims) StaleFor(user *User) bool {
	if user == nil || user.UpdatedAt == nil {
		return false
	}
	return c.IssuedAt().Before(*user.UpdatedAt)
}
