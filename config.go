package identity

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

// Config holds the process-wide settings of the subsystem. It is read once at
// startup and treated as immutable afterwards.
type Config struct {
	// SigningKey signs the session claims bundle.
	SigningKey string `env:"IDENTITY_SIGNING_KEY"`
	// EncryptionKey is the base64 or raw 32-byte AEAD key for secrets at
	// rest. When empty a fallback key is derived from AppSecret.
	EncryptionKey string `env:"IDENTITY_ENCRYPTION_KEY"`
	// AppSecret is the application-wide secret used for key derivation
	// fallback.
	AppSecret string `env:"IDENTITY_APP_SECRET"`

	Issuer   string   `env:"IDENTITY_ISSUER" envDefault:"giftwell"`
	Audience []string `env:"IDENTITY_AUDIENCE" envSeparator:","`

	// SessionTTL is the fixed validity window of a session, 30 days.
	SessionTTL time.Duration `env:"IDENTITY_SESSION_TTL" envDefault:"720h"`
	// MaxSessionsPerUser caps concurrent sessions; oldest are evicted.
	MaxSessionsPerUser int `env:"IDENTITY_MAX_SESSIONS" envDefault:"5"`

	CookieName string `env:"IDENTITY_COOKIE_NAME" envDefault:"giftwell_session"`
	// Production switches the cookie to the __Secure- name prefix and
	// requires secure transport.
	Production bool `env:"IDENTITY_PRODUCTION" envDefault:"false"`

	// SignupOpen controls whether unknown external identities may create
	// new accounts.
	SignupOpen bool `env:"IDENTITY_SIGNUP_OPEN" envDefault:"true"`
}

// LoadConfig parses the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse identity config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.SessionTTL, validation.Required),
		validation.Field(&c.MaxSessionsPerUser, validation.Min(1)),
		validation.Field(&c.CookieName, validation.Required),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid identity config")
	}

	if c.EncryptionKey == "" && c.AppSecret == "" {
		return errors.New("either IDENTITY_ENCRYPTION_KEY or IDENTITY_APP_SECRET must be set", errors.CategoryValidation)
	}

	return nil
}

// ResolvedCookieName returns the cookie name, carrying the secure-transport
// prefix in production.
func (c Config) ResolvedCookieName() string {
	if c.Production {
		return "__Secure-" + c.CookieName
	}
	return c.CookieName
}
