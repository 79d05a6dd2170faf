package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventSignupDenied       ActivityEventType = "auth.signup.denied"
	ActivityEventIdentityLinked     ActivityEventType = "auth.identity.linked"
	ActivityEventUserCreated        ActivityEventType = "auth.user.created"
	ActivityEventSessionRegenerated ActivityEventType = "auth.session.regenerated"
	ActivityEventAdminBootstrapped  ActivityEventType = "auth.admin.bootstrapped"
	ActivityEventTokenIssued        ActivityEventType = "auth.token.issued"
	ActivityEventTokenRevoked       ActivityEventType = "auth.token.revoked"
)

// ActivityEvent captures audit-friendly information about an action. Token
// values and provider secrets never belong in Metadata.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Provider   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sink failures are logged and never fail the triggering operation.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NormalizeActivitySink substitutes a no-op sink for nil.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
