package identity

import (
	"context"
	"fmt"
)

// Logger is the minimal logging surface the subsystem needs. Implementations
// must never receive token values, ciphertext, or derived plaintext.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Mailer delivers outbound verification email. The transport is owned by the
// application; this subsystem only requests sends.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, link string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultLogger returns the stdout logger used when callers pass nil.
func DefaultLogger() Logger {
	return defLogger{}
}
