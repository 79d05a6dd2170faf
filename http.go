package identity

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// SessionContextKey is where authenticated claims are stored on the request
// context.
const SessionContextKey = "identity_session"

// RouteSessions binds the session lifecycle to the HTTP transport: it writes
// and clears the session cookie and authenticates incoming requests from it.
type RouteSessions struct {
	sessions     *SessionManager
	cfg          *Config
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

// NewRouteSessions builds the HTTP binding for the session manager.
func NewRouteSessions(sessions *SessionManager, cfg *Config) (*RouteSessions, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required", errors.CategoryBadInput)
	}
	if cfg == nil {
		return nil, errors.New("config is required", errors.CategoryBadInput)
	}

	a := &RouteSessions{
		sessions: sessions,
		cfg:      cfg,
		Logger:   defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler

	return a, nil
}

// SignIn rotates the user's sessions and sets the fresh cookie. Every
// successful authentication goes through here so a captured pre-login cookie
// never survives the login.
func (a *RouteSessions) SignIn(ctx router.Context, user *User, reason string) error {
	session, signed, err := a.sessions.Regenerate(ctx.Context(), user, reason)
	if err != nil {
		a.Logger.Error("SignIn session rotation failed", "error", err)
		return err
	}

	a.setCookieToken(ctx, signed, time.Until(session.ExpiresAt))
	return nil
}

// SignOut clears the session cookie. The server-side row is left to expire;
// callers wanting a hard logout should rotate via the session manager.
func (a *RouteSessions) SignOut(ctx router.Context) {
	a.cookieDel(ctx, a.cfg.ResolvedCookieName())
}

// SessionFromRequest authenticates the request from its cookie, falling back
// to a bearer Authorization header.
func (a *RouteSessions) SessionFromRequest(ctx router.Context) (*SessionClaims, error) {
	raw := ctx.Cookies(a.cfg.ResolvedCookieName())
	if raw == "" {
		raw = bearerToken(ctx)
	}
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	claims, _, err := a.sessions.Validate(ctx.Context(), raw)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// ProtectedRoute rejects requests without a valid session and stores the
// claims under SessionContextKey for downstream handlers.
func (a *RouteSessions) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, err := a.SessionFromRequest(ctx)
			if err != nil {
				a.cookieDel(ctx, a.cfg.ResolvedCookieName())
				return a.ErrorHandler(ctx, err)
			}

			ctx.Locals(SessionContextKey, claims)
			return next(ctx)
		}
	}
}

// OptionalRoute attaches claims when a valid session is present and lets the
// request through either way.
func (a *RouteSessions) OptionalRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if claims, err := a.SessionFromRequest(ctx); err == nil {
				ctx.Locals(SessionContextKey, claims)
			}
			return next(ctx)
		}
	}
}

// ClaimsFromContext retrieves claims stored by the middleware, if any.
func ClaimsFromContext(ctx router.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Locals(SessionContextKey).(*SessionClaims)
	return claims, ok
}

func (a *RouteSessions) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.ResolvedCookieName(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.cfg.Production,
		SameSite: "Lax",
	})
}

func (a *RouteSessions) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.Production,
		SameSite: "Lax",
	})
}

func (a *RouteSessions) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Session authentication failed",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
	)

	return c.JSON(router.StatusUnauthorized, map[string]string{
		"error": richErr.Message,
	})
}

func bearerToken(c router.Context) string {
	header := c.GetString("Authorization", "")
	if header == "" {
		return ""
	}

	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
