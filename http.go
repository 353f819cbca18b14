package auth

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// LoginPayload is the credential set the HTTP layer hands to Login.
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetExtendedSession() bool
}

// RouteAuthenticator binds the session lifecycle to HTTP: it sets and
// clears the session cookie and guards routes by validating the cookie
// against the store on every request.
type RouteAuthenticator struct {
	auth             *Auther
	sessions         *SessionManager
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther *Auther, sessions *SessionManager, cfg Config) (*RouteAuthenticator, error) {
	a := &RouteAuthenticator{
		cfg:      cfg,
		auth:     auther,
		sessions: sessions,
		Logger:   defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a RouteAuthenticator) cookieName() string {
	if name := a.cfg.GetCookieName(); name != "" {
		return name
	}
	return "session"
}

func (a RouteAuthenticator) cookieSameSite() string {
	if ss := a.cfg.GetCookieSameSite(); ss != "" {
		return ss
	}
	return "Lax"
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return durationHours(a.cfg.GetSessionExpiration(), 24)
}

func (a RouteAuthenticator) GetExtendedCookieDuration() time.Duration {
	return durationHours(a.cfg.GetExtendedSessionExpiration(), 24*30)
}

// ProtectedRoute validates the session cookie against the store on
// every request. Revocation is immediate: a revoked session fails the
// very next request. The session and its user are stored in the
// request locals under "session" and "user".
func (a *RouteAuthenticator) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			session, err := a.sessions.Authenticate(c.Context(), c.Cookies(a.cookieName()))
			if err != nil {
				return errorHandler(c, err)
			}

			user, err := a.auth.UserFromSession(c.Context(), session)
			if err != nil {
				return errorHandler(c, err)
			}

			if !user.IsActive {
				return errorHandler(c, ErrAccountInactive)
			}

			c.Locals("session", session)
			c.Locals("user", user)
			c.SetContext(WithSessionContext(WithContext(c.Context(), user), session))

			return hf(c)
		}
	}
}

// Login authenticates the payload and sets the session cookie.
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) error {
	meta := SessionMeta{
		IPAddress: ctx.IP(),
		UserAgent: ctx.Header("User-Agent"),
		Extended:  payload.GetExtendedSession(),
	}

	session, opaque, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword(), meta)
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return err
	}

	a.setSessionCookie(ctx, opaque, time.Until(session.ExpiresAt))
	return nil
}

// Logout revokes the presented session and clears the cookie. A stale
// or missing cookie still clears cleanly.
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	if opaque := ctx.Cookies(a.cookieName()); opaque != "" {
		a.auth.Logout(ctx.Context(), opaque)
	}
	a.cookieDel(ctx, a.cookieName())
}

func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid session").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) setSessionCookie(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: a.cookieSameSite(),
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: a.cookieSameSite(),
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect("/login", statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.JSON(richErr.Code, router.ViewContext{
			"error": richErr.Message,
		})
	}
}
