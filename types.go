package auth

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	// GetSessionExpiration is the session lifetime in hours
	GetSessionExpiration() int
	// GetExtendedSessionExpiration is the "remember me" lifetime in hours
	GetExtendedSessionExpiration() int
	// GetVerificationTokenExpiration is the email verification token TTL in hours
	GetVerificationTokenExpiration() int
	// GetPasswordResetTokenExpiration is the password reset token TTL in hours
	GetPasswordResetTokenExpiration() int
	// GetInvitationExpiration is the invitation TTL in hours
	GetInvitationExpiration() int
	// GetBaseURL is the public base URL embedded in token links
	GetBaseURL() string
	// GetCookieName is the session cookie name
	GetCookieName() string
	// GetCookieSameSite is the SameSite attribute for the session cookie
	GetCookieSameSite() string
}

// SessionMeta carries request metadata captured at session creation.
type SessionMeta struct {
	IPAddress string
	UserAgent string
	Extended  bool
}

// SessionState is the outcome of validating an opaque session value.
type SessionState int

const (
	// SessionInvalid means the value did not resolve to a live row or
	// the secret hash did not match
	SessionInvalid SessionState = iota
	// SessionRevoked means revoked_at is set
	SessionRevoked
	// SessionExpired means expires_at has passed
	SessionExpired
	// SessionActive means the session is usable
	SessionActive
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	case SessionRevoked:
		return "revoked"
	default:
		return "invalid"
	}
}

func durationHours(hours, fallback int) time.Duration {
	if hours <= 0 {
		hours = fallback
	}
	return time.Duration(hours) * time.Hour
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
