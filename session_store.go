package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

const sessionSecretBytes = 32

// SessionManager owns the server-side session lifecycle. The client
// holds only the opaque "id.secret" value; validation is a per-request
// database read so revocation takes effect immediately, with no
// validity caching between requests.
type SessionManager struct {
	repo   RepositoryManager
	config Config
	logger Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(repo RepositoryManager, config Config, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		repo:   repo,
		config: config,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithSessionLogger overrides the manager's logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// CreateSession persists a new session and returns it together with
// the opaque client value. The secret inside that value is never
// stored; only its SHA-256 is.
func (m *SessionManager) CreateSession(ctx context.Context, userID, orgID uuid.UUID, meta SessionMeta) (*Session, string, error) {
	secret, err := generateSessionSecret()
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session secret")
	}

	now := time.Now()
	duration := durationHours(m.config.GetSessionExpiration(), 24)
	if meta.Extended {
		duration = durationHours(m.config.GetExtendedSessionExpiration(), 24*30)
	}

	session := &Session{
		ID:             uuid.New(),
		UserID:         userID,
		OrganizationID: orgID,
		SecretHash:     hashSessionSecret(secret),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      &now,
		ExpiresAt:      now.Add(duration),
	}

	if _, err := m.repo.Sessions().Create(ctx, session); err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session")
	}

	return session, EncodeSessionValue(session.ID, secret), nil
}

// Validate resolves an opaque value to a session and its state. The
// secret comparison is constant time; a hash mismatch is
// indistinguishable from a missing row.
func (m *SessionManager) Validate(ctx context.Context, opaque string) (*Session, SessionState) {
	id, secret, ok := ParseSessionValue(opaque)
	if !ok {
		return nil, SessionInvalid
	}

	session, err := m.repo.Sessions().GetByID(ctx, id.String())
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			m.logger.Error("session lookup failed: %v", err)
		}
		return nil, SessionInvalid
	}

	if !secretHashMatches(session.SecretHash, secret) {
		return nil, SessionInvalid
	}

	if session.RevokedAt != nil {
		return session, SessionRevoked
	}

	now := time.Now()
	if !session.ExpiresAt.After(now) {
		return session, SessionExpired
	}

	// Best effort only; a failed bump never blocks the request.
	if err := m.repo.Sessions().TouchLastAccessed(ctx, session.ID, now); err != nil {
		m.logger.Debug("failed to bump last_accessed_at for session %s: %v", session.ID, err)
	} else {
		session.LastAccessedAt = &now
	}

	return session, SessionActive
}

// Authenticate maps Validate states onto the error taxonomy, keeping
// expired, revoked, and missing distinguishable for the caller.
func (m *SessionManager) Authenticate(ctx context.Context, opaque string) (*Session, error) {
	if strings.TrimSpace(opaque) == "" {
		return nil, ErrSessionMissing
	}

	session, state := m.Validate(ctx, opaque)
	switch state {
	case SessionActive:
		return session, nil
	case SessionExpired:
		return nil, ErrSessionExpired
	case SessionRevoked:
		return nil, ErrSessionRevoked
	default:
		return nil, ErrSessionInvalid
	}
}

// RevokeSession soft-revokes one session; idempotent.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID uuid.UUID) error {
	return m.repo.Sessions().Revoke(ctx, sessionID)
}

// RevokeAllOthers logs out every other device of the user in a single
// bulk update. The caller's session is never touched.
func (m *SessionManager) RevokeAllOthers(ctx context.Context, userID, exceptSessionID uuid.UUID) (int64, error) {
	return m.repo.Sessions().RevokeAllOthers(ctx, userID, exceptSessionID)
}

// Logout terminates the current session only. Sessions are soft
// revoked rather than deleted so the row remains for audit; other
// sessions of the same user are unaffected.
func (m *SessionManager) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return m.repo.Sessions().Revoke(ctx, sessionID)
}

// ListSessions returns the user's live sessions, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	return m.repo.Sessions().ListActiveByUser(ctx, userID)
}

// EncodeSessionValue renders the opaque client value "id.secret".
func EncodeSessionValue(id uuid.UUID, secret string) string {
	return id.String() + "." + secret
}

// ParseSessionValue splits an opaque value into id and secret.
func ParseSessionValue(opaque string) (uuid.UUID, string, bool) {
	parts := strings.SplitN(opaque, ".", 2)
	if len(parts) != 2 || parts[1] == "" {
		return uuid.Nil, "", false
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, parts[1], true
}

func generateSessionSecret() (string, error) {
	buf := make([]byte, sessionSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSessionSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretHashMatches(storedHash, secret string) bool {
	computed := hashSessionSecret(secret)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(computed)) == 1
}
