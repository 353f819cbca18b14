package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// dummyPasswordHash is compared against when the identifier does not
// resolve to a user, so both failure paths cost one bcrypt comparison.
const dummyPasswordHash = "$2a$14$8Kt0PQTEyJdh1yoyy0sXIuBTNlE9H0AnyzC9bdrLyGUGBO1EJy0mO"

type Auther struct {
	repo     RepositoryManager
	sessions *SessionManager
	audit    *AuditEmitter
	logger   Logger
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, sessions *SessionManager) *Auther {
	return &Auther{
		repo:     repo,
		sessions: sessions,
		logger:   defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithAuditEmitter wires the fire-and-forget audit queue for login
// events.
func (s *Auther) WithAuditEmitter(emitter *AuditEmitter) *Auther {
	s.audit = emitter
	return s
}

// Login verifies the credentials and issues a new session, returning
// the session and the opaque client value. Every credential failure
// maps to ErrInvalidCredentials so the response never reveals whether
// the email exists; only inactive accounts surface a distinct
// Forbidden error, and only after the password matched.
func (s *Auther) Login(ctx context.Context, email, password string, meta SessionMeta) (*Session, string, error) {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Equalize timing with the mismatch path.
			_ = ComparePasswordAndHash(password, dummyPasswordHash)
			s.emit(AuditEvent{
				Action:   AuditActionLoginFailure,
				Metadata: map[string]any{"reason": "unknown_identifier"},
			})
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if trackErr := s.repo.Users().TrackAttemptedLogin(ctx, user); trackErr != nil {
			s.logger.Error("failed to track attempted login for %s: %v", user.ID, trackErr)
		}
		s.emit(AuditEvent{
			OrganizationID: user.OrganizationID,
			ActorID:        user.ID,
			Action:         AuditActionLoginFailure,
			EntityType:     "user",
			EntityID:       user.ID.String(),
			Metadata:       map[string]any{"reason": "password_mismatch"},
		})
		return nil, "", ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, "", ErrAccountInactive
	}

	session, opaque, err := s.sessions.CreateSession(ctx, user.ID, user.OrganizationID, meta)
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.Users().TrackSucccessfulLogin(ctx, user); err != nil {
		s.logger.Error("failed to track successful login for %s: %v", user.ID, err)
	}

	s.emit(AuditEvent{
		OrganizationID: user.OrganizationID,
		ActorID:        user.ID,
		Action:         AuditActionLoginSuccess,
		EntityType:     "session",
		EntityID:       session.ID.String(),
		Metadata: map[string]any{
			"ip_address": meta.IPAddress,
			"user_agent": meta.UserAgent,
		},
	})

	return session, opaque, nil
}

// Logout revokes the presented session only. Unknown or already
// terminated sessions are a silent no-op; logout never errors on a
// stale cookie and never touches other sessions.
func (s *Auther) Logout(ctx context.Context, opaque string) {
	id, _, ok := ParseSessionValue(opaque)
	if !ok {
		return
	}

	if err := s.sessions.Logout(ctx, id); err != nil {
		s.logger.Error("failed to revoke session %s on logout: %v", id, err)
		return
	}

	s.emit(AuditEvent{
		Action:     AuditActionLogout,
		EntityType: "session",
		EntityID:   id.String(),
	})
}

// UserFromSession resolves the session's user, collapsing missing and
// soft-deleted users into ErrSessionInvalid.
func (s *Auther) UserFromSession(ctx context.Context, session *Session) (*User, error) {
	if session == nil {
		return nil, ErrSessionInvalid
	}

	user, err := s.repo.Users().GetByID(ctx, session.UserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve session user")
	}

	return user, nil
}

func (s *Auther) emit(event AuditEvent) {
	if s.audit != nil {
		s.audit.Emit(event)
	}
}
