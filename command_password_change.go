package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	UserID          uuid.UUID `json:"user_id"`
	SessionID       uuid.UUID `json:"session_id"`
	CurrentPassword string    `json:"current_password"`
	NewPassword     string    `json:"new_password"`
}

func (e ChangePasswordMessage) Type() string { return "password.change" }

// ChangePasswordHandler is the authenticated password change. The
// current password must match, and on success every other session of
// the user is revoked while the one performing the change stays alive.
type ChangePasswordHandler struct {
	repo   RepositoryManager
	mailer Mailer
	audit  *AuditEmitter
	logger Logger
}

// NewChangePasswordHandler creates a handler with sane defaults.
func NewChangePasswordHandler(repo RepositoryManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:   repo,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *ChangePasswordHandler) WithMailer(mailer Mailer) *ChangePasswordHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithAuditEmitter wires the audit queue.
func (h *ChangePasswordHandler) WithAuditEmitter(emitter *AuditEmitter) *ChangePasswordHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password change")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	var user *User
	var revoked int64

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByID(ctx, event.UserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrSessionInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve user")
	}

	if err := ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(event.NewPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash); err != nil {
			return err
		}

		revoked, err = h.repo.Sessions().RevokeAllOthersTx(ctx, tx, user.ID, event.SessionID)
		return err
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password change transaction failed")
	}

	dispatchEmail(h.logger, "password changed", func() error {
		return h.mailer.QueuePasswordChangedEmail(context.Background(), PasswordChangedEmail{
			To: user.Email,
		})
	})

	if h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: user.OrganizationID,
			ActorID:        user.ID,
			Action:         AuditActionPasswordChanged,
			EntityType:     "user",
			EntityID:       user.ID.String(),
			Metadata: map[string]any{
				"sessions_revoked": revoked,
			},
		})
	}

	return nil
}
