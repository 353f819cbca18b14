package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "password.reset.finalize" }

// FinalizePasswordResetHandler consumes the reset token, rewrites the
// password hash, and revokes every live session of the account in the
// same transaction. Whoever held a session before the reset, including
// a possible attacker, is logged out everywhere.
type FinalizePasswordResetHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	mailer Mailer
	audit  *AuditEmitter
	logger Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens *TokenManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:   repo,
		tokens: tokens,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *FinalizePasswordResetHandler) WithMailer(mailer Mailer) *FinalizePasswordResetHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithAuditEmitter wires the audit queue.
func (h *FinalizePasswordResetHandler) WithAuditEmitter(emitter *AuditEmitter) *FinalizePasswordResetHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset finalization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.tokens.Consume(ctx, tx, event.Token, TokenKindPasswordReset)
		if err != nil {
			return err
		}

		userID, err := uuid.Parse(token.Subject)
		if err != nil {
			return ErrTokenInvalid
		}

		user, err = h.repo.Users().GetByID(ctx, userID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve user")
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if err := h.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash); err != nil {
			return err
		}

		// uuid.Nil never matches a session id, so every live session
		// goes.
		if _, err := h.repo.Sessions().RevokeAllOthersTx(ctx, tx, user.ID, uuid.Nil); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
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
			Action:         AuditActionPasswordReset,
			EntityType:     "user",
			EntityID:       user.ID.String(),
		})
	}

	return nil
}
