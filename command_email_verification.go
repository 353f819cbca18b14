package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RequestEmailVerificationMessage struct {
	Email string `json:"email"`
}

func (e RequestEmailVerificationMessage) Type() string { return "email.verification.request" }

// RequestEmailVerificationHandler re-sends the verification email. The
// result is the same generic success whether the email is unknown,
// inactive, or already verified; a fresh token supersedes any earlier
// one for the account.
type RequestEmailVerificationHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	mailer Mailer
	config Config
	logger Logger
}

// NewRequestEmailVerificationHandler creates a handler with sane defaults.
func NewRequestEmailVerificationHandler(repo RepositoryManager, tokens *TokenManager, config Config) *RequestEmailVerificationHandler {
	return &RequestEmailVerificationHandler{
		repo:   repo,
		tokens: tokens,
		config: config,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *RequestEmailVerificationHandler) WithMailer(mailer Mailer) *RequestEmailVerificationHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestEmailVerificationHandler) WithLogger(logger Logger) *RequestEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestEmailVerificationHandler) Execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification request")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestEmailVerificationHandler) execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			h.logger.Debug("verification requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	if !user.IsActive || user.EmailVerifiedAt != nil {
		h.logger.Debug("verification requested for ineligible user %s", user.ID)
		return nil
	}

	// Same generic response when the user's organization is gone.
	if _, err := h.repo.Organizations().GetByID(ctx, user.OrganizationID.String()); err != nil {
		if repository.IsRecordNotFound(err) {
			h.logger.Debug("verification requested for user %s of a deleted organization", user.ID)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve organization")
	}

	var raw string
	ttl := durationHours(h.config.GetVerificationTokenExpiration(), 48)

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		raw, _, err = h.tokens.Issue(ctx, tx, user.ID.String(), TokenKindEmailVerification, ttl)
		return err
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue verification token")
	}

	dispatchEmail(h.logger, "verification", func() error {
		return h.mailer.QueueVerificationEmail(context.Background(), VerificationEmail{
			To:             user.Email,
			VerifyURL:      VerifyEmailURL(h.config.GetBaseURL(), raw),
			ExpiresInHours: h.config.GetVerificationTokenExpiration(),
		})
	})

	return nil
}

type ConfirmEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(user *User)
}

func (e ConfirmEmailMessage) Type() string { return "email.verification.confirm" }

// ConfirmEmailHandler consumes the verification token and flips the
// user's verification timestamp in the same transaction.
type ConfirmEmailHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	audit  *AuditEmitter
	logger Logger
}

// NewConfirmEmailHandler creates a handler with sane defaults.
func NewConfirmEmailHandler(repo RepositoryManager, tokens *TokenManager) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{
		repo:   repo,
		tokens: tokens,
		logger: defLogger{},
	}
}

// WithAuditEmitter wires the audit queue.
func (h *ConfirmEmailHandler) WithAuditEmitter(emitter *AuditEmitter) *ConfirmEmailHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ConfirmEmailHandler) WithLogger(logger Logger) *ConfirmEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email confirmation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.tokens.Consume(ctx, tx, event.Token, TokenKindEmailVerification)
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

		return h.repo.Users().MarkEmailVerifiedTx(ctx, tx, user.ID)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "email confirmation transaction failed")
	}

	if h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: user.OrganizationID,
			ActorID:        user.ID,
			Action:         AuditActionEmailVerified,
			EntityType:     "user",
			EntityID:       user.ID.String(),
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}
