package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (e InitializePasswordResetMessage) Type() string { return "password.reset.initialize" }

// InitializePasswordResetHandler starts the forgot-password flow. It
// always succeeds from the caller's point of view: an unknown or
// inactive account produces the same nil result as a real one, just
// without a token or an email. Requesting a reset again supersedes any
// earlier token for the account.
type InitializePasswordResetHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	mailer Mailer
	config Config
	logger Logger
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *TokenManager, config Config) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:   repo,
		tokens: tokens,
		config: config,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *InitializePasswordResetHandler) WithMailer(mailer Mailer) *InitializePasswordResetHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset initialization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			h.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	if !user.IsActive {
		h.logger.Debug("password reset requested for inactive user %s", user.ID)
		return nil
	}

	// A soft-deleted organization collapses to not-found; its users get
	// the same generic response as an unknown email.
	if _, err := h.repo.Organizations().GetByID(ctx, user.OrganizationID.String()); err != nil {
		if repository.IsRecordNotFound(err) {
			h.logger.Debug("password reset requested for user %s of a deleted organization", user.ID)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve organization")
	}

	var raw string
	ttl := durationHours(h.config.GetPasswordResetTokenExpiration(), 2)

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		raw, _, err = h.tokens.Issue(ctx, tx, user.ID.String(), TokenKindPasswordReset, ttl)
		return err
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue password reset token")
	}

	dispatchEmail(h.logger, "password reset", func() error {
		return h.mailer.QueuePasswordResetEmail(context.Background(), PasswordResetEmail{
			To:             user.Email,
			ResetURL:       ResetPasswordURL(h.config.GetBaseURL(), raw),
			ExpiresInHours: h.config.GetPasswordResetTokenExpiration(),
		})
	})

	return nil
}
