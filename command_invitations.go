package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CreateInvitationMessage struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	InviterID      uuid.UUID `json:"inviter_id"`
	Email          string    `json:"email"`
	RoleID         uuid.UUID `json:"role_id"`
	OnResponse     func(resp *CreateInvitationResponse)
}

func (e CreateInvitationMessage) Type() string { return "invitation.create" }

type CreateInvitationResponse struct {
	Invitation *Invitation
	RawToken   string
}

// CreateInvitationHandler mints an invitation for (org, email). The
// default Admin role can never be granted through this path, an email
// already attached to a user anywhere in the system is rejected, and
// only a currently pending invitation blocks reissue; revoked or
// expired ones never do.
type CreateInvitationHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	mailer Mailer
	config Config
	audit  *AuditEmitter
	logger Logger
}

// NewCreateInvitationHandler creates a handler with sane defaults.
func NewCreateInvitationHandler(repo RepositoryManager, tokens *TokenManager, config Config) *CreateInvitationHandler {
	return &CreateInvitationHandler{
		repo:   repo,
		tokens: tokens,
		config: config,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *CreateInvitationHandler) WithMailer(mailer Mailer) *CreateInvitationHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithAuditEmitter wires the audit queue.
func (h *CreateInvitationHandler) WithAuditEmitter(emitter *AuditEmitter) *CreateInvitationHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *CreateInvitationHandler) WithLogger(logger Logger) *CreateInvitationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *CreateInvitationHandler) Execute(ctx context.Context, event CreateInvitationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during invitation creation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateInvitationHandler) execute(ctx context.Context, event CreateInvitationMessage) error {
	resp := &CreateInvitationResponse{}
	var org *Organization
	var role *Role

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error

		role, err = h.repo.Roles().GetInOrgTx(ctx, tx, event.OrganizationID, event.RoleID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve invitation role")
		}

		if role.IsDefault {
			return ErrInvitationDefaultRole
		}

		if _, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email); err == nil {
			return ErrEmailTaken
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing users")
		}

		if _, err := h.repo.Invitations().GetPendingTx(ctx, tx, event.OrganizationID, event.Email); err == nil {
			return ErrInvitationPending
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check pending invitations")
		}

		if err := h.repo.Invitations().DeleteExpiredPendingTx(ctx, tx, event.OrganizationID, event.Email); err != nil {
			return err
		}

		org, err = h.repo.Organizations().GetByID(ctx, event.OrganizationID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve organization")
		}

		ttl := durationHours(h.config.GetInvitationExpiration(), 24*7)
		raw, token, err := h.tokens.Issue(ctx, tx, InvitationSubject(event.OrganizationID, event.Email), TokenKindInvitation, ttl)
		if err != nil {
			return err
		}

		now := time.Now()
		invitation := &Invitation{
			ID:             uuid.New(),
			TokenID:        token.ID,
			OrganizationID: event.OrganizationID,
			Email:          NormalizeEmail(event.Email),
			RoleID:         event.RoleID,
			InvitedByID:    event.InviterID,
			ExpiresAt:      token.ExpiresAt,
			CreatedAt:      &now,
		}

		if invitation, err = h.repo.Invitations().CreateTx(ctx, tx, invitation); err != nil {
			// The partial unique index on live (org, email) rows is the
			// authority under concurrency; the pre-check above only
			// exists for the friendlier early return.
			if IsUniqueViolation(err) {
				return ErrInvitationPending
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create invitation")
		}

		resp.Invitation = invitation
		resp.RawToken = raw
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invitation transaction failed")
	}

	dispatchEmail(h.logger, "invitation", func() error {
		return h.mailer.QueueInvitationEmail(context.Background(), InvitationEmail{
			To:               resp.Invitation.Email,
			OrganizationName: org.Name,
			RoleName:         role.Name,
			InviteURL:        AcceptInvitationURL(h.config.GetBaseURL(), resp.RawToken),
		})
	})

	if h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: event.OrganizationID,
			ActorID:        event.InviterID,
			Action:         AuditActionInvitationCreated,
			EntityType:     "invitation",
			EntityID:       resp.Invitation.ID.String(),
			After: map[string]any{
				"email":   resp.Invitation.Email,
				"role_id": resp.Invitation.RoleID.String(),
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

type AcceptInvitationMessage struct {
	Token      string `json:"token"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	OnResponse func(resp *AcceptInvitationResponse)
}

func (e AcceptInvitationMessage) Type() string { return "invitation.accept" }

type AcceptInvitationResponse struct {
	User       *User
	Invitation *Invitation
}

// AcceptInvitationHandler consumes the invitation token and creates
// the invited user inside the same transaction, so the token burn and
// the account creation are atomic together.
type AcceptInvitationHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	audit  *AuditEmitter
	logger Logger
}

// NewAcceptInvitationHandler creates a handler with sane defaults.
func NewAcceptInvitationHandler(repo RepositoryManager, tokens *TokenManager) *AcceptInvitationHandler {
	return &AcceptInvitationHandler{
		repo:   repo,
		tokens: tokens,
		logger: defLogger{},
	}
}

// WithAuditEmitter wires the audit queue.
func (h *AcceptInvitationHandler) WithAuditEmitter(emitter *AuditEmitter) *AcceptInvitationHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *AcceptInvitationHandler) WithLogger(logger Logger) *AcceptInvitationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *AcceptInvitationHandler) Execute(ctx context.Context, event AcceptInvitationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during invitation acceptance")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AcceptInvitationHandler) execute(ctx context.Context, event AcceptInvitationMessage) error {
	resp := &AcceptInvitationResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.tokens.Consume(ctx, tx, event.Token, TokenKindInvitation)
		if err != nil {
			return err
		}

		invitation, err := h.repo.Invitations().GetByTokenIDTx(ctx, tx, token.ID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve invitation")
		}

		if invitation.Terminal() {
			return ErrInvitationTerminal
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		now := time.Now()
		user := &User{
			ID:              uuid.New(),
			OrganizationID:  invitation.OrganizationID,
			RoleID:          invitation.RoleID,
			Email:           invitation.Email,
			PasswordHash:    hash,
			EmailVerifiedAt: &now,
			IsActive:        true,
			CreatedAt:       &now,
		}

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			if UniqueViolationColumn(err, "email") {
				return ErrEmailTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		profile := &Profile{
			ID:        uuid.New(),
			UserID:    user.ID,
			FirstName: event.FirstName,
			LastName:  event.LastName,
			Phone:     NormalizePhone(event.Phone),
			CreatedAt: &now,
		}
		if _, err := h.repo.Profiles().CreateTx(ctx, tx, profile); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create profile")
		}

		if err := h.repo.Invitations().MarkAcceptedTx(ctx, tx, invitation.ID, now); err != nil {
			return err
		}

		invitation.AcceptedAt = &now
		resp.User = user
		resp.Invitation = invitation
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invitation acceptance transaction failed")
	}

	if h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: resp.Invitation.OrganizationID,
			ActorID:        resp.User.ID,
			Action:         AuditActionInvitationAccepted,
			EntityType:     "invitation",
			EntityID:       resp.Invitation.ID.String(),
			Metadata: map[string]any{
				"user_id": resp.User.ID.String(),
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

type RevokeInvitationMessage struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	InvitationID   uuid.UUID `json:"invitation_id"`
	ActorID        uuid.UUID `json:"actor_id"`
}

func (e RevokeInvitationMessage) Type() string { return "invitation.revoke" }

// RevokeInvitationHandler moves pending -> revoked and deletes the
// backing token. Revoking an already terminal invitation is a no-op.
type RevokeInvitationHandler struct {
	repo   RepositoryManager
	audit  *AuditEmitter
	logger Logger
}

// NewRevokeInvitationHandler creates a handler with sane defaults.
func NewRevokeInvitationHandler(repo RepositoryManager) *RevokeInvitationHandler {
	return &RevokeInvitationHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

// WithAuditEmitter wires the audit queue.
func (h *RevokeInvitationHandler) WithAuditEmitter(emitter *AuditEmitter) *RevokeInvitationHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RevokeInvitationHandler) WithLogger(logger Logger) *RevokeInvitationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RevokeInvitationHandler) Execute(ctx context.Context, event RevokeInvitationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during invitation revocation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RevokeInvitationHandler) execute(ctx context.Context, event RevokeInvitationMessage) error {
	var revoked bool
	var invitation *Invitation

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error

		invitation, err = h.repo.Invitations().GetByID(ctx, event.InvitationID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve invitation")
		}

		// Tenant scope: an invitation of another organization is as
		// good as absent.
		if invitation.OrganizationID != event.OrganizationID {
			return ErrNotFound
		}

		revoked, err = h.repo.Invitations().RevokeTx(ctx, tx, invitation.ID)
		if err != nil {
			return err
		}

		if revoked {
			if _, err := tx.NewDelete().
				Model((*SecurityToken)(nil)).
				Where("id = ?", invitation.TokenID).
				Exec(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate invitation token")
			}
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invitation revocation transaction failed")
	}

	if revoked && h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: event.OrganizationID,
			ActorID:        event.ActorID,
			Action:         AuditActionInvitationRevoked,
			EntityType:     "invitation",
			EntityID:       invitation.ID.String(),
		})
	}

	return nil
}
