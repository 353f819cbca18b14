package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AdminRoleName is the name of the role the bootstrap creates.
const AdminRoleName = "Admin"

type RegisterOrganizationMessage struct {
	OrganizationName string `json:"organization_name"`
	Slug             string `json:"slug"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone"`
	UseHashid        bool
	OnResponse       func(resp *RegisterOrganizationResponse)
}

func (e RegisterOrganizationMessage) Type() string { return "organization.register" }

type RegisterOrganizationResponse struct {
	Organization      *Organization
	User              *User
	VerificationToken string
}

// RegisterOrganizationHandler bootstraps a tenant in one transaction:
// organization, default Admin role with the full permission catalog,
// the first user (unverified), their profile, and an email
// verification token. Either everything commits or nothing does; no
// partial tenant is ever observable. Duplicate email and slug are
// detected by unique constraints at insert time, never by a pre-check.
type RegisterOrganizationHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	mailer Mailer
	config Config
	audit  *AuditEmitter
	logger Logger
}

// NewRegisterOrganizationHandler creates a handler with sane defaults.
func NewRegisterOrganizationHandler(repo RepositoryManager, tokens *TokenManager, config Config) *RegisterOrganizationHandler {
	return &RegisterOrganizationHandler{
		repo:   repo,
		tokens: tokens,
		config: config,
		mailer: noopMailer{},
		logger: defLogger{},
	}
}

// WithMailer sets the outbound email producer.
func (h *RegisterOrganizationHandler) WithMailer(mailer Mailer) *RegisterOrganizationHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

// WithAuditEmitter wires the audit queue.
func (h *RegisterOrganizationHandler) WithAuditEmitter(emitter *AuditEmitter) *RegisterOrganizationHandler {
	h.audit = emitter
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterOrganizationHandler) WithLogger(logger Logger) *RegisterOrganizationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterOrganizationHandler) Execute(ctx context.Context, event RegisterOrganizationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during organization registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterOrganizationHandler) execute(ctx context.Context, event RegisterOrganizationMessage) error {
	resp := &RegisterOrganizationResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		now := time.Now()

		org := &Organization{
			ID:        uuid.New(),
			Name:      event.OrganizationName,
			Slug:      NormalizeSlug(event.Slug),
			CreatedAt: &now,
		}
		if org, err = h.repo.Organizations().CreateTx(ctx, tx, org); err != nil {
			if UniqueViolationColumn(err, "slug") {
				return ErrSlugTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create organization")
		}

		role := &Role{
			ID:             uuid.New(),
			OrganizationID: org.ID,
			Name:           AdminRoleName,
			Description:    "Organization administrator",
			IsDefault:      true,
			CreatedAt:      &now,
		}
		if role, err = h.repo.Roles().CreateTx(ctx, tx, role); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create default role")
		}

		if err := h.repo.Roles().LinkAllPermissionsTx(ctx, tx, role.ID); err != nil {
			return err
		}

		user := &User{
			OrganizationID: org.ID,
			RoleID:         role.ID,
			Email:          event.Email,
			PasswordHash:   hash,
			IsActive:       true,
			CreatedAt:      &now,
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(NormalizeEmail(event.Email)); err == nil {
				user.ID = id
			}
		}
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
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

		ttl := durationHours(h.config.GetVerificationTokenExpiration(), 48)
		raw, _, err := h.tokens.Issue(ctx, tx, user.ID.String(), TokenKindEmailVerification, ttl)
		if err != nil {
			return err
		}

		resp.Organization = org
		resp.User = user
		resp.VerificationToken = raw
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "organization registration transaction failed")
	}

	dispatchEmail(h.logger, "verification", func() error {
		return h.mailer.QueueVerificationEmail(context.Background(), VerificationEmail{
			To:               resp.User.Email,
			FirstName:        event.FirstName,
			OrganizationName: resp.Organization.Name,
			VerifyURL:        VerifyEmailURL(h.config.GetBaseURL(), resp.VerificationToken),
			ExpiresInHours:   h.config.GetVerificationTokenExpiration(),
		})
	})

	if h.audit != nil {
		h.audit.Emit(AuditEvent{
			OrganizationID: resp.Organization.ID,
			ActorID:        resp.User.ID,
			Action:         AuditActionOrgRegistered,
			EntityType:     "organization",
			EntityID:       resp.Organization.ID.String(),
			After: map[string]any{
				"name": resp.Organization.Name,
				"slug": resp.Organization.Slug,
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
