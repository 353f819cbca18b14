package auth

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// genericAcceptedMessage is returned by the flows that must not reveal
// whether an email exists.
const genericAcceptedMessage = "If the account exists, an email is on its way"

// RegisterAuthRoutes mounts the JSON auth endpoints on the router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {
	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Login, controller.LoginPost).SetName("sign-in.post")
	app.Post(controller.Routes.Logout, controller.LogoutPost).SetName("sign-out.post")

	app.Post(controller.Routes.Register, controller.RegistrationCreate).SetName("register.post")

	app.Post(controller.Routes.PasswordReset, controller.PasswordResetInit).SetName("pwd-reset.post")
	app.Post(fmt.Sprintf("%s/confirm", controller.Routes.PasswordReset), controller.PasswordResetConfirm).
		SetName("pwd-reset-confirm.post")
	app.Post(controller.Routes.PasswordChange, controller.PasswordChange).SetName("pwd-change.post")

	app.Post(fmt.Sprintf("%s/request", controller.Routes.VerifyEmail), controller.VerificationRequest).
		SetName("verify-email-request.post")
	app.Post(fmt.Sprintf("%s/confirm", controller.Routes.VerifyEmail), controller.VerificationConfirm).
		SetName("verify-email-confirm.post")

	app.Get(controller.Routes.Invitations, controller.InvitationList).SetName("invitations.get")
	app.Post(controller.Routes.Invitations, controller.InvitationCreate).SetName("invitations.post")
	app.Post(fmt.Sprintf("%s/accept", controller.Routes.Invitations), controller.InvitationAccept).
		SetName("invitations-accept.post")
	app.Delete(fmt.Sprintf("%s/:id", controller.Routes.Invitations), controller.InvitationRevoke).
		SetName("invitations-revoke.delete")

	app.Get(controller.Routes.Sessions, controller.SessionList).SetName("sessions.get")
	app.Delete(fmt.Sprintf("%s/others", controller.Routes.Sessions), controller.SessionRevokeOthers).
		SetName("sessions-revoke-others.delete")
}

type AuthControllerRoutes struct {
	Login          string
	Logout         string
	Register       string
	PasswordReset  string
	PasswordChange string
	VerifyEmail    string
	Invitations    string
	Sessions       string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Auther       *RouteAuthenticator
	Sessions     *SessionManager
	Guard        *Guard
	Tokens       *TokenManager
	Config       Config
	Mailer       Mailer
	Audit        *AuditEmitter
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Mailer:       noopMailer{},
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			Logout:         "/logout",
			Register:       "/register",
			PasswordReset:  "/password-reset",
			PasswordChange: "/password",
			VerifyEmail:    "/verify-email",
			Invitations:    "/invitations",
			Sessions:       "/sessions",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.Sessions == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenManager in auth controller...")
	}

	if c.Config == nil {
		panic("Missing Config in auth controller...")
	}

	return c
}

// WithControllerRepository sets the repository manager.
func WithControllerRepository(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

// WithControllerAuther sets the HTTP authenticator.
func WithControllerAuther(auther *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

// WithControllerSessions sets the session manager.
func WithControllerSessions(sessions *SessionManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Sessions = sessions
		return c
	}
}

// WithControllerGuard sets the permission guard.
func WithControllerGuard(guard *Guard) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Guard = guard
		return c
	}
}

// WithControllerTokens sets the token manager.
func WithControllerTokens(tokens *TokenManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Tokens = tokens
		return c
	}
}

// WithControllerConfig sets the configuration.
func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Config = cfg
		return c
	}
}

// WithControllerMailer sets the outbound email producer.
func WithControllerMailer(mailer Mailer) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Mailer = normalizeMailer(mailer)
		return c
	}
}

// WithControllerAudit sets the audit queue.
func WithControllerAudit(audit *AuditEmitter) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Audit = audit
		return c
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports the remember-me flag
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(payload))
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "ok"})
}

func (a *AuthController) LogoutPost(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "ok"})
}

// RegistrationCreatePayload is the org bootstrap payload
type RegistrationCreatePayload struct {
	OrganizationName string `form:"organization_name" json:"organization_name"`
	Slug             string `form:"slug" json:"slug"`
	FirstName        string `form:"first_name" json:"first_name"`
	LastName         string `form:"last_name" json:"last_name"`
	Email            string `form:"email" json:"email"`
	Phone            string `form:"phone_number" json:"phone_number"`
	Password         string `form:"password" json:"password"`
	ConfirmPassword  string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Slug, validation.Required, validation.Length(2, 100)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 15)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register payload parse: %v", err)
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register payload validate: %v", err)
		return a.validationFailed(ctx, err)
	}

	var res *RegisterOrganizationResponse

	req := RegisterOrganizationMessage{
		OrganizationName: payload.OrganizationName,
		Slug:             payload.Slug,
		FirstName:        payload.FirstName,
		LastName:         payload.LastName,
		Email:            payload.Email,
		Phone:            payload.Phone,
		Password:         payload.Password,
		OnResponse: func(resp *RegisterOrganizationResponse) {
			res = resp
		},
	}

	register := NewRegisterOrganizationHandler(a.Repo, a.Tokens, a.Config).
		WithMailer(a.Mailer).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	if err := register.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register execute: %v", err)
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, router.ViewContext{
		"organization_id": res.Organization.ID,
		"user_id":         res.User.ID,
	})
}

// PasswordResetRequestPayload holds values for starting a reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) PasswordResetInit(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	initReset := NewInitializePasswordResetHandler(a.Repo, a.Tokens, a.Config).
		WithMailer(a.Mailer).
		WithLogger(a.Logger)

	if err := initReset.Execute(ctx.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		a.Logger.Error("password reset init: %v", err)
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusAccepted, router.ViewContext{"message": genericAcceptedMessage})
}

// PasswordResetConfirmPayload carries the token and the new password
type PasswordResetConfirmPayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) PasswordResetConfirm(ctx router.Context) error {
	payload := new(PasswordResetConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	finalize := NewFinalizePasswordResetHandler(a.Repo, a.Tokens).
		WithMailer(a.Mailer).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	err := finalize.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.Password,
	})
	if err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "ok"})
}

// PasswordChangePayload is the authenticated change payload
type PasswordChangePayload struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordChangePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *AuthController) PasswordChange(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	payload := new(PasswordChangePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	change := NewChangePasswordHandler(a.Repo).
		WithMailer(a.Mailer).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	err = change.Execute(ctx.Context(), ChangePasswordMessage{
		UserID:          user.ID,
		SessionID:       session.ID,
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
	})
	if err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "ok"})
}

// VerificationRequestPayload asks for a fresh verification email
type VerificationRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r VerificationRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) VerificationRequest(ctx router.Context) error {
	payload := new(VerificationRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	request := NewRequestEmailVerificationHandler(a.Repo, a.Tokens, a.Config).
		WithMailer(a.Mailer).
		WithLogger(a.Logger)

	if err := request.Execute(ctx.Context(), RequestEmailVerificationMessage{Email: payload.Email}); err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusAccepted, router.ViewContext{"message": genericAcceptedMessage})
}

// VerificationConfirmPayload carries the verification token
type VerificationConfirmPayload struct {
	Token string `form:"token" json:"token" query:"token"`
}

// Validate will validate the payload
func (r VerificationConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (a *AuthController) VerificationConfirm(ctx router.Context) error {
	payload := new(VerificationConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if payload.Token == "" {
		payload.Token = ctx.Query("token", "")
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	confirm := NewConfirmEmailHandler(a.Repo, a.Tokens).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	if err := confirm.Execute(ctx.Context(), ConfirmEmailMessage{Token: payload.Token}); err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "verified"})
}

// InvitationCreatePayload invites an email into the caller's org
type InvitationCreatePayload struct {
	Email  string `form:"email" json:"email"`
	RoleID string `form:"role_id" json:"role_id"`
}

// Validate will validate the payload
func (r InvitationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.RoleID, validation.Required, is.UUIDv4),
	)
}

func (a *AuthController) InvitationCreate(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	if a.Guard != nil {
		if err := a.Guard.Require(ctx.Context(), user, PermissionMembersInvite); err != nil {
			return a.jsonError(ctx, err)
		}
	}

	payload := new(InvitationCreatePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	roleID, err := uuid.Parse(payload.RoleID)
	if err != nil {
		return a.badRequest(ctx, err)
	}

	var res *CreateInvitationResponse

	create := NewCreateInvitationHandler(a.Repo, a.Tokens, a.Config).
		WithMailer(a.Mailer).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	err = create.Execute(ctx.Context(), CreateInvitationMessage{
		OrganizationID: session.OrganizationID,
		InviterID:      user.ID,
		Email:          payload.Email,
		RoleID:         roleID,
		OnResponse: func(resp *CreateInvitationResponse) {
			res = resp
		},
	})
	if err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, router.ViewContext{
		"invitation_id": res.Invitation.ID,
		"expires_at":    res.Invitation.ExpiresAt,
	})
}

// InvitationAcceptPayload finalizes an invitation into an account
type InvitationAcceptPayload struct {
	Token           string `form:"token" json:"token"`
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Phone           string `form:"phone_number" json:"phone_number"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r InvitationAcceptPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) InvitationAccept(ctx router.Context) error {
	payload := new(InvitationAcceptPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.validationFailed(ctx, err)
	}

	var res *AcceptInvitationResponse

	accept := NewAcceptInvitationHandler(a.Repo, a.Tokens).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	err := accept.Execute(ctx.Context(), AcceptInvitationMessage{
		Token:     payload.Token,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Phone:     payload.Phone,
		OnResponse: func(resp *AcceptInvitationResponse) {
			res = resp
		},
	})
	if err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, router.ViewContext{
		"user_id":         res.User.ID,
		"organization_id": res.User.OrganizationID,
	})
}

func (a *AuthController) InvitationRevoke(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	if a.Guard != nil {
		if err := a.Guard.Require(ctx.Context(), user, PermissionMembersInvite); err != nil {
			return a.jsonError(ctx, err)
		}
	}

	invitationID, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return a.badRequest(ctx, err)
	}

	revoke := NewRevokeInvitationHandler(a.Repo).
		WithAuditEmitter(a.Audit).
		WithLogger(a.Logger)

	err = revoke.Execute(ctx.Context(), RevokeInvitationMessage{
		OrganizationID: session.OrganizationID,
		InvitationID:   invitationID,
		ActorID:        user.ID,
	})
	if err != nil {
		return a.jsonError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"status": "revoked"})
}

func (a *AuthController) InvitationList(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	if a.Guard != nil {
		if err := a.Guard.Require(ctx.Context(), user, PermissionMembersRead); err != nil {
			return a.jsonError(ctx, err)
		}
	}

	records, err := a.Repo.Invitations().ListPendingByOrg(ctx.Context(), session.OrganizationID)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	out := make([]router.ViewContext, 0, len(records))
	for _, inv := range records {
		out = append(out, router.ViewContext{
			"id":            inv.ID,
			"email":         inv.Email,
			"role_id":       inv.RoleID,
			"invited_by_id": inv.InvitedByID,
			"expires_at":    inv.ExpiresAt,
			"created_at":    inv.CreatedAt,
		})
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"invitations": out})
}

func (a *AuthController) SessionList(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	records, err := a.Sessions.ListSessions(ctx.Context(), user.ID)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	out := make([]router.ViewContext, 0, len(records))
	for _, s := range records {
		out = append(out, router.ViewContext{
			"id":               s.ID,
			"ip_address":       s.IPAddress,
			"user_agent":       s.UserAgent,
			"created_at":       s.CreatedAt,
			"last_accessed_at": s.LastAccessedAt,
			"expires_at":       s.ExpiresAt,
			"current":          s.ID == session.ID,
		})
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"sessions": out})
}

func (a *AuthController) SessionRevokeOthers(ctx router.Context) error {
	session, user, err := a.requireSession(ctx)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	revoked, err := a.Sessions.RevokeAllOthers(ctx.Context(), user.ID, session.ID)
	if err != nil {
		return a.jsonError(ctx, err)
	}

	if a.Audit != nil {
		a.Audit.Emit(AuditEvent{
			OrganizationID: user.OrganizationID,
			ActorID:        user.ID,
			Action:         AuditActionSessionRevoked,
			EntityType:     "session",
			Metadata:       map[string]any{"revoked": revoked},
		})
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{"revoked": revoked})
}

// requireSession authenticates the cookie and resolves its user.
func (a *AuthController) requireSession(ctx router.Context) (*Session, *User, error) {
	opaque := ctx.Cookies(a.Auther.cookieName())

	session, err := a.Sessions.Authenticate(ctx.Context(), opaque)
	if err != nil {
		return nil, nil, err
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), session.UserID.String())
	if err != nil {
		return nil, nil, ErrSessionInvalid
	}

	if !user.IsActive {
		return nil, nil, ErrAccountInactive
	}

	return session, user, nil
}

func (a *AuthController) badRequest(ctx router.Context, err error) error {
	return ctx.JSON(fiber.StatusBadRequest, router.ViewContext{
		"error": err.Error(),
	})
}

func (a *AuthController) validationFailed(ctx router.Context, err error) error {
	return ctx.JSON(fiber.StatusUnprocessableEntity, router.ViewContext{
		"validation": FormatValidationErrorToMap(err),
	})
}

// jsonError maps the error taxonomy to an HTTP status.
func (a *AuthController) jsonError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		a.Logger.Error("unhandled error: %v", err)
		return ctx.JSON(fiber.StatusInternalServerError, router.ViewContext{
			"error": "internal error",
		})
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = fiber.StatusInternalServerError
	}

	body := router.ViewContext{"error": richErr.Message}
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	return ctx.JSON(status, body)
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field -> message map.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return goerrors.New("values must match", goerrors.CategoryValidation)
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.JSON(fiber.StatusInternalServerError, router.ViewContext{
		"message": err.Error(),
	})
}
