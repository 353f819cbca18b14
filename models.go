package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Organization is the tenant boundary. Every entity, counter, and role
// hangs off exactly one organization; nothing crosses it.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	Slug          string     `bun:"slug,notnull,unique" json:"slug,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// User is the user model
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID  uuid.UUID     `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Organization    *Organization `bun:"rel:has-one,join:organization_id=id" json:"organization,omitempty"`
	RoleID          uuid.UUID     `bun:"role_id,notnull,type:uuid" json:"role_id,omitempty"`
	Role            *Role         `bun:"rel:has-one,join:role_id=id" json:"role,omitempty"`
	Email           string        `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash    string        `bun:"password_hash" json:"-"`
	EmailVerifiedAt *time.Time    `bun:"email_verified_at,nullzero" json:"email_verified_at,omitempty"`
	IsActive        bool          `bun:"is_active,notnull,default:true" json:"is_active,omitempty"`
	LoginAttempts   int           `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt  *time.Time    `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt      *time.Time    `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt       *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt       *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Verified reports whether the user confirmed their email address.
func (u *User) Verified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// Profile carries the user-facing name fields, kept separate from the
// credential row on purpose.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,unique,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	FirstName     string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Role is a named permission set inside one organization. The role the
// bootstrap creates is flagged IsDefault and is immutable through the
// normal role management surface.
type Role struct {
	bun.BaseModel  `bun:"table:roles,alias:rol"`
	ID             uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID     `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Name           string        `bun:"name,notnull" json:"name,omitempty"`
	Description    string        `bun:"description" json:"description,omitempty"`
	IsDefault      bool          `bun:"is_default,notnull,default:false" json:"is_default,omitempty"`
	Permissions    []*Permission `bun:"m2m:role_permissions,join:Role=Permission" json:"permissions,omitempty"`
	CreatedAt      *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Permission is a global permission string, e.g. "accounts:update".
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:prm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string     `bun:"description" json:"description,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RolePermission links roles to permissions.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rpm"`
	RoleID        uuid.UUID   `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
	Role          *Role       `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	PermissionID  uuid.UUID   `bun:"permission_id,pk,type:uuid" json:"permission_id,omitempty"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id" json:"permission,omitempty"`
}

// Session is a server-side login session. The client only ever holds
// the opaque "id.secret" pair; we keep the SHA-256 of the secret.
// A session is live when revoked_at is null and expires_at is in the
// future. Rows are soft revoked, never deleted, so terminated sessions
// stay queryable for audit.
type Session struct {
	bun.BaseModel  `bun:"table:sessions,alias:ses"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	SecretHash     string     `bun:"secret_hash,notnull" json:"-"`
	IPAddress      string     `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent      string     `bun:"user_agent" json:"user_agent,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	LastAccessedAt *time.Time `bun:"last_accessed_at,nullzero" json:"last_accessed_at,omitempty"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	RevokedAt      *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
}

// TokenKind discriminates the single-use token flavors.
type TokenKind = string

const (
	// TokenKindEmailVerification confirms ownership of an email address
	TokenKindEmailVerification TokenKind = "email_verification"
	// TokenKindPasswordReset authorizes a one-shot password change
	TokenKindPasswordReset TokenKind = "password_reset"
	// TokenKindInvitation carries an org invitation to a new user
	TokenKindInvitation TokenKind = "invitation"
)

// SecurityToken is the persisted half of a single-use token. The raw
// value is handed to the caller exactly once at issue time; only its
// SHA-256 lives here. used_at transitions null -> timestamp once.
type SecurityToken struct {
	bun.BaseModel `bun:"table:security_tokens,alias:tok"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Kind          TokenKind  `bun:"kind,notnull" json:"kind,omitempty"`
	Subject       string     `bun:"subject,notnull" json:"subject,omitempty"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token is past its expiry window.
func (t *SecurityToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Invitation specializes an invitation token with org/role metadata.
// Lifecycle: pending -> accepted | revoked, or implicitly expired via
// the underlying token's expires_at.
type Invitation struct {
	bun.BaseModel  `bun:"table:invitations,alias:inv"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	TokenID        uuid.UUID      `bun:"token_id,notnull,type:uuid" json:"token_id,omitempty"`
	Token          *SecurityToken `bun:"rel:has-one,join:token_id=id" json:"token,omitempty"`
	OrganizationID uuid.UUID      `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Organization   *Organization  `bun:"rel:has-one,join:organization_id=id" json:"organization,omitempty"`
	Email          string         `bun:"email,notnull" json:"email,omitempty"`
	RoleID         uuid.UUID      `bun:"role_id,notnull,type:uuid" json:"role_id,omitempty"`
	Role           *Role          `bun:"rel:has-one,join:role_id=id" json:"role,omitempty"`
	InvitedByID    uuid.UUID      `bun:"invited_by_id,notnull,type:uuid" json:"invited_by_id,omitempty"`
	ExpiresAt      time.Time      `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	AcceptedAt     *time.Time     `bun:"accepted_at,nullzero" json:"accepted_at,omitempty"`
	RevokedAt      *time.Time     `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Pending reports whether the invitation can still be accepted.
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && i.RevokedAt == nil && i.ExpiresAt.After(now)
}

// Terminal reports whether the invitation reached accepted or revoked.
func (i *Invitation) Terminal() bool {
	return i.AcceptedAt != nil || i.RevokedAt != nil
}

// IDCounter backs the per-(organization, entity type) sequential code
// allocator. last_value only ever moves forward, and only through the
// atomic upsert in sequence.go.
type IDCounter struct {
	bun.BaseModel  `bun:"table:id_counters,alias:idc"`
	OrganizationID uuid.UUID `bun:"organization_id,pk,type:uuid" json:"organization_id,omitempty"`
	EntityType     string    `bun:"entity_type,pk" json:"entity_type,omitempty"`
	LastValue      int64     `bun:"last_value,notnull" json:"last_value,omitempty"`
}

// AuditLogEntry is an append-only change record. Rows are immutable
// once written; there is no update or delete path.
type AuditLogEntry struct {
	bun.BaseModel  `bun:"table:audit_log_entries,alias:aud"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID      `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	ActorID        uuid.UUID      `bun:"actor_id,type:uuid,nullzero" json:"actor_id,omitempty"`
	Action         string         `bun:"action,notnull" json:"action,omitempty"`
	EntityType     string         `bun:"entity_type,notnull" json:"entity_type,omitempty"`
	EntityID       string         `bun:"entity_id" json:"entity_id,omitempty"`
	Before         map[string]any `bun:"before,type:jsonb" json:"before,omitempty"`
	After          map[string]any `bun:"after,type:jsonb" json:"after,omitempty"`
	Metadata       map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email so uniqueness checks are
// case-insensitive at the constraint level.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeSlug lowercases a slug and collapses whitespace to dashes.
func NormalizeSlug(slug string) string {
	s := strings.ToLower(strings.TrimSpace(slug))
	return strings.Join(strings.Fields(s), "-")
}
