package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)

var testSchema = []string{
	`CREATE TABLE organizations (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`,
	`CREATE TABLE permissions (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
	`CREATE TABLE roles (
    id TEXT NOT NULL PRIMARY KEY,
    organization_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP,
    CONSTRAINT roles_org_name_key UNIQUE (organization_id, name)
);`,
	`CREATE TABLE role_permissions (
    role_id TEXT NOT NULL,
    permission_id TEXT NOT NULL,
    PRIMARY KEY (role_id, permission_id)
);`,
	`CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    organization_id TEXT NOT NULL,
    role_id TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT,
    email_verified_at TIMESTAMP,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    login_attempts INTEGER DEFAULT 0,
    login_attempt_at TIMESTAMP,
    loggedin_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`,
	`CREATE TABLE profiles (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL UNIQUE,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    phone_number TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`,
	`CREATE TABLE sessions (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    secret_hash TEXT NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_accessed_at TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    revoked_at TIMESTAMP
);`,
	`CREATE TABLE security_tokens (
    id TEXT NOT NULL PRIMARY KEY,
    kind TEXT NOT NULL,
    subject TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMP NOT NULL,
    used_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
	`CREATE TABLE invitations (
    id TEXT NOT NULL PRIMARY KEY,
    token_id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    email TEXT NOT NULL,
    role_id TEXT NOT NULL,
    invited_by_id TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    accepted_at TIMESTAMP,
    revoked_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
	`CREATE UNIQUE INDEX invitations_pending_org_email_uniq
    ON invitations (organization_id, email)
    WHERE accepted_at IS NULL AND revoked_at IS NULL;`,
	`CREATE TABLE id_counters (
    organization_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    last_value INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (organization_id, entity_type)
);`,
	`CREATE TABLE audit_log_entries (
    id TEXT NOT NULL PRIMARY KEY,
    organization_id TEXT NOT NULL,
    actor_id TEXT,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT,
    before TEXT,
    after TEXT,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`,
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	for _, stmt := range testSchema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

type testConfig struct {
	sessionHours      int
	extendedHours     int
	verificationHours int
	resetHours        int
	invitationHours   int
	baseURL           string
	cookieName        string
	sameSite          string
}

func newTestConfig() testConfig {
	return testConfig{
		sessionHours:      24,
		extendedHours:     24 * 30,
		verificationHours: 48,
		resetHours:        2,
		invitationHours:   24 * 7,
		baseURL:           "https://app.example.com",
		cookieName:        "app_session",
		sameSite:          "Lax",
	}
}

func (c testConfig) GetSessionExpiration() int             { return c.sessionHours }
func (c testConfig) GetExtendedSessionExpiration() int     { return c.extendedHours }
func (c testConfig) GetVerificationTokenExpiration() int   { return c.verificationHours }
func (c testConfig) GetPasswordResetTokenExpiration() int  { return c.resetHours }
func (c testConfig) GetInvitationExpiration() int          { return c.invitationHours }
func (c testConfig) GetBaseURL() string                    { return c.baseURL }
func (c testConfig) GetCookieName() string                 { return c.cookieName }
func (c testConfig) GetCookieSameSite() string             { return c.sameSite }

// recordingMailer captures queued messages for assertions.
type recordingMailer struct {
	mu            sync.Mutex
	verifications []auth.VerificationEmail
	resets        []auth.PasswordResetEmail
	changed       []auth.PasswordChangedEmail
	invitations   []auth.InvitationEmail
}

func (m *recordingMailer) QueueVerificationEmail(_ context.Context, msg auth.VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, msg)
	return nil
}

func (m *recordingMailer) QueuePasswordResetEmail(_ context.Context, msg auth.PasswordResetEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, msg)
	return nil
}

func (m *recordingMailer) QueuePasswordChangedEmail(_ context.Context, msg auth.PasswordChangedEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, msg)
	return nil
}

func (m *recordingMailer) QueueInvitationEmail(_ context.Context, msg auth.InvitationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitations = append(m.invitations, msg)
	return nil
}

func (m *recordingMailer) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resets)
}

func (m *recordingMailer) InvitationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invitations)
}

type fixture struct {
	db     *bun.DB
	repo   auth.RepositoryManager
	tokens *auth.TokenManager
	config testConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	f := &fixture{
		db:     db,
		repo:   auth.NewRepositoryManager(db),
		tokens: auth.NewTokenManager(),
		config: newTestConfig(),
	}

	seedPermissions(t, f.repo)
	return f
}

func seedPermissions(t *testing.T, repo auth.RepositoryManager) {
	t.Helper()
	ctx := context.Background()

	for _, name := range auth.AllPermissions() {
		_, err := repo.Permissions().Create(ctx, &auth.Permission{
			ID:   uuid.New(),
			Name: name,
		})
		require.NoError(t, err)
	}
}

// registerOrg bootstraps a tenant and returns the response.
func registerOrg(t *testing.T, f *fixture, slug, email string) *auth.RegisterOrganizationResponse {
	t.Helper()

	var resp *auth.RegisterOrganizationResponse
	handler := auth.NewRegisterOrganizationHandler(f.repo, f.tokens, f.config)

	err := handler.Execute(context.Background(), auth.RegisterOrganizationMessage{
		OrganizationName: slug,
		Slug:             slug,
		Email:            email,
		Password:         "correct horse battery",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		OnResponse: func(r *auth.RegisterOrganizationResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	return resp
}

// softDeleteOrg marks the organization deleted the way the soft-delete
// repo does, so tenant-scoped reads stop resolving it.
func softDeleteOrg(t *testing.T, f *fixture, orgID uuid.UUID) {
	t.Helper()

	_, err := f.db.Exec(
		"UPDATE organizations SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?",
		orgID,
	)
	require.NoError(t, err)
}

func countRows(t *testing.T, db *bun.DB, table string) int {
	t.Helper()

	var n int
	err := db.NewRaw("SELECT COUNT(*) FROM " + table).Scan(context.Background(), &n)
	require.NoError(t, err)
	return n
}

func tokenRowCount(t *testing.T, db *bun.DB, subject, kind string) int {
	t.Helper()

	var n int
	err := db.NewRaw(
		"SELECT COUNT(*) FROM security_tokens WHERE subject = ? AND kind = ?",
		subject, kind,
	).Scan(context.Background(), &n)
	require.NoError(t, err)
	return n
}
