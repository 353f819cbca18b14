package auth_test

import (
	"context"
	"net/url"
	"testing"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetToken runs the forgot-password flow and pulls the raw token out
// of the queued email, the only place it ever surfaces.
func resetToken(t *testing.T, f *fixture, email string) string {
	t.Helper()

	mailer := &recordingMailer{}
	handler := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.config).WithMailer(mailer)
	require.NoError(t, handler.Execute(context.Background(), auth.InitializePasswordResetMessage{Email: email}))

	require.Eventually(t, func() bool {
		return mailer.ResetCount() == 1
	}, eventuallyTimeout, eventuallyTick)

	mailer.mu.Lock()
	resetURL := mailer.resets[0].ResetURL
	mailer.mu.Unlock()

	parsed, err := url.Parse(resetURL)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestPasswordResetUnknownEmailGenericSuccess(t *testing.T) {
	f := newFixture(t)
	mailer := &recordingMailer{}

	handler := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.config).WithMailer(mailer)
	err := handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
		Email: "nobody@example.com",
	})

	// Same nil result as a real account, but no token and no email.
	assert.NoError(t, err)
	assert.Equal(t, 0, countRows(t, f.db, "security_tokens"))
	assert.Equal(t, 0, mailer.ResetCount())
}

func TestPasswordResetInactiveAccountGenericSuccess(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	resp.User.IsActive = false
	_, err := f.repo.Users().Update(context.Background(), resp.User)
	require.NoError(t, err)

	mailer := &recordingMailer{}
	handler := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.config).WithMailer(mailer)
	require.NoError(t, handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
		Email: "owner@acme.test",
	}))

	assert.Equal(t, 0, tokenRowCount(t, f.db, resp.User.ID.String(), auth.TokenKindPasswordReset))
	assert.Equal(t, 0, mailer.ResetCount())
}

func TestPasswordResetDeletedOrganizationGenericSuccess(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")
	softDeleteOrg(t, f, resp.Organization.ID)

	mailer := &recordingMailer{}
	handler := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.config).WithMailer(mailer)
	require.NoError(t, handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
		Email: "owner@acme.test",
	}))

	// Users of a deleted tenant get the same nothing as unknown emails.
	assert.Equal(t, 0, tokenRowCount(t, f.db, resp.User.ID.String(), auth.TokenKindPasswordReset))
	assert.Equal(t, 0, mailer.ResetCount())
}

func TestPasswordResetIssuesSingleToken(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	resetToken(t, f, "owner@acme.test")
	resetToken(t, f, "owner@acme.test")

	// Requesting again supersedes; only the latest row survives.
	assert.Equal(t, 1, tokenRowCount(t, f.db, resp.User.ID.String(), auth.TokenKindPasswordReset))
}

func TestPasswordResetFinalize(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	sessions := auth.NewSessionManager(f.repo, f.config)
	auther := auth.NewAuthenticator(f.repo, sessions)

	_, opaque1, err := auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	require.NoError(t, err)
	_, opaque2, err := auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	require.NoError(t, err)

	token := resetToken(t, f, "owner@acme.test")

	finalize := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens)
	require.NoError(t, finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    token,
		Password: "an even better password",
	}))

	// The credential changed.
	fresh, err := f.repo.Users().GetByID(context.Background(), resp.User.ID.String())
	require.NoError(t, err)
	assert.Error(t, auth.ComparePasswordAndHash("correct horse battery", fresh.PasswordHash))
	assert.NoError(t, auth.ComparePasswordAndHash("an even better password", fresh.PasswordHash))

	// Every live session is gone.
	_, err = sessions.Authenticate(context.Background(), opaque1)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)
	_, err = sessions.Authenticate(context.Background(), opaque2)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	// And the token is burned.
	err = finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    token,
		Password: "yet another password",
	})
	assert.ErrorIs(t, err, auth.ErrTokenUsed)
}

func TestPasswordResetFinalizeBogusToken(t *testing.T) {
	f := newFixture(t)

	finalize := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens)
	err := finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    "not-a-real-token",
		Password: "whatever password",
	})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	sessions := auth.NewSessionManager(f.repo, f.config)
	auther := auth.NewAuthenticator(f.repo, sessions)
	session, _, err := auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	require.NoError(t, err)

	handler := auth.NewChangePasswordHandler(f.repo)
	err = handler.Execute(context.Background(), auth.ChangePasswordMessage{
		UserID:          resp.User.ID,
		SessionID:       session.ID,
		CurrentPassword: "wrong password!!",
		NewPassword:     "an even better password",
	})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// Nothing changed.
	fresh, err := f.repo.Users().GetByID(context.Background(), resp.User.ID.String())
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("correct horse battery", fresh.PasswordHash))
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	sessions := auth.NewSessionManager(f.repo, f.config)
	auther := auth.NewAuthenticator(f.repo, sessions)

	current, opaqueCurrent, err := auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	require.NoError(t, err)
	_, opaqueOther, err := auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	handler := auth.NewChangePasswordHandler(f.repo).WithMailer(mailer)
	require.NoError(t, handler.Execute(context.Background(), auth.ChangePasswordMessage{
		UserID:          resp.User.ID,
		SessionID:       current.ID,
		CurrentPassword: "correct horse battery",
		NewPassword:     "an even better password",
	}))

	// The session performing the change survives; the other does not.
	_, err = sessions.Authenticate(context.Background(), opaqueCurrent)
	assert.NoError(t, err)
	_, err = sessions.Authenticate(context.Background(), opaqueOther)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	// Old credential stops working, new one logs in.
	_, _, err = auther.Login(context.Background(), "owner@acme.test", "correct horse battery", auth.SessionMeta{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = auther.Login(context.Background(), "owner@acme.test", "an even better password", auth.SessionMeta{})
	assert.NoError(t, err)

	// The user is told about the change.
	require.Eventually(t, func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		return len(mailer.changed) == 1
	}, eventuallyTimeout, eventuallyTick)
}
