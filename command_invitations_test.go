package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invitationFixture bootstraps a tenant plus a non-default Member role
// invitations can target.
type invitationFixture struct {
	*fixture
	org    *auth.Organization
	owner  *auth.User
	member *auth.Role
}

func newInvitationFixture(t *testing.T) *invitationFixture {
	t.Helper()

	f := newFixture(t)
	resp := registerOrg(t, f, "acme", "owner@acme.test")

	role, err := f.repo.Roles().Create(context.Background(), &auth.Role{
		ID:             uuid.New(),
		OrganizationID: resp.Organization.ID,
		Name:           "Member",
	})
	require.NoError(t, err)

	return &invitationFixture{
		fixture: f,
		org:     resp.Organization,
		owner:   resp.User,
		member:  role,
	}
}

func (f *invitationFixture) createInvitation(t *testing.T, email string) *auth.CreateInvitationResponse {
	t.Helper()

	var resp *auth.CreateInvitationResponse
	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config)

	err := handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          email,
		RoleID:         f.member.ID,
		OnResponse: func(r *auth.CreateInvitationResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestCreateInvitation(t *testing.T) {
	f := newInvitationFixture(t)
	resp := f.createInvitation(t, "New.Person@Example.com")

	assert.NotEmpty(t, resp.RawToken)
	assert.Equal(t, "new.person@example.com", resp.Invitation.Email)
	assert.Equal(t, f.member.ID, resp.Invitation.RoleID)
	assert.Equal(t, f.owner.ID, resp.Invitation.InvitedByID)
	assert.True(t, resp.Invitation.Pending(resp.Invitation.ExpiresAt.Add(-1)))
}

func TestCreateInvitationRejectsDefaultRole(t *testing.T) {
	f := newInvitationFixture(t)

	adminRole, err := f.repo.Roles().GetInOrg(context.Background(), f.org.ID, f.owner.RoleID)
	require.NoError(t, err)
	require.True(t, adminRole.IsDefault)

	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config)
	err = handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          "new@example.com",
		RoleID:         adminRole.ID,
	})
	assert.ErrorIs(t, err, auth.ErrInvitationDefaultRole)
}

func TestCreateInvitationRejectsForeignRole(t *testing.T) {
	f := newInvitationFixture(t)
	other := registerOrg(t, f.fixture, "other", "owner@other.test")

	// A role from another org resolves to not-found, not forbidden.
	otherRole, err := f.repo.Roles().Create(context.Background(), &auth.Role{
		ID:             uuid.New(),
		OrganizationID: other.Organization.ID,
		Name:           "Member",
	})
	require.NoError(t, err)

	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config)
	err = handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          "new@example.com",
		RoleID:         otherRole.ID,
	})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCreateInvitationRejectsExistingUserAnywhere(t *testing.T) {
	f := newInvitationFixture(t)
	registerOrg(t, f.fixture, "other", "taken@other.test")

	// The email belongs to a user of a different organization; the
	// invite is still rejected.
	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config)
	err := handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          "Taken@Other.Test",
		RoleID:         f.member.ID,
	})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestCreateInvitationPendingConflict(t *testing.T) {
	f := newInvitationFixture(t)
	f.createInvitation(t, "new@example.com")

	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config)
	err := handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          "new@example.com",
		RoleID:         f.member.ID,
	})
	assert.ErrorIs(t, err, auth.ErrInvitationPending)
}

func TestCreateInvitationAfterRevoke(t *testing.T) {
	f := newInvitationFixture(t)
	first := f.createInvitation(t, "new@example.com")

	revoke := auth.NewRevokeInvitationHandler(f.repo)
	err := revoke.Execute(context.Background(), auth.RevokeInvitationMessage{
		OrganizationID: f.org.ID,
		InvitationID:   first.Invitation.ID,
		ActorID:        f.owner.ID,
	})
	require.NoError(t, err)

	// A revoked invitation no longer blocks re-inviting.
	second := f.createInvitation(t, "new@example.com")
	assert.NotEqual(t, first.Invitation.ID, second.Invitation.ID)
}

// rawInvitation inserts a row directly, bypassing the handler's
// pre-checks, the way a racing writer would.
func rawInvitation(f *invitationFixture, email string, expiresAt time.Time, revokedAt *time.Time) *auth.Invitation {
	return &auth.Invitation{
		ID:             uuid.New(),
		TokenID:        uuid.New(),
		OrganizationID: f.org.ID,
		Email:          email,
		RoleID:         f.member.ID,
		InvitedByID:    f.owner.ID,
		ExpiresAt:      expiresAt,
		RevokedAt:      revokedAt,
	}
}

func TestInvitationPendingBackedByConstraint(t *testing.T) {
	f := newInvitationFixture(t)
	ctx := context.Background()

	_, err := f.repo.Invitations().Create(ctx, rawInvitation(f, "new@example.com", time.Now().Add(time.Hour), nil))
	require.NoError(t, err)

	// A second live row for the same (org, email) is rejected by the
	// database itself, with no pre-check involved.
	_, err = f.repo.Invitations().Create(ctx, rawInvitation(f, "new@example.com", time.Now().Add(time.Hour), nil))
	require.Error(t, err)
	assert.True(t, auth.IsUniqueViolation(err))

	// Terminal rows never count against the constraint.
	now := time.Now()
	_, err = f.repo.Invitations().Create(ctx, rawInvitation(f, "other@example.com", now.Add(time.Hour), &now))
	require.NoError(t, err)
	_, err = f.repo.Invitations().Create(ctx, rawInvitation(f, "other@example.com", now.Add(time.Hour), nil))
	assert.NoError(t, err)
}

func TestCreateInvitationAfterExpiredPending(t *testing.T) {
	f := newInvitationFixture(t)

	// An expired row that never reached a terminal state.
	_, err := f.repo.Invitations().Create(context.Background(),
		rawInvitation(f, "new@example.com", time.Now().Add(-time.Hour), nil))
	require.NoError(t, err)

	// Reissue succeeds and clears the stale row.
	f.createInvitation(t, "new@example.com")
	assert.Equal(t, 1, countRows(t, f.db, "invitations"))
}

func TestListPendingByOrg(t *testing.T) {
	f := newInvitationFixture(t)
	ctx := context.Background()

	live := f.createInvitation(t, "live@example.com")
	revoked := f.createInvitation(t, "revoked@example.com")

	revoke := auth.NewRevokeInvitationHandler(f.repo)
	require.NoError(t, revoke.Execute(ctx, auth.RevokeInvitationMessage{
		OrganizationID: f.org.ID,
		InvitationID:   revoked.Invitation.ID,
		ActorID:        f.owner.ID,
	}))

	_, err := f.repo.Invitations().Create(ctx,
		rawInvitation(f, "expired@example.com", time.Now().Add(-time.Hour), nil))
	require.NoError(t, err)

	records, err := f.repo.Invitations().ListPendingByOrg(ctx, f.org.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, live.Invitation.ID, records[0].ID)
}

func TestAcceptInvitation(t *testing.T) {
	f := newInvitationFixture(t)
	created := f.createInvitation(t, "new@example.com")

	var resp *auth.AcceptInvitationResponse
	accept := auth.NewAcceptInvitationHandler(f.repo, f.tokens)

	err := accept.Execute(context.Background(), auth.AcceptInvitationMessage{
		Token:     created.RawToken,
		Password:  "another fine password",
		FirstName: "Grace",
		LastName:  "Hopper",
		OnResponse: func(r *auth.AcceptInvitationResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	// The user lands in the invitation's org with the invitation's role,
	// already verified.
	assert.Equal(t, f.org.ID, resp.User.OrganizationID)
	assert.Equal(t, f.member.ID, resp.User.RoleID)
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.NotNil(t, resp.User.EmailVerifiedAt)
	assert.True(t, resp.User.IsActive)
	assert.NotNil(t, resp.Invitation.AcceptedAt)

	// The token is burned; accepting again fails.
	err = accept.Execute(context.Background(), auth.AcceptInvitationMessage{
		Token:     created.RawToken,
		Password:  "another fine password",
		FirstName: "Grace",
		LastName:  "Hopper",
	})
	assert.ErrorIs(t, err, auth.ErrTokenUsed)
}

func TestAcceptRevokedInvitation(t *testing.T) {
	f := newInvitationFixture(t)
	created := f.createInvitation(t, "new@example.com")

	revoke := auth.NewRevokeInvitationHandler(f.repo)
	require.NoError(t, revoke.Execute(context.Background(), auth.RevokeInvitationMessage{
		OrganizationID: f.org.ID,
		InvitationID:   created.Invitation.ID,
		ActorID:        f.owner.ID,
	}))

	accept := auth.NewAcceptInvitationHandler(f.repo, f.tokens)
	err := accept.Execute(context.Background(), auth.AcceptInvitationMessage{
		Token:     created.RawToken,
		Password:  "another fine password",
		FirstName: "Grace",
		LastName:  "Hopper",
	})
	// The backing token is deleted on revoke.
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	// And the failed accept created no user.
	_, err = f.repo.Users().GetByEmail(context.Background(), "new@example.com")
	assert.Error(t, err)
}

func TestRevokeInvitationIdempotent(t *testing.T) {
	f := newInvitationFixture(t)
	created := f.createInvitation(t, "new@example.com")

	revoke := auth.NewRevokeInvitationHandler(f.repo)
	msg := auth.RevokeInvitationMessage{
		OrganizationID: f.org.ID,
		InvitationID:   created.Invitation.ID,
		ActorID:        f.owner.ID,
	}

	require.NoError(t, revoke.Execute(context.Background(), msg))
	assert.NoError(t, revoke.Execute(context.Background(), msg))
}

func TestRevokeInvitationForeignOrg(t *testing.T) {
	f := newInvitationFixture(t)
	created := f.createInvitation(t, "new@example.com")
	other := registerOrg(t, f.fixture, "other", "owner@other.test")

	revoke := auth.NewRevokeInvitationHandler(f.repo)
	err := revoke.Execute(context.Background(), auth.RevokeInvitationMessage{
		OrganizationID: other.Organization.ID,
		InvitationID:   created.Invitation.ID,
		ActorID:        other.User.ID,
	})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestInvitationQueuesEmail(t *testing.T) {
	f := newInvitationFixture(t)
	mailer := &recordingMailer{}

	handler := auth.NewCreateInvitationHandler(f.repo, f.tokens, f.config).WithMailer(mailer)
	err := handler.Execute(context.Background(), auth.CreateInvitationMessage{
		OrganizationID: f.org.ID,
		InviterID:      f.owner.ID,
		Email:          "new@example.com",
		RoleID:         f.member.ID,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mailer.InvitationCount() == 1
	}, eventuallyTimeout, eventuallyTick)

	mailer.mu.Lock()
	msg := mailer.invitations[0]
	mailer.mu.Unlock()

	assert.Equal(t, "new@example.com", msg.To)
	assert.Equal(t, "Member", msg.RoleName)
	assert.Contains(t, msg.InviteURL, "/accept-invitation?token=")
}
