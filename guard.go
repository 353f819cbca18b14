package auth

import (
	"context"
	"slices"

	goerrors "github.com/goliatone/go-errors"
)

// Guard resolves a caller's permission set through role ->
// role_permissions -> permissions and gates operations behind explicit
// permission strings like "accounts:update".
type Guard struct {
	repo   RepositoryManager
	logger Logger
}

// NewGuard creates a Guard.
func NewGuard(repo RepositoryManager, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithGuardLogger overrides the guard's logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Permissions resolves the permission strings granted to the user.
func (g *Guard) Permissions(ctx context.Context, user *User) ([]string, error) {
	if user == nil {
		return nil, ErrSessionInvalid
	}
	return g.repo.Roles().PermissionNames(ctx, user.RoleID)
}

// Can reports whether the user holds the permission.
func (g *Guard) Can(ctx context.Context, user *User, permission string) (bool, error) {
	granted, err := g.Permissions(ctx, user)
	if err != nil {
		return false, err
	}
	return slices.Contains(granted, permission), nil
}

// Require rejects inactive accounts before resolving permissions, then
// fails with a Forbidden error when the permission is missing.
func (g *Guard) Require(ctx context.Context, user *User, permission string) error {
	if user == nil {
		return ErrSessionInvalid
	}

	if !user.IsActive {
		return ErrAccountInactive
	}

	ok, err := g.Can(ctx, user, permission)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve permissions")
	}

	if !ok {
		g.logger.Debug("permission denied user=%s permission=%s", user.ID, permission)
		return ErrPermissionDenied
	}

	return nil
}

// EnsureRoleEditable rejects any mutation of a default role. The
// bootstrap Admin role stays immutable regardless of the caller's own
// grants.
func (g *Guard) EnsureRoleEditable(role *Role) error {
	if role == nil {
		return ErrNotFound
	}
	if role.IsDefault {
		return ErrDefaultRoleProtected
	}
	return nil
}
