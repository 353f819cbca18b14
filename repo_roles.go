package auth

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Roles interface {
	repository.Repository[*Role]

	GetInOrg(ctx context.Context, orgID, roleID uuid.UUID) (*Role, error)
	GetInOrgTx(ctx context.Context, tx bun.IDB, orgID, roleID uuid.UUID) (*Role, error)

	// PermissionNames resolves the permission strings granted to a role
	// via role_permissions -> permissions.
	PermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error)

	LinkAllPermissionsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID) error
	ReplacePermissionsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, permissionIDs []uuid.UUID) error
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (r *roles) GetInOrg(ctx context.Context, orgID, roleID uuid.UUID) (*Role, error) {
	return r.GetInOrgTx(ctx, r.db, orgID, roleID)
}

// GetInOrgTx scopes the lookup by tenant; a role belonging to another
// organization resolves to the same not-found as a missing one.
func (r *roles) GetInOrgTx(ctx context.Context, tx bun.IDB, orgID, roleID uuid.UUID) (*Role, error) {
	role := &Role{}
	err := tx.NewSelect().
		Model(role).
		Where("?TableAlias.id = ?", roleID).
		Where("?TableAlias.organization_id = ?", orgID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return role, nil
}

func (r *roles) PermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		Model((*Permission)(nil)).
		Column("prm.name").
		Join("JOIN role_permissions AS rpm ON rpm.permission_id = prm.id").
		Where("rpm.role_id = ?", roleID).
		Scan(ctx, &names)
	if err != nil && err != sql.ErrNoRows {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve role permissions")
	}
	return names, nil
}

// LinkAllPermissionsTx grants every permission currently in the catalog
// to the role. Used once, by the org bootstrap, for the default Admin
// role.
func (r *roles) LinkAllPermissionsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID) error {
	var permissions []*Permission
	if err := tx.NewSelect().Model(&permissions).Scan(ctx); err != nil && err != sql.ErrNoRows {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load permission catalog")
	}

	if len(permissions) == 0 {
		return nil
	}

	links := make([]*RolePermission, 0, len(permissions))
	for _, p := range permissions {
		links = append(links, &RolePermission{
			RoleID:       roleID,
			PermissionID: p.ID,
		})
	}

	if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link role permissions")
	}
	return nil
}

// ReplacePermissionsTx swaps the role's permission set wholesale. The
// guard rejects this for default roles before it is ever reached.
func (r *roles) ReplacePermissionsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ?", roleID).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear role permissions")
	}

	if len(permissionIDs) == 0 {
		return nil
	}

	links := make([]*RolePermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		links = append(links, &RolePermission{
			RoleID:       roleID,
			PermissionID: id,
		})
	}

	if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link role permissions")
	}
	return nil
}

func NewPermissionsRepository(db *bun.DB) repository.Repository[*Permission] {
	handlers := repository.ModelHandlers[*Permission]{
		NewRecord: func() *Permission { return &Permission{} },
		GetID: func(p *Permission) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Permission, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return repository.NewRepository(db, handlers)
}
