package auth

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Organizations interface {
	repository.Repository[*Organization]

	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	GetBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Organization, error)
}

type organizations struct {
	repository.Repository[*Organization]
	db *bun.DB
}

var _ Organizations = (*organizations)(nil)

func NewOrganizationsRepository(db *bun.DB) Organizations {
	repo := repository.NewRepository[*Organization](db, repository.ModelHandlers[*Organization]{
		NewRecord: func() *Organization { return &Organization{} },
		GetID: func(o *Organization) uuid.UUID {
			if o == nil {
				return uuid.Nil
			}
			return o.ID
		},
		SetID: func(o *Organization, id uuid.UUID) {
			if o != nil {
				o.ID = id
			}
		},
		GetIdentifier: func() string {
			return "slug"
		},
	})

	return &organizations{
		Repository: repo,
		db:         db,
	}
}

func (r *organizations) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return r.GetBySlugTx(ctx, r.db, slug)
}

func (r *organizations) GetBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Organization, error) {
	org := &Organization{}
	err := tx.NewSelect().
		Model(org).
		Where("?TableAlias.slug = ?", NormalizeSlug(slug)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return org, nil
}
