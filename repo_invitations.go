package auth

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Invitations interface {
	repository.Repository[*Invitation]

	GetPending(ctx context.Context, orgID uuid.UUID, email string) (*Invitation, error)
	GetPendingTx(ctx context.Context, tx bun.IDB, orgID uuid.UUID, email string) (*Invitation, error)

	GetByTokenID(ctx context.Context, tokenID uuid.UUID) (*Invitation, error)
	GetByTokenIDTx(ctx context.Context, tx bun.IDB, tokenID uuid.UUID) (*Invitation, error)

	ListPendingByOrg(ctx context.Context, orgID uuid.UUID) ([]*Invitation, error)

	DeleteExpiredPendingTx(ctx context.Context, tx bun.IDB, orgID uuid.UUID, email string) error

	MarkAcceptedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type invitations struct {
	repository.Repository[*Invitation]
	db *bun.DB
}

var _ Invitations = (*invitations)(nil)

func NewInvitationsRepository(db *bun.DB) Invitations {
	repo := repository.NewRepository[*Invitation](db, repository.ModelHandlers[*Invitation]{
		NewRecord: func() *Invitation { return &Invitation{} },
		GetID: func(i *Invitation) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Invitation, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
	})

	return &invitations{
		Repository: repo,
		db:         db,
	}
}

func (r *invitations) GetPending(ctx context.Context, orgID uuid.UUID, email string) (*Invitation, error) {
	return r.GetPendingTx(ctx, r.db, orgID, email)
}

// GetPendingTx finds the one invitation for (org, email) that is still
// unexpired, unaccepted, and unrevoked. Stale terminal rows never
// match, so re-inviting after revoke or expiry is always possible.
func (r *invitations) GetPendingTx(ctx context.Context, tx bun.IDB, orgID uuid.UUID, email string) (*Invitation, error) {
	inv := &Invitation{}
	err := tx.NewSelect().
		Model(inv).
		Where("?TableAlias.organization_id = ?", orgID).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Where("?TableAlias.accepted_at IS NULL").
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.expires_at > ?", time.Now()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return inv, nil
}

func (r *invitations) GetByTokenID(ctx context.Context, tokenID uuid.UUID) (*Invitation, error) {
	return r.GetByTokenIDTx(ctx, r.db, tokenID)
}

func (r *invitations) GetByTokenIDTx(ctx context.Context, tx bun.IDB, tokenID uuid.UUID) (*Invitation, error) {
	inv := &Invitation{}
	err := tx.NewSelect().
		Model(inv).
		Where("?TableAlias.token_id = ?", tokenID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return inv, nil
}

func (r *invitations) ListPendingByOrg(ctx context.Context, orgID uuid.UUID) ([]*Invitation, error) {
	var records []*Invitation
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.organization_id = ?", orgID).
		Where("?TableAlias.accepted_at IS NULL").
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.expires_at > ?", time.Now()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list invitations")
	}
	return records, nil
}

// DeleteExpiredPendingTx clears expired never-terminal rows for (org,
// email) so a reissue does not trip the partial unique index guarding
// live invitations. The backing tokens are already dead by expiry and
// get superseded by the new issue anyway.
func (r *invitations) DeleteExpiredPendingTx(ctx context.Context, tx bun.IDB, orgID uuid.UUID, email string) error {
	_, err := tx.NewDelete().
		Model((*Invitation)(nil)).
		Where("organization_id = ?", orgID).
		Where("email = ?", NormalizeEmail(email)).
		Where("accepted_at IS NULL").
		Where("revoked_at IS NULL").
		Where("expires_at <= ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear expired invitations")
	}
	return nil
}

func (r *invitations) MarkAcceptedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*Invitation)(nil)).
		Set("accepted_at = ?", at).
		Where("id = ?", id).
		Where("accepted_at IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark invitation accepted")
	}
	return nil
}

// RevokeTx moves pending -> revoked. Returns false without error when
// the invitation was already terminal; revoking twice is a no-op.
func (r *invitations) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*Invitation)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("id = ?", id).
		Where("accepted_at IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke invitation")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read revocation result")
	}
	return affected > 0, nil
}
