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

type Sessions interface {
	repository.Repository[*Session]

	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)

	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	RevokeAllOthers(ctx context.Context, userID, exceptID uuid.UUID) (int64, error)
	RevokeAllOthersTx(ctx context.Context, tx bun.IDB, userID, exceptID uuid.UUID) (int64, error)

	TouchLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (r *sessions) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	var records []*Session
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.expires_at > ?", time.Now()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list sessions")
	}
	return records, nil
}

func (r *sessions) Revoke(ctx context.Context, id uuid.UUID) error {
	return r.RevokeTx(ctx, r.db, id)
}

// RevokeTx soft-sets revoked_at. Revoking a session that is already
// revoked or expired affects zero rows and is a harmless no-op.
func (r *sessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}
	return nil
}

func (r *sessions) RevokeAllOthers(ctx context.Context, userID, exceptID uuid.UUID) (int64, error) {
	return r.RevokeAllOthersTx(ctx, r.db, userID, exceptID)
}

// RevokeAllOthersTx bulk revokes every live session of the user except
// exceptID in one statement, so the caller's own session survives a
// credential change while every other device is logged out.
func (r *sessions) RevokeAllOthersTx(ctx context.Context, tx bun.IDB, userID, exceptID uuid.UUID) (int64, error) {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("revoked_at = ?", now).
		Where("user_id = ?", userID).
		Where("id != ?", exceptID).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke other sessions")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read revocation count")
	}
	return affected, nil
}

// TouchLastAccessed bumps last_accessed_at; callers treat failures as
// best-effort and only log them.
func (r *sessions) TouchLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*Session)(nil)).
		Set("last_accessed_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
