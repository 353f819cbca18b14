package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Organizations() Organizations
	Roles() Roles
	Permissions() repository.Repository[*Permission]
	Profiles() repository.Repository[*Profile]
	Sessions() Sessions
	Invitations() Invitations
	AuditLogs() repository.Repository[*AuditLogEntry]
}

func NewProfilesRepository(db *bun.DB) repository.Repository[*Profile] {
	handlers := repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile {
			return &Profile{}
		},
		GetID: func(record *Profile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Profile, id uuid.UUID) {
			record.ID = id
		},
	}
	return repository.NewRepository(db, handlers)
}

func NewAuditLogsRepository(db *bun.DB) repository.Repository[*AuditLogEntry] {
	handlers := repository.ModelHandlers[*AuditLogEntry]{
		NewRecord: func() *AuditLogEntry {
			return &AuditLogEntry{}
		},
		GetID: func(record *AuditLogEntry) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AuditLogEntry, id uuid.UUID) {
			record.ID = id
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db            *bun.DB
	users         Users
	organizations Organizations
	roles         Roles
	permissions   repository.Repository[*Permission]
	profiles      repository.Repository[*Profile]
	sessions      Sessions
	invitations   Invitations
	auditLogs     repository.Repository[*AuditLogEntry]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	// bun resolves the Role <-> Permission m2m relation through the
	// join model, which must be registered before any Role query runs.
	db.RegisterModel((*RolePermission)(nil))

	return &mngr{
		db:            db,
		users:         NewUsersRepository(db),
		organizations: NewOrganizationsRepository(db),
		roles:         NewRolesRepository(db),
		permissions:   NewPermissionsRepository(db),
		profiles:      NewProfilesRepository(db),
		sessions:      NewSessionsRepository(db),
		invitations:   NewInvitationsRepository(db),
		auditLogs:     NewAuditLogsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.organizations == nil {
		return errors.New("repository organizations should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.invitations == nil {
		return errors.New("repository invitations should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Organizations() Organizations {
	return m.organizations
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Permissions() repository.Repository[*Permission] {
	return m.permissions
}

func (m mngr) Profiles() repository.Repository[*Profile] {
	return m.profiles
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) Invitations() Invitations {
	return m.invitations
}

func (m mngr) AuditLogs() repository.Repository[*AuditLogEntry] {
	return m.auditLogs
}
