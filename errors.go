package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Session and credential errors. Login failures always map to
// ErrInvalidCredentials regardless of whether the identifier matched a
// user, so responses never reveal account existence.
var (
	ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
				WithTextCode("INVALID_CREDENTIALS").
				WithCode(goerrors.CodeUnauthorized)

	ErrSessionMissing = goerrors.New("missing session", goerrors.CategoryAuth).
				WithTextCode("SESSION_MISSING").
				WithCode(goerrors.CodeUnauthorized)

	ErrSessionInvalid = goerrors.New("invalid session", goerrors.CategoryAuth).
				WithTextCode("SESSION_INVALID").
				WithCode(goerrors.CodeUnauthorized)

	ErrSessionExpired = goerrors.New("session has expired", goerrors.CategoryAuth).
				WithTextCode("SESSION_EXPIRED").
				WithCode(goerrors.CodeUnauthorized)

	ErrSessionRevoked = goerrors.New("session has been revoked", goerrors.CategoryAuth).
				WithTextCode("SESSION_REVOKED").
				WithCode(goerrors.CodeUnauthorized)
)

// Authorization errors.
var (
	ErrAccountInactive = goerrors.New("account is inactive", goerrors.CategoryAuth).
				WithTextCode("ACCOUNT_INACTIVE").
				WithCode(goerrors.CodeForbidden)

	ErrPermissionDenied = goerrors.New("insufficient permissions", goerrors.CategoryAuth).
				WithTextCode("PERMISSION_DENIED").
				WithCode(goerrors.CodeForbidden)

	// ErrDefaultRoleProtected guards the bootstrap Admin role against
	// rename, description, and permission-set edits for every caller.
	ErrDefaultRoleProtected = goerrors.New("default role is protected and cannot be modified", goerrors.CategoryAuth).
				WithTextCode("DEFAULT_ROLE_PROTECTED").
				WithCode(goerrors.CodeForbidden)
)

// Single-use token errors. All three are terminal; none of these flows
// is retryable with the same token value.
var (
	ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryNotFound).
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeNotFound)

	ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
			WithTextCode("TOKEN_EXPIRED").
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
			WithTextCode("TOKEN_ALREADY_USED").
			WithCode(goerrors.CodeConflict)
)

// Conflict errors surfaced from unique constraints or pending state.
var (
	ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
			WithTextCode("EMAIL_TAKEN").
			WithCode(goerrors.CodeConflict)

	ErrSlugTaken = goerrors.New("organization slug is already registered", goerrors.CategoryConflict).
			WithTextCode("SLUG_TAKEN").
			WithCode(goerrors.CodeConflict)

	ErrInvitationPending = goerrors.New("a pending invitation already exists for this email", goerrors.CategoryConflict).
				WithTextCode("INVITATION_PENDING").
				WithCode(goerrors.CodeConflict)

	ErrInvitationTerminal = goerrors.New("invitation has already been accepted or revoked", goerrors.CategoryConflict).
				WithTextCode("INVITATION_TERMINAL").
				WithCode(goerrors.CodeConflict)

	ErrInvitationDefaultRole = goerrors.New("cannot invite users into a default role", goerrors.CategoryAuth).
					WithTextCode("INVITATION_DEFAULT_ROLE").
					WithCode(goerrors.CodeForbidden)
)

// ErrNotFound collapses absent, soft-deleted, and foreign-tenant rows
// into one opaque outcome.
var ErrNotFound = goerrors.New("entity not found", goerrors.CategoryNotFound).
	WithTextCode("NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// Password hashing sentinels.
var (
	ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest)

	ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
					WithCode(goerrors.CodeUnauthorized)
)

// IsUniqueViolation reports whether err came from a database-level
// unique constraint. Conflicts are detected after insert, never via a
// pre-check; a pre-check would reintroduce the check-then-act race.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") || // postgres
		strings.Contains(msg, "SQLSTATE 23505")
}

// UniqueViolationColumn reports whether the unique violation involves
// the given column or constraint name.
func UniqueViolationColumn(err error, column string) bool {
	return IsUniqueViolation(err) && strings.Contains(err.Error(), column)
}
