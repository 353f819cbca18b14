package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// tokenEntropyBytes is the raw size of a minted token before encoding.
const tokenEntropyBytes = 32

// TokenManager implements the single-use token contract shared by
// email verification, password reset, and invitations:
//   - Issue supersedes every prior token for the same (subject, kind),
//     even ones still inside their expiry window.
//   - The raw value is returned exactly once; only its SHA-256 is
//     persisted.
//   - Consume flips used_at null -> now through a conditional update,
//     so exactly one of N racing consumers wins.
//
// Both operations take a bun.IDB so callers can run them inside the
// same transaction as the state change the token authorizes.
type TokenManager struct {
	logger Logger
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(opts ...TokenManagerOption) *TokenManager {
	tm := &TokenManager{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(tm)
		}
	}
	return tm
}

// TokenManagerOption customizes a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenLogger overrides the manager's logger.
func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(tm *TokenManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// Issue invalidates all existing tokens for (subject, kind), persists a
// new hashed token expiring after ttl, and returns the raw value. The
// raw value is never stored; resend flows must call Issue again.
func (tm *TokenManager) Issue(ctx context.Context, db bun.IDB, subject string, kind TokenKind, ttl time.Duration) (string, *SecurityToken, error) {
	if subject == "" {
		return "", nil, goerrors.New("token subject must not be empty", goerrors.CategoryBadInput)
	}

	raw, err := generateTokenValue()
	if err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token")
	}

	// Supersede first: any previously issued token for this subject and
	// kind becomes unusable the moment the new one exists.
	if _, err := db.NewDelete().
		Model((*SecurityToken)(nil)).
		Where("subject = ?", subject).
		Where("kind = ?", kind).
		Exec(ctx); err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate previous tokens")
	}

	now := time.Now()
	token := &SecurityToken{
		ID:        uuid.New(),
		Kind:      kind,
		Subject:   subject,
		TokenHash: HashTokenValue(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: &now,
	}

	if _, err := db.NewInsert().Model(token).Exec(ctx); err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist token")
	}

	return raw, token, nil
}

// Consume resolves the raw value and atomically marks it used.
// Returns ErrTokenInvalid when no row matches, ErrTokenExpired past the
// expiry window, and ErrTokenUsed when a concurrent consumer won the
// conditional update. All three are terminal.
func (tm *TokenManager) Consume(ctx context.Context, db bun.IDB, raw string, kind TokenKind) (*SecurityToken, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	token := &SecurityToken{}
	err := db.NewSelect().
		Model(token).
		Where("token_hash = ?", HashTokenValue(raw)).
		Where("kind = ?", kind).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up token")
	}

	now := time.Now()
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	// The conditional update is the single-use guarantee: of N racing
	// consumers only one sees an affected row.
	res, err := db.NewUpdate().
		Model((*SecurityToken)(nil)).
		Set("used_at = ?", now).
		Where("id = ?", token.ID).
		Where("used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume token")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read consume result")
	}
	if affected == 0 {
		tm.logger.Debug("token %s consumed concurrently", token.ID)
		return nil, ErrTokenUsed
	}

	token.UsedAt = &now
	return token, nil
}

// Peek resolves a raw token without consuming it. Used by flows that
// want to show a form before the final submit burns the token.
func (tm *TokenManager) Peek(ctx context.Context, db bun.IDB, raw string, kind TokenKind) (*SecurityToken, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	token := &SecurityToken{}
	err := db.NewSelect().
		Model(token).
		Where("token_hash = ?", HashTokenValue(raw)).
		Where("kind = ?", kind).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up token")
	}

	if token.UsedAt != nil {
		return nil, ErrTokenUsed
	}

	if token.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}

	return token, nil
}

// InvitationSubject builds the token subject for an invitation scoped
// by tenant and email.
func InvitationSubject(orgID uuid.UUID, email string) string {
	return orgID.String() + ":" + NormalizeEmail(email)
}

// HashTokenValue returns the hex encoded SHA-256 of a raw token value.
func HashTokenValue(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateTokenValue() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyEmailURL builds the link embedded in verification emails. The
// raw token travels as a query parameter and exists nowhere else.
func VerifyEmailURL(baseURL, rawToken string) string {
	return tokenURL(baseURL, "/verify-email", rawToken)
}

// ResetPasswordURL builds the link embedded in password reset emails.
func ResetPasswordURL(baseURL, rawToken string) string {
	return tokenURL(baseURL, "/reset-password", rawToken)
}

// AcceptInvitationURL builds the link embedded in invitation emails.
func AcceptInvitationURL(baseURL, rawToken string) string {
	return tokenURL(baseURL, "/accept-invitation", rawToken)
}

func tokenURL(baseURL, path, rawToken string) string {
	return fmt.Sprintf("%s%s?token=%s", baseURL, path, url.QueryEscape(rawToken))
}
