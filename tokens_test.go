package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssueAndConsume(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, token, err := tm.Issue(ctx, db, "user-1", auth.TokenKindEmailVerification, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotNil(t, token)

	// The raw value is never persisted, only its hash.
	assert.NotEqual(t, raw, token.TokenHash)
	assert.Equal(t, auth.HashTokenValue(raw), token.TokenHash)

	consumed, err := tm.Consume(ctx, db, raw, auth.TokenKindEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, token.ID, consumed.ID)
	assert.NotNil(t, consumed.UsedAt)
}

func TestTokenConsumeTwice(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = tm.Consume(ctx, db, raw, auth.TokenKindPasswordReset)
	require.NoError(t, err)

	_, err = tm.Consume(ctx, db, raw, auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenUsed)
}

func TestTokenConsumeWrongKind(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = tm.Consume(ctx, db, raw, auth.TokenKindEmailVerification)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenConsumeUnknownValue(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()

	_, err := tm.Consume(context.Background(), db, "bogus-token-value", auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = tm.Consume(context.Background(), db, "", auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenConsumeExpired(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, -time.Minute)
	require.NoError(t, err)

	_, err = tm.Consume(ctx, db, raw, auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenIssueSupersedesPrevious(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	first, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	second, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	// The earlier token is dead even though it was inside its window.
	_, err = tm.Consume(ctx, db, first, auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = tm.Consume(ctx, db, second, auth.TokenKindPasswordReset)
	assert.NoError(t, err)

	assert.Equal(t, 1, tokenRowCount(t, db, "user-1", auth.TokenKindPasswordReset))
}

func TestTokenIssueDoesNotTouchOtherKinds(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	verification, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindEmailVerification, time.Hour)
	require.NoError(t, err)

	_, _, err = tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = tm.Consume(ctx, db, verification, auth.TokenKindEmailVerification)
	assert.NoError(t, err)
}

func TestTokenConcurrentConsumeSingleWinner(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindInvitation, time.Hour)
	require.NoError(t, err)

	const workers = 8

	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tm.Consume(ctx, db, raw, auth.TokenKindInvitation)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, auth.ErrTokenUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one consumer must win")
}

func TestTokenPeekDoesNotConsume(t *testing.T) {
	db := setupTestDB(t)
	tm := auth.NewTokenManager()
	ctx := context.Background()

	raw, _, err := tm.Issue(ctx, db, "user-1", auth.TokenKindPasswordReset, time.Hour)
	require.NoError(t, err)

	peeked, err := tm.Peek(ctx, db, raw, auth.TokenKindPasswordReset)
	require.NoError(t, err)
	assert.Nil(t, peeked.UsedAt)

	_, err = tm.Consume(ctx, db, raw, auth.TokenKindPasswordReset)
	assert.NoError(t, err)

	_, err = tm.Peek(ctx, db, raw, auth.TokenKindPasswordReset)
	assert.ErrorIs(t, err, auth.ErrTokenUsed)
}

func TestInvitationSubject(t *testing.T) {
	orgID := uuid.New()
	subject := auth.InvitationSubject(orgID, " Someone@Example.COM ")
	assert.Equal(t, orgID.String()+":someone@example.com", subject)
}
