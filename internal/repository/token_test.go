// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/testutil"
)

func newToken(t *testing.T, repo *repository.Repository, userID int64, value string, expiresAt time.Time) *models.Token {
	t.Helper()
	tok := &models.Token{
		Token:     value,
		UserID:    userID,
		ExpiresAt: models.Millis(expiresAt),
		UserAgent: "test-agent",
	}
	require.NoError(t, repo.CreateToken(context.Background(), tok))
	return tok
}

func TestCreateToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")

	tok := newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	assert.NotZero(t, tok.ID)
	assert.Equal(t, models.TokenTypeBearer, tok.TokenType)
	assert.NotZero(t, tok.CreatedAt)
}

func TestCreateToken_DuplicateValue(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	err := repo.CreateToken(context.Background(), &models.Token{
		Token: "tok-1", UserID: user.ID, ExpiresAt: models.Millis(time.Now().Add(time.Hour)),
	})

	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestCreateToken_UnknownUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	err := repo.CreateToken(context.Background(), &models.Token{
		Token: "tok-1", UserID: 999, ExpiresAt: models.Millis(time.Now().Add(time.Hour)),
	})

	assert.Error(t, err)
}

func TestGetToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	created := newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	got, err := repo.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, "test-agent", got.UserAgent)
	assert.True(t, got.IsValid(time.Now()))

	_, err = repo.GetToken(ctx, "tok-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListValidTokens(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	other := testutil.NewTestUser(t, repo, "b@x.com", "secret")

	newToken(t, repo, user.ID, "valid-1", now.Add(time.Hour))
	newToken(t, repo, user.ID, "valid-2", now.Add(time.Hour))
	newToken(t, repo, user.ID, "stale", now.Add(-time.Minute))
	newToken(t, repo, other.ID, "foreign", now.Add(time.Hour))

	tokens, err := repo.ListValidTokens(ctx, user.ID, now)

	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "valid-2", tokens[0].Token)
	assert.Equal(t, "valid-1", tokens[1].Token)
}

func TestDeleteToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	n, err := repo.DeleteToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteUserToken_OnlyOwnRows(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	other := testutil.NewTestUser(t, repo, "b@x.com", "secret")
	tok := newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	n, err := repo.DeleteUserToken(ctx, other.ID, tok.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteUserToken(ctx, user.ID, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeleteValidTokens(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	other := testutil.NewTestUser(t, repo, "b@x.com", "secret")
	newToken(t, repo, user.ID, "valid-1", now.Add(time.Hour))
	newToken(t, repo, user.ID, "valid-2", now.Add(time.Hour))
	newToken(t, repo, user.ID, "stale", now.Add(-time.Minute))
	newToken(t, repo, other.ID, "foreign", now.Add(time.Hour))

	n, err := repo.DeleteValidTokens(ctx, user.ID, now)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = repo.GetToken(ctx, "foreign")
	assert.NoError(t, err)
	_, err = repo.GetToken(ctx, "stale")
	assert.NoError(t, err)
}

func TestTouchToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, repo.TouchToken(ctx, "tok-1", at))

	got, err := repo.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.Millis(at), got.LastUsedAt)
}

func TestDeleteStaleTokens(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	newToken(t, repo, user.ID, "valid", now.Add(time.Hour))
	newToken(t, repo, user.ID, "expired", now.Add(-time.Minute))
	require.NoError(t, repo.CreateToken(ctx, &models.Token{
		Token: "revoked", UserID: user.ID, Revoked: true, ExpiresAt: models.Millis(now.Add(time.Hour)),
	}))

	n, err := repo.DeleteStaleTokens(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = repo.GetToken(ctx, "valid")
	assert.NoError(t, err)
}

func TestDeleteUser_CascadesTokens(t *testing.T) {
	db, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "a@x.com", "secret")
	newToken(t, repo, user.ID, "tok-1", time.Now().Add(time.Hour))

	_, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, user.ID)
	require.NoError(t, err)

	_, err = repo.GetToken(ctx, "tok-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
