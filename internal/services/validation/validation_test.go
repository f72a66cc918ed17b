// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package validation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
	"codeberg.org/oliverandrich/socialnet-auth/internal/testutil"
)

type fixture struct {
	db       *sqlx.DB
	repo     *repository.Repository
	clock    *testutil.Clock
	issuer   *token.Issuer
	ledger   *ledger.Ledger
	pipeline *validation.Pipeline
	user     *models.User
}

func setup(t *testing.T, opts ...validation.Option) *fixture {
	t.Helper()
	db, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Now().Truncate(time.Second))
	issuer, err := token.NewIssuer(testutil.JWTConfig(), token.WithClock(clock.Now))
	require.NoError(t, err)
	l := ledger.New(repo, issuer, ledger.WithClock(clock.Now))

	return &fixture{
		db:       db,
		repo:     repo,
		clock:    clock,
		issuer:   issuer,
		ledger:   l,
		pipeline: validation.New(issuer, l, repo, append([]validation.Option{validation.WithClock(clock.Now)}, opts...)...),
		user:     testutil.NewTestUser(t, repo, "alice@example.com", "Pw123!"),
	}
}

func (f *fixture) login(t *testing.T, user *models.User) string {
	t.Helper()
	raw, err := f.issuer.IssueAccessToken(user)
	require.NoError(t, err)
	_, err = f.ledger.RecordSession(context.Background(), user, raw, ledger.DeviceInfo{})
	require.NoError(t, err)
	return raw
}

func requireReason(t *testing.T, want validation.Reason, err error) {
	t.Helper()
	var rej *validation.RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, want, rej.Reason)
}

func TestValidate_Authenticated(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)

	id, err := f.pipeline.Validate(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, f.user.ID, id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, models.RoleSet{models.RoleUser}, id.Roles)
	assert.Equal(t, raw, id.Token)
	assert.NotZero(t, id.SessionID)
}

func TestValidate_Malformed(t *testing.T) {
	f := setup(t)
	other, err := token.NewIssuer(config.JWTConfig{
		Secret:     "another-secret-that-is-at-least-32-bytes",
		Issuer:     "socialnet-auth-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)
	forged, err := other.IssueAccessToken(f.user)
	require.NoError(t, err)
	refresh, err := f.issuer.IssueRefreshToken(f.user)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"wrong secret":  forged,
		"refresh token": refresh,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.pipeline.Validate(context.Background(), raw)
			requireReason(t, validation.ReasonMalformed, err)
		})
	}
}

func TestValidate_Expired(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)

	f.clock.Advance(15*time.Minute + time.Second)
	_, err := f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonExpired, err)
}

func TestValidate_ExpiryRecheckedAgainstOwnClock(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	late := testutil.NewClock(f.clock.Now().Add(time.Hour))
	pipeline := validation.New(f.issuer, f.ledger, f.repo, validation.WithClock(late.Now))

	_, err := pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonExpired, err)
}

func TestValidate_ValidSignatureWithoutLedgerRow(t *testing.T) {
	f := setup(t)
	raw, err := f.issuer.IssueAccessToken(f.user)
	require.NoError(t, err)

	_, err = f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonRevoked, err)
}

func TestValidate_LogoutIsImmediate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	raw := f.login(t, f.user)
	_, err := f.pipeline.Validate(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Revoke(ctx, raw))

	_, err = f.pipeline.Validate(ctx, raw)
	requireReason(t, validation.ReasonRevoked, err)
}

func TestValidate_FlaggedRow(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	_, err := f.db.Exec(`UPDATE tokens SET revoked = 1 WHERE token = ?`, raw)
	require.NoError(t, err)

	_, err = f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonRevoked, err)
}

func TestValidate_UserNotFound(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	_, err := f.db.Exec(`UPDATE users SET email = 'renamed@example.com' WHERE id = ?`, f.user.ID)
	require.NoError(t, err)

	_, err = f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonUserNotFound, err)
}

func TestValidate_SubjectMismatch(t *testing.T) {
	f := setup(t)
	testutil.NewTestUser(t, f.repo, "bob@example.com", "Pw123!")
	impostor := *f.user
	impostor.Email = "bob@example.com"
	raw := f.login(t, &impostor)

	_, err := f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonSubjectMismatch, err)
}

func TestValidate_DisabledAccount(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	f.user.Enabled = false
	require.NoError(t, f.repo.UpdateUser(context.Background(), f.user))

	_, err := f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonDisabled, err)
}

func TestValidate_StoreFailureIsInternal(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	require.NoError(t, f.db.Close())

	_, err := f.pipeline.Validate(context.Background(), raw)

	requireReason(t, validation.ReasonInternal, err)
}

func TestValidate_PanicIsInternal(t *testing.T) {
	f := setup(t)
	raw := f.login(t, f.user)
	broken := validation.New(f.issuer, nil, f.repo, validation.WithClock(f.clock.Now))

	var err error
	require.NotPanics(t, func() {
		_, err = broken.Validate(context.Background(), raw)
	})
	requireReason(t, validation.ReasonInternal, err)
}

func TestValidate_TouchesSession(t *testing.T) {
	f := setup(t, validation.WithTouch(true), validation.WithMetrics(metrics.New()))
	ctx := context.Background()
	raw := f.login(t, f.user)

	_, err := f.pipeline.Validate(ctx, raw)
	require.NoError(t, err)

	row, err := f.ledger.FindByToken(ctx, raw)
	require.NoError(t, err)
	assert.False(t, row.LastUsedAt.IsZero())
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, validation.ReasonExpired, validation.ReasonOf(&validation.RejectError{Reason: validation.ReasonExpired}))
	assert.Equal(t, validation.ReasonInternal, validation.ReasonOf(assert.AnError))
}
