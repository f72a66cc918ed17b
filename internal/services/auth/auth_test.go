// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/events"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/federation"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/otp"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/session"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
	"codeberg.org/oliverandrich/socialnet-auth/internal/testutil"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.UserCreated
}

func (p *capturePublisher) PublishUserCreated(_ context.Context, e events.UserCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	repo       *repository.Repository
	clock      *testutil.Clock
	mail       *testutil.MailRecorder
	ledger     *ledger.Ledger
	dispatcher *events.Dispatcher
	published  *capturePublisher
	svc        *auth.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Now().Truncate(time.Second))
	mail := &testutil.MailRecorder{}

	issuer, err := token.NewIssuer(testutil.JWTConfig(), token.WithClock(clock.Now))
	require.NoError(t, err)
	l := ledger.New(repo, issuer, ledger.WithClock(clock.Now))
	engine := otp.New(repo, mail, config.OTPConfig{Length: 6, TTL: 10 * time.Minute}, otp.WithClock(clock.Now))
	sessions := session.NewManager(issuer, l, repo, session.WithClock(clock.Now))
	published := &capturePublisher{}
	dispatcher := events.NewDispatcher(published, nil)

	return &fixture{
		repo:       repo,
		clock:      clock,
		mail:       mail,
		ledger:     l,
		dispatcher: dispatcher,
		published:  published,
		svc:        auth.NewService(repo, engine, l, sessions, dispatcher, auth.WithBcryptCost(bcrypt.MinCost)),
	}
}

func (f *fixture) registerVerified(t *testing.T, email, password string) *session.TokenPair {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: email, Password: password, FirstName: "Alice"})
	require.NoError(t, err)
	pair, err := f.svc.VerifyRegistration(ctx, email, f.mail.Last(t).Code, ledger.DeviceInfo{})
	require.NoError(t, err)
	return pair
}

func (f *fixture) valid(t *testing.T, accessToken string) bool {
	t.Helper()
	row, err := f.ledger.FindByToken(context.Background(), accessToken)
	if errors.Is(err, ledger.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return row.IsValid(f.clock.Now())
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestNormalizeEmail(t *testing.T) {
	email, err := auth.NormalizeEmail("  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	for _, bad := range []string{"", "alice", "Alice <alice@example.com>", "a@b@c"} {
		_, err := auth.NormalizeEmail(bad)
		assert.ErrorIs(t, err, auth.ErrInvalidEmail, bad)
	}
}

func TestRegistrationScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, auth.RegisterParams{Email: "alice@example.com", Password: "Pw123!", FirstName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), reg.OTPExpiresAt)

	user, err := f.repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
	assert.False(t, user.EmailVerified)

	_, err = f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	assert.ErrorIs(t, err, auth.ErrAccountNotVerified, "no login before verification")

	code := f.mail.Last(t).Code
	_, err = f.svc.VerifyRegistration(ctx, "alice@example.com", wrongCode(code), ledger.DeviceInfo{})
	var otpErr *auth.OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.Equal(t, otp.StatusInvalid, otpErr.Result.Status)

	pair, err := f.svc.VerifyRegistration(ctx, "alice@example.com", code, ledger.DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, f.valid(t, pair.AccessToken))

	user, err = f.repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.Enabled)
	assert.True(t, user.EmailVerified)

	login, err := f.svc.Login(ctx, "Alice@Example.com", "Pw123!", ledger.DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, f.valid(t, login.AccessToken))

	_, err = f.svc.VerifyRegistration(ctx, "alice@example.com", code, ledger.DeviceInfo{})
	require.ErrorAs(t, err, &otpErr, "the code is single use")

	f.dispatcher.Wait()
	require.Len(t, f.published.events, 1)
	assert.Equal(t, "alice@example.com", f.published.events[0].Email)
}

func TestRegister_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.NewTestUser(t, f.repo, "taken@example.com", "whatever")

	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "not-an-email", Password: "Pw123!"})
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = f.svc.Register(ctx, auth.RegisterParams{Email: "bob@example.com", Password: "123"})
	var pve *auth.PasswordValidationError
	assert.ErrorAs(t, err, &pve)

	_, err = f.svc.Register(ctx, auth.RegisterParams{Email: "TAKEN@example.com", Password: "Pw123!"})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
	assert.Empty(t, f.mail.Sent)
}

func TestRegister_PendingEmailIsTaken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "bob@example.com", Password: "Pw123!", FirstName: "Bob"})
	require.NoError(t, err)
	code := f.mail.Last(t).Code

	_, err = f.svc.Register(ctx, auth.RegisterParams{Email: "bob@example.com", Password: "Other-pw9!", FirstName: "Mallory"})
	require.ErrorIs(t, err, auth.ErrEmailTaken)
	assert.Len(t, f.mail.Sent, 1)

	user, err := f.repo.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.FirstName)

	_, err = f.svc.VerifyRegistration(ctx, "bob@example.com", code, ledger.DeviceInfo{})
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "bob@example.com", "Other-pw9!", ledger.DeviceInfo{})
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "bob@example.com", "Pw123!", ledger.DeviceInfo{})
	assert.NoError(t, err)
}

func TestLogin_PendingPasswordRevokedByFederatedLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "victim@example.com", Password: "Other-pw9!"})
	require.NoError(t, err)

	adapter := federation.NewAdapter(f.repo, f.dispatcher)
	linked, err := adapter.Resolve(ctx, models.ProviderGoogle,
		federation.Attributes{"sub": "g-9", "email": "victim@example.com", "email_verified": true})
	require.NoError(t, err)
	assert.True(t, linked.Enabled)

	_, err = f.svc.Login(ctx, "victim@example.com", "Other-pw9!", ledger.DeviceInfo{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRegister_MailFailure(t *testing.T) {
	f := setup(t)
	f.mail.Err = errors.New("smtp down")

	_, err := f.svc.Register(context.Background(), auth.RegisterParams{Email: "bob@example.com", Password: "Pw123!"})

	assert.ErrorIs(t, err, otp.ErrDelivery)
}

func TestVerifyRegistration_Expired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "bob@example.com", Password: "Pw123!"})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.VerifyRegistration(ctx, "bob@example.com", f.mail.Last(t).Code, ledger.DeviceInfo{})

	var otpErr *auth.OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.Equal(t, otp.StatusExpired, otpErr.Result.Status)

	user, err := f.repo.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
}

func TestResendOTP(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "bob@example.com", Password: "Pw123!"})
	require.NoError(t, err)

	dispatch, err := f.svc.ResendOTP(ctx, "bob@example.com", models.OtpRegistration)
	require.NoError(t, err)
	assert.Equal(t, models.OtpRegistration, dispatch.Type)
	assert.Len(t, f.mail.Sent, 2)

	_, err = f.svc.ResendOTP(ctx, "nobody@example.com", models.OtpRegistration)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	testutil.NewTestUser(t, f.repo, "done@example.com", "whatever")
	_, err = f.svc.ResendOTP(ctx, "done@example.com", models.OtpRegistration)
	assert.ErrorIs(t, err, auth.ErrAlreadyVerified)

	_, err = f.svc.ResendOTP(ctx, "bob@example.com", models.OtpPasswordReset)
	assert.ErrorIs(t, err, auth.ErrAccountNotVerified)
}

func TestLogin_GenericFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	oauthOnly := &models.User{Email: "oauth@example.com", Enabled: true, EmailVerified: true, Provider: models.ProviderGoogle}
	require.NoError(t, f.repo.CreateUser(ctx, oauthOnly))

	cases := []struct{ email, password string }{
		{"alice@example.com", "wrong"},
		{"nobody@example.com", "Pw123!"},
		{"oauth@example.com", ""},
		{"garbage", "Pw123!"},
	}
	for _, c := range cases {
		_, err := f.svc.Login(ctx, c.email, c.password, ledger.DeviceInfo{})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials, c.email)
	}
}

func TestLogin_RecordsDevice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	device := ledger.DeviceInfo{UserAgent: "Firefox", DeviceType: "desktop", DeviceName: "work laptop", IPAddress: "10.0.0.1"}

	pair, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", device)
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, pair.SessionID, sessions[0].ID)
	assert.Equal(t, "work laptop", sessions[0].DeviceName)
}

func TestTwoBrowsersLogoutScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")

	browserA, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{DeviceName: "A"})
	require.NoError(t, err)
	browserB, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{DeviceName: "B"})
	require.NoError(t, err)
	assert.True(t, f.valid(t, browserA.AccessToken))
	assert.True(t, f.valid(t, browserB.AccessToken))

	require.NoError(t, f.svc.Logout(ctx, browserA.AccessToken))
	assert.False(t, f.valid(t, browserA.AccessToken))
	assert.True(t, f.valid(t, browserB.AccessToken))

	n, err := f.svc.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, f.valid(t, browserB.AccessToken))

	later, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, f.valid(t, later.AccessToken), "sessions opened after logout-all are unaffected")
}

func TestLogoutAll_ConcurrentLoginMaySurvive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	_, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		pair  *session.TokenPair
		login error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.LogoutAll(ctx, user.ID)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		pair, login = f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	}()
	wg.Wait()

	require.NoError(t, login)
	// Either outcome is allowed: the racing session was swept or it survived.
	active, err := f.svc.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), 1)
	if len(active) == 1 {
		assert.Equal(t, pair.SessionID, active[0].ID)
	}
}

func TestRevokeSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	bob := testutil.NewTestUser(t, f.repo, "bob@example.com", "Pw123!")
	pair, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RevokeSession(ctx, bob.ID, pair.SessionID), ledger.ErrNotFound)
	require.NoError(t, f.svc.RevokeSession(ctx, alice.ID, pair.SessionID))
	assert.False(t, f.valid(t, pair.AccessToken))
}

func TestRevokeUserSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	for range 3 {
		_, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
		require.NoError(t, err)
	}

	n, err := f.svc.RevokeUserSessions(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = f.svc.RevokeUserSessions(ctx, 999)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestPasswordResetFlow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	old := f.registerVerified(t, "alice@example.com", "Pw123!")

	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@example.com"))
	mail := f.mail.Last(t)
	assert.Equal(t, models.OtpPasswordReset, mail.Purpose)

	err := f.svc.ResetPassword(ctx, "alice@example.com", wrongCode(mail.Code), "N3w-secret")
	var otpErr *auth.OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.True(t, f.valid(t, old.AccessToken), "a rejected code changes nothing")

	require.NoError(t, f.svc.ResetPassword(ctx, "alice@example.com", mail.Code, "N3w-secret"))
	assert.False(t, f.valid(t, old.AccessToken), "reset ends every session")

	_, err = f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "alice@example.com", "N3w-secret", ledger.DeviceInfo{})
	assert.NoError(t, err)

	err = f.svc.ResetPassword(ctx, "alice@example.com", mail.Code, "Other-pass1")
	assert.ErrorAs(t, err, &otpErr, "reset codes are single use")
}

func TestResetPassword_WeakPasswordKeepsCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.registerVerified(t, "alice@example.com", "Pw123!")
	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@example.com"))
	code := f.mail.Last(t).Code

	var pve *auth.PasswordValidationError
	require.ErrorAs(t, f.svc.ResetPassword(ctx, "alice@example.com", code, "123"), &pve)

	assert.NoError(t, f.svc.ResetPassword(ctx, "alice@example.com", code, "N3w-secret"))
}

func TestForgotPassword_UnknownIsSilent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com"))
	_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "pending@example.com", Password: "Pw123!"})
	require.NoError(t, err)
	require.NoError(t, f.svc.ForgotPassword(ctx, "pending@example.com"))

	assert.Len(t, f.mail.Sent, 1, "only the registration mail went out")
}

func TestChangePassword(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")
	pair, err := f.svc.Login(ctx, "alice@example.com", "Pw123!", ledger.DeviceInfo{})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, user.ID, "wrong", "N3w-secret"), auth.ErrInvalidCredentials)

	require.NoError(t, f.svc.ChangePassword(ctx, user.ID, "Pw123!", "N3w-secret"))
	assert.False(t, f.valid(t, pair.AccessToken))

	_, err = f.svc.Login(ctx, "alice@example.com", "N3w-secret", ledger.DeviceInfo{})
	assert.NoError(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, "root@example.com", "R00t-pass"))
	admin, err := f.repo.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.True(t, admin.Roles.Has(models.RoleAdmin))
	assert.True(t, admin.Enabled)

	require.NoError(t, f.svc.EnsureAdmin(ctx, "other@example.com", "R00t-pass"))
	_, err = f.repo.GetUserByEmail(ctx, "other@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound, "an existing admin short-circuits")
}

func TestEnsureAdmin_PromotesExisting(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, f.repo, "alice@example.com", "Pw123!")

	require.NoError(t, f.svc.EnsureAdmin(ctx, "alice@example.com", "ignored"))

	got, err := f.repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Roles.Has(models.RoleAdmin))
	assert.True(t, got.Roles.Has(models.RoleUser))
}
