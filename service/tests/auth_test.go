package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/docstamp/docstamp/digest"
	"github.com/docstamp/docstamp/gateway"
	gwmocks "github.com/docstamp/docstamp/gateway/mocks"
	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/service"
	"github.com/docstamp/docstamp/session"
	"github.com/docstamp/docstamp/session/memory"
)

func setupService(t *testing.T) (*service.Service, *gwmocks.MockGateway, *memory.Store) {
	t.Helper()
	mockGW := new(gwmocks.MockGateway)
	sessions := memory.NewStore()

	svc, err := service.NewService(context.Background(), mockGW, sessions, digest.NewComputer())
	require.NoError(t, err)
	return svc, mockGW, sessions
}

func setupAuthenticatedService(t *testing.T) (*service.Service, *gwmocks.MockGateway, *memory.Store) {
	t.Helper()
	mockGW := new(gwmocks.MockGateway)
	sessions := memory.NewStore()
	err := sessions.Set(context.Background(), models.Session{AccessToken: "S1", Role: "user", Username: "alice"})
	require.NoError(t, err)

	svc, err := service.NewService(context.Background(), mockGW, sessions, digest.NewComputer())
	require.NoError(t, err)
	return svc, mockGW, sessions
}

func TestNewService_RestoresPersistedSession(t *testing.T) {
	svc, _, _ := setupAuthenticatedService(t)
	assert.Equal(t, service.StateAuthenticated, svc.CurrentState())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "wrong").
		Return(gateway.LoginResult{}, &gateway.Error{Kind: gateway.KindUnauthorized})

	state, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	assert.Equal(t, service.StateAnonymous, state)
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
}

func TestLogin_AccountNotVerified(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{}, &gateway.Error{Kind: gateway.KindForbidden})

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, service.ErrAccountNotVerified)
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
}

func TestLogin_TransportErrorSurfacedVerbatim(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	gwErr := &gateway.Error{Kind: gateway.KindNetworkUnreachable, Reason: "connection refused"}
	mockGW.On("Login", ctx, "alice", "pw").Return(gateway.LoginResult{}, gwErr)

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	assert.True(t, gateway.IsKind(err, gateway.KindNetworkUnreachable))
}

func TestLogin_SecondFactorRequired(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)

	state, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	assert.NoError(t, err)
	assert.Equal(t, service.StateAwaitingOTP, state)

	challenge, ok := svc.PendingChallenge()
	require.True(t, ok)
	assert.Equal(t, "T1", challenge.TempToken)
	assert.Equal(t, models.ModeLogin, challenge.Mode)
}

func TestLogin_WithoutSecondFactor(t *testing.T) {
	svc, mockGW, sessions := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{AccessToken: "A1"}, nil)
	mockGW.On("FetchProfile", ctx, "A1").
		Return(models.Profile{Username: "alice", Role: "user"}, nil)

	state, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	assert.NoError(t, err)
	assert.Equal(t, service.StateAuthenticated, state)

	sess, err := sessions.Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, models.Session{AccessToken: "A1", Role: "user", Username: "alice"}, sess)
}

// Full second-factor scenario: challenge issued, wrong code rejected with the
// challenge intact, right code completes with token and profile combined
// into one atomically written session.
func TestLogin_SecondFactorScenario(t *testing.T) {
	svc, mockGW, sessions := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "000000").
		Return("", &gateway.Error{Kind: gateway.KindUnauthorized})
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "123456").
		Return("A1", nil)
	mockGW.On("FetchProfile", ctx, "A1").
		Return(models.Profile{Username: "alice", Role: "user"}, nil)

	state, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, service.StateAwaitingOTP, state)

	_, err = svc.SubmitOTP(ctx, "000000")
	assert.ErrorIs(t, err, service.ErrInvalidOTP)
	assert.Equal(t, service.StateAwaitingOTP, svc.CurrentState())
	challenge, ok := svc.PendingChallenge()
	require.True(t, ok)
	assert.Equal(t, "T1", challenge.TempToken, "retry keeps the same challenge")

	sess, err := svc.SubmitOTP(ctx, "123456")
	assert.NoError(t, err)
	assert.Equal(t, models.Session{AccessToken: "A1", Role: "user", Username: "alice"}, sess)
	assert.Equal(t, service.StateAuthenticated, svc.CurrentState())

	stored, err := sessions.Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, sess, stored)
}

func TestSubmitOTP_WithoutChallenge(t *testing.T) {
	svc, mockGW, _ := setupService(t)

	_, err := svc.SubmitOTP(context.Background(), "123456")
	assert.ErrorIs(t, err, service.ErrNoChallenge)
	mockGW.AssertNumberOfCalls(t, "VerifyOTP", 0)
}

func TestSubmitOTP_ChallengeNoLongerAccepted(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "123456").
		Return("", &gateway.Error{Kind: gateway.KindForbidden, Reason: "temp token expired"})

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.SubmitOTP(ctx, "123456")
	assert.ErrorIs(t, err, service.ErrChallengeExpired)
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
	_, ok := svc.PendingChallenge()
	assert.False(t, ok)
}

func TestSubmitOTP_TrimsAndBoundsCode(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "123456").
		Return("A1", nil)
	mockGW.On("FetchProfile", ctx, "A1").
		Return(models.Profile{Username: "alice", Role: "user"}, nil)

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.SubmitOTP(ctx, "  123456789\n")
	assert.NoError(t, err)
	mockGW.AssertCalled(t, "VerifyOTP", ctx, models.ModeLogin, "T1", "123456")
}

func TestSubmitOTP_BoundsMultibyteCodeByCharacters(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	// Fullwidth digits are three bytes each; the bound must cut between
	// characters, never inside one.
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "１２３４５６").
		Return("", &gateway.Error{Kind: gateway.KindUnauthorized})

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.SubmitOTP(ctx, "１２３４５６７８")
	assert.ErrorIs(t, err, service.ErrInvalidOTP)
	mockGW.AssertCalled(t, "VerifyOTP", ctx, models.ModeLogin, "T1", "１２３４５６")
}

func TestRegister_LocalValidationFailureMakesNoNetworkCall(t *testing.T) {
	svc, mockGW, _ := setupService(t)

	// No uppercase, no symbol.
	state, err := svc.Register(context.Background(), "bob", "bob@example.com",
		models.Credentials{Username: "bob", Password: "abc12345"}, "abc12345")
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, service.StateAnonymous, state)
	mockGW.AssertNumberOfCalls(t, "Register", 0)
}

func TestRegister_ConfirmationMismatch(t *testing.T) {
	svc, mockGW, _ := setupService(t)

	_, err := svc.Register(context.Background(), "bob", "bob@example.com",
		models.Credentials{Username: "bob", Password: "Abc123!@"}, "Abc123!!")
	assert.ErrorIs(t, err, service.ErrValidation)
	mockGW.AssertNumberOfCalls(t, "Register", 0)
}

func TestRegister_ValidPasswordIssuesExactlyOneCall(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Register", ctx, "bob", "bob@example.com", "Abc123!@").
		Return(gateway.RegisterResult{TempToken: "T9"}, nil)

	state, err := svc.Register(ctx, "bob", "bob@example.com",
		models.Credentials{Username: "bob", Password: "Abc123!@"}, "Abc123!@")
	assert.NoError(t, err)
	assert.Equal(t, service.StateAwaitingOTP, state)
	mockGW.AssertNumberOfCalls(t, "Register", 1)

	challenge, ok := svc.PendingChallenge()
	require.True(t, ok)
	assert.Equal(t, models.ModeRegister, challenge.Mode)
	assert.Equal(t, "T9", challenge.TempToken)
}

func TestRegister_ServerRejectionSurfaced(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Register", ctx, "bob", "bob@example.com", "Abc123!@").
		Return(gateway.RegisterResult{}, &gateway.Error{Kind: gateway.KindUnprocessable, Reason: "Username already registered"})

	_, err := svc.Register(ctx, "bob", "bob@example.com",
		models.Credentials{Username: "bob", Password: "Abc123!@"}, "Abc123!@")
	assert.True(t, gateway.IsKind(err, gateway.KindUnprocessable))
	assert.Contains(t, err.Error(), "Username already registered")
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
}

func TestRegister_ServerWithoutSecondFactor(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Register", ctx, "bob", "bob@example.com", "Abc123!@").
		Return(gateway.RegisterResult{}, nil)

	state, err := svc.Register(ctx, "bob", "bob@example.com",
		models.Credentials{Username: "bob", Password: "Abc123!@"}, "Abc123!@")
	assert.NoError(t, err)
	assert.Equal(t, service.StateAnonymous, state)
	_, ok := svc.PendingChallenge()
	assert.False(t, ok)
}

func TestLogout(t *testing.T) {
	svc, _, sessions := setupAuthenticatedService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Logout(ctx))
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())

	_, err := sessions.Get(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestLogout_DiscardsPendingChallenge(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx))

	_, err = svc.SubmitOTP(ctx, "123456")
	assert.ErrorIs(t, err, service.ErrNoChallenge)
}

// A login abandoned by logout must not resurrect its challenge when the
// server's response finally lands.
func TestLogin_AbandonedBeforeResponseIsDiscarded(t *testing.T) {
	svc, mockGW, _ := setupService(t)
	ctx := context.Background()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	mockGW.On("Login", ctx, "alice", "pw").
		Run(func(mock.Arguments) {
			close(inFlight)
			<-release
		}).
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
		errs <- err
	}()

	<-inFlight
	require.NoError(t, svc.Logout(ctx))
	close(release)

	assert.ErrorIs(t, <-errs, service.ErrSuperseded)
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
	_, ok := svc.PendingChallenge()
	assert.False(t, ok)
}

// Logging out while the profile fetch is still in flight discards the
// nearly-complete authentication instead of writing a session for a flow
// the user already walked away from.
func TestSubmitOTP_AbandonedBeforeProfileIsDiscarded(t *testing.T) {
	svc, mockGW, sessions := setupService(t)
	ctx := context.Background()

	mockGW.On("Login", ctx, "alice", "pw").
		Return(gateway.LoginResult{Requires2FA: true, TempToken: "T1"}, nil)
	mockGW.On("VerifyOTP", ctx, models.ModeLogin, "T1", "123456").
		Return("A1", nil)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	mockGW.On("FetchProfile", ctx, "A1").
		Run(func(mock.Arguments) {
			close(inFlight)
			<-release
		}).
		Return(models.Profile{Username: "alice", Role: "user"}, nil)

	_, err := svc.Login(ctx, models.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := svc.SubmitOTP(ctx, "123456")
		errs <- err
	}()

	<-inFlight
	require.NoError(t, svc.Logout(ctx))
	close(release)

	assert.ErrorIs(t, <-errs, service.ErrSuperseded)
	assert.Equal(t, service.StateAnonymous, svc.CurrentState())
	_, err = sessions.Get(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}
