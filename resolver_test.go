package principal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	principal "github.com/goliatone/go-principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	cfg      *principal.SimpleConfig
	api      *fakeAPI
	tokens   *principal.MemoryTokenStore
	embeds   *principal.EmbedStore
	resolver *principal.Resolver
	sink     *recordingSink
}

func newResolverFixture(t *testing.T, cfg *principal.SimpleConfig, api *fakeAPI) *resolverFixture {
	t.Helper()

	if cfg == nil {
		cfg = &principal.SimpleConfig{}
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = 200 * time.Millisecond
	}

	f := &resolverFixture{
		cfg:    cfg,
		api:    api,
		tokens: principal.NewMemoryTokenStore(),
		embeds: principal.NewEmbedStore(cfg),
		sink:   &recordingSink{},
	}
	f.resolver = principal.NewResolver(cfg, api, f.tokens, f.embeds).
		WithActivitySink(f.sink)

	return f
}

func (f *resolverFixture) storeTokens(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, f.tokens.Set(context.Background(), principal.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
	}))
}

func (f *resolverFixture) storedTokens(t *testing.T) (principal.Tokens, bool) {
	t.Helper()
	tokens, ok, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	return tokens, ok
}

func TestResolverStartsLoading(t *testing.T) {
	f := newResolverFixture(t, nil, &fakeAPI{})

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUninitialized, snap.Phase)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.Principal)
}

func TestInitializeBypassIsSynchronousAndOffline(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{BypassMode: true}, api)

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginBypass, snap.Principal.Origin)
	assert.Zero(t, api.networkCalls())
}

func TestInitializeHostAssertedFromURL(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)

	// email only, no referrer, empty allow list
	f.embeds.Recompute(principal.EmbedInput{URL: "https://app.example.com/#/home?email=a@b.com"})

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginHostAsserted, snap.Principal.Origin)
	assert.Equal(t, "a@b.com", snap.Principal.Email)
	assert.Zero(t, api.networkCalls())
}

func TestInitializeTrustedEmbedOutranksStoredToken(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return nil, errors.New("token is garbage")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "stale-access", "stale-refresh")

	f.embeds.Recompute(principal.EmbedInput{URL: "https://app.example.com/#/home?userId=u-7"})
	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginHostAsserted, snap.Principal.Origin)
	// the embed fast path never reaches the network
	assert.Zero(t, api.meCalls.Load())
}

func TestInitializeNoTokenIsUnauthenticated(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUnauthenticated, snap.Phase)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Principal)
	assert.Zero(t, api.networkCalls())
}

func TestInitializeVerifiesStoredToken(t *testing.T) {
	api := &fakeAPI{
		meFn: func(_ context.Context, accessToken string) (*principal.Principal, error) {
			assert.Equal(t, "access-1", accessToken)
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "access-1", "refresh-1")

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "usr-123", snap.Principal.ID)
	assert.Equal(t, "ada@example.com", snap.Principal.Email)
	assert.Equal(t, principal.OriginToken, snap.Principal.Origin)
}

func TestInitializeRejectedTokenClearsStore(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return nil, errors.New("expired")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "access-1", "refresh-1")

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUnauthenticated, snap.Phase)
	assert.Error(t, snap.Err)

	_, ok := f.storedTokens(t)
	assert.False(t, ok)
}

func TestInitializeVerificationTimeoutDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			// ignore the context deadline to simulate a verification that
			// resolves after the hard deadline already settled the state
			<-release
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{VerifyTimeout: 30 * time.Millisecond}, api)
	f.storeTokens(t, "access-1", "refresh-1")

	require.NoError(t, f.resolver.Initialize(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUnauthenticated, snap.Phase)
	assert.True(t, principal.IsVerificationTimeout(snap.Err))

	_, ok := f.storedTokens(t)
	assert.False(t, ok)

	// the late success must never resurrect the session
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, principal.PhaseUnauthenticated, f.resolver.Snapshot().Phase)
	assert.Nil(t, f.resolver.Snapshot().Principal)
}

func TestStaleVerificationRejectionKeepsFreshLoginTokens(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{
		meFn: func(_ context.Context, accessToken string) (*principal.Principal, error) {
			if accessToken == "stale-access" {
				<-release
				return nil, errors.New("expired")
			}
			return canonicalUser(), nil
		},
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{
				Tokens: &principal.Tokens{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"},
				User:   &principal.Principal{ID: "usr-123", Email: "ada@example.com"},
			}, nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{VerifyTimeout: 5 * time.Second}, api)
	f.storeTokens(t, "stale-access", "stale-refresh")

	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		_ = f.resolver.Initialize(context.Background())
	}()

	require.Eventually(t, func() bool {
		return f.resolver.Snapshot().Phase == principal.PhaseResolving
	}, time.Second, 5*time.Millisecond)

	// a fresh login completes while the stale verification is still in flight
	_, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.Equal(t, principal.PhaseAuthenticated, f.resolver.Snapshot().Phase)

	// the stale rejection loses the race; it must be a full no-op, token store included
	close(release)
	select {
	case <-initDone:
	case <-time.After(time.Second):
		t.Fatal("initialization did not finish")
	}

	assert.Equal(t, principal.PhaseAuthenticated, f.resolver.Snapshot().Phase)
	tokens, ok := f.storedTokens(t)
	require.True(t, ok, "fresh login tokens must survive a stale verification failure")
	assert.Equal(t, "fresh-access", tokens.AccessToken)
	assert.Equal(t, "fresh-refresh", tokens.RefreshToken)
}

func TestStaleVerificationTimeoutKeepsFreshLoginTokens(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{
		meFn: func(_ context.Context, accessToken string) (*principal.Principal, error) {
			if accessToken == "stale-access" {
				<-release
				return nil, errors.New("expired")
			}
			return canonicalUser(), nil
		},
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{
				Tokens: &principal.Tokens{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"},
				User:   &principal.Principal{ID: "usr-123", Email: "ada@example.com"},
			}, nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{VerifyTimeout: 150 * time.Millisecond}, api)
	f.storeTokens(t, "stale-access", "stale-refresh")
	defer close(release)

	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		_ = f.resolver.Initialize(context.Background())
	}()

	require.Eventually(t, func() bool {
		return f.resolver.Snapshot().Phase == principal.PhaseResolving
	}, time.Second, 5*time.Millisecond)

	_, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	// the verify deadline lapses with the login already settled; the timeout
	// must not touch the fresh tokens
	select {
	case <-initDone:
	case <-time.After(time.Second):
		t.Fatal("initialization did not finish")
	}

	assert.Equal(t, principal.PhaseAuthenticated, f.resolver.Snapshot().Phase)
	tokens, ok := f.storedTokens(t)
	require.True(t, ok, "fresh login tokens must survive a stale verification timeout")
	assert.Equal(t, "fresh-access", tokens.AccessToken)
}

func TestLoginRequiresMFA(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{RequiresMFA: true, UserID: "usr-123"}, nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	result, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresMFA)
	assert.Equal(t, "usr-123", result.UserID)

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseMFAPending, snap.Phase)
	require.NotNil(t, snap.MFAPending)
	assert.Equal(t, "usr-123", snap.MFAPending.UserID)

	// no tokens are persisted until the second factor clears
	_, ok := f.storedTokens(t)
	assert.False(t, ok)
}

func TestLoginOptimisticThenCanonical(t *testing.T) {
	canonicalReady := make(chan struct{})
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{
				Tokens: &principal.Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"},
				User:   &principal.Principal{ID: "usr-123", Email: "ada@example.com"},
			}, nil
		},
		meFn: func(context.Context, string) (*principal.Principal, error) {
			<-canonicalReady
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	result, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	// the optimistic principal is visible before the canonical fetch completes
	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginToken, snap.Principal.Origin)
	assert.Empty(t, snap.Principal.FirstName)
	assert.Equal(t, result.Principal, snap.Principal)

	tokens, ok := f.storedTokens(t)
	require.True(t, ok)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)

	close(canonicalReady)
	require.Eventually(t, func() bool {
		p := f.resolver.Snapshot().Principal
		return p != nil && p.FirstName == "Ada"
	}, time.Second, 5*time.Millisecond, "canonical principal should replace the optimistic one")

	assert.Equal(t, principal.PhaseAuthenticated, f.resolver.Snapshot().Phase)
}

func TestLoginCanonicalFetchFailureKeepsSession(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{
				Tokens: &principal.Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"},
				User:   &principal.Principal{ID: "usr-123", Email: "ada@example.com"},
			}, nil
		},
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return nil, errors.New("backend hiccup")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	_, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return api.meCalls.Load() > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// the session from tokens is already valid; no revert to unauthenticated
	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "usr-123", snap.Principal.ID)
}

func TestLoginFailureStaysUnauthenticated(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return nil, errors.New("bad credentials")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	_, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "ada@example.com",
		Password: "wrong",
	})
	require.Error(t, err)

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Principal)
	assert.Error(t, snap.Err)
}

func TestLoginValidatesPayload(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)

	_, err := f.resolver.Login(context.Background(), principal.Credentials{Email: "not-an-email", Password: "x"})
	require.Error(t, err)
	assert.Zero(t, api.loginCalls.Load())
}

func TestLoginBypassSynthesizesFromEmail(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{BypassMode: true}, api)

	result, err := f.resolver.Login(context.Background(), principal.Credentials{
		Email:    "dev@example.com",
		Password: "anything",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Principal)
	assert.Equal(t, "dev@example.com", result.Principal.Email)
	assert.Equal(t, principal.OriginBypass, result.Principal.Origin)
	assert.Zero(t, api.networkCalls())
}

func TestVerifyMFASuccess(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{RequiresMFA: true, UserID: "usr-123"}, nil
		},
		verifyFn: func(_ context.Context, req principal.MFARequest) (*principal.Tokens, error) {
			assert.Equal(t, "000111", req.Code)
			assert.Equal(t, "usr-123", req.UserID)
			return &principal.Tokens{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		},
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	_, err := f.resolver.Login(context.Background(), principal.Credentials{Email: "ada@example.com", Password: "pw-123456"})
	require.NoError(t, err)

	require.NoError(t, f.resolver.VerifyMFA(context.Background(), "000111"))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginToken, snap.Principal.Origin)
	assert.Equal(t, "Ada", snap.Principal.FirstName)

	tokens, ok := f.storedTokens(t)
	require.True(t, ok)
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)
}

func TestVerifyMFAFailureStaysPending(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, principal.Credentials) (*principal.LoginResponse, error) {
			return &principal.LoginResponse{RequiresMFA: true, UserID: "usr-123"}, nil
		},
		verifyFn: func(context.Context, principal.MFARequest) (*principal.Tokens, error) {
			return nil, errors.New("wrong code")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))

	_, err := f.resolver.Login(context.Background(), principal.Credentials{Email: "ada@example.com", Password: "pw-123456"})
	require.NoError(t, err)

	err = f.resolver.VerifyMFA(context.Background(), "999999")
	require.Error(t, err)

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseMFAPending, snap.Phase)
	require.NotNil(t, snap.MFAPending)

	_, ok := f.storedTokens(t)
	assert.False(t, ok)
}

func TestVerifyMFAWithoutPendingChallenge(t *testing.T) {
	f := newResolverFixture(t, &principal.SimpleConfig{}, &fakeAPI{})
	require.NoError(t, f.resolver.Initialize(context.Background()))

	err := f.resolver.VerifyMFA(context.Background(), "000111")
	assert.Error(t, err)
}

func TestVerifyMFABypassIsNoop(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{BypassMode: true}, api)

	require.NoError(t, f.resolver.VerifyMFA(context.Background(), "anything"))
	assert.Zero(t, api.networkCalls())
}

func TestLogoutClearsTokensTogether(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "access-1", "refresh-1")
	require.NoError(t, f.resolver.Initialize(context.Background()))
	require.Equal(t, principal.PhaseAuthenticated, f.resolver.Snapshot().Phase)

	require.NoError(t, f.resolver.Logout(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Principal)

	tokens, ok := f.storedTokens(t)
	assert.False(t, ok)
	assert.Empty(t, tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken)
	assert.Equal(t, int64(1), api.logoutCalls.Load())
}

func TestLogoutCollaboratorFailureIsNonFatal(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return canonicalUser(), nil
		},
		logoutFn: func(context.Context, string) error {
			return errors.New("backend down")
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "access-1", "refresh-1")
	require.NoError(t, f.resolver.Initialize(context.Background()))

	require.NoError(t, f.resolver.Logout(context.Background()))

	assert.Equal(t, principal.PhaseUnauthenticated, f.resolver.Snapshot().Phase)
	_, ok := f.storedTokens(t)
	assert.False(t, ok)
}

func TestLogoutGuestVariant(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{GuestOnLogout: true}, api)
	f.storeTokens(t, "access-1", "refresh-1")
	require.NoError(t, f.resolver.Initialize(context.Background()))

	require.NoError(t, f.resolver.Logout(context.Background()))

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, principal.OriginAnonymous, snap.Principal.Origin)
}

func TestEmbedChangeReResolves(t *testing.T) {
	api := &fakeAPI{}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	require.NoError(t, f.resolver.Initialize(context.Background()))
	require.Equal(t, principal.PhaseUnauthenticated, f.resolver.Snapshot().Phase)

	// host parameters arrive on a later navigation, after the host handshake
	f.embeds.Recompute(principal.EmbedInput{URL: "https://app.example.com/#/home?email=late@b.com"})

	snap := f.resolver.Snapshot()
	assert.Equal(t, principal.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "late@b.com", snap.Principal.Email)

	// losing the trust basis drops the host session
	f.embeds.Recompute(principal.EmbedInput{URL: "https://app.example.com/#/home"})
	assert.Equal(t, principal.PhaseUnauthenticated, f.resolver.Snapshot().Phase)
}

func TestResolverEmitsActivity(t *testing.T) {
	api := &fakeAPI{
		meFn: func(context.Context, string) (*principal.Principal, error) {
			return canonicalUser(), nil
		},
	}
	f := newResolverFixture(t, &principal.SimpleConfig{}, api)
	f.storeTokens(t, "access-1", "refresh-1")
	require.NoError(t, f.resolver.Initialize(context.Background()))
	require.NoError(t, f.resolver.Logout(context.Background()))

	types := f.sink.types()
	assert.Contains(t, types, principal.ActivityEventSessionResolved)
	assert.Contains(t, types, principal.ActivityEventLogout)
}
