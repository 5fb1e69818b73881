package principal_test

import (
	"context"
	"sync"
	"sync/atomic"

	principal "github.com/goliatone/go-principal"
)

// fakeAPI implements principal.API with overridable behavior and call counters.
type fakeAPI struct {
	loginFn  func(ctx context.Context, creds principal.Credentials) (*principal.LoginResponse, error)
	verifyFn func(ctx context.Context, req principal.MFARequest) (*principal.Tokens, error)
	meFn     func(ctx context.Context, accessToken string) (*principal.Principal, error)
	logoutFn func(ctx context.Context, accessToken string) error

	loginCalls  atomic.Int64
	verifyCalls atomic.Int64
	meCalls     atomic.Int64
	logoutCalls atomic.Int64
}

func (f *fakeAPI) Login(ctx context.Context, creds principal.Credentials) (*principal.LoginResponse, error) {
	f.loginCalls.Add(1)
	if f.loginFn == nil {
		return nil, errNotConfigured
	}
	return f.loginFn(ctx, creds)
}

func (f *fakeAPI) VerifyMFA(ctx context.Context, req principal.MFARequest) (*principal.Tokens, error) {
	f.verifyCalls.Add(1)
	if f.verifyFn == nil {
		return nil, errNotConfigured
	}
	return f.verifyFn(ctx, req)
}

func (f *fakeAPI) Me(ctx context.Context, accessToken string) (*principal.Principal, error) {
	f.meCalls.Add(1)
	if f.meFn == nil {
		return nil, errNotConfigured
	}
	return f.meFn(ctx, accessToken)
}

func (f *fakeAPI) Logout(ctx context.Context, accessToken string) error {
	f.logoutCalls.Add(1)
	if f.logoutFn == nil {
		return nil
	}
	return f.logoutFn(ctx, accessToken)
}

func (f *fakeAPI) networkCalls() int64 {
	return f.loginCalls.Load() + f.verifyCalls.Load() + f.meCalls.Load() + f.logoutCalls.Load()
}

type notConfiguredError struct{}

func (notConfiguredError) Error() string { return "fake api call not configured" }

var errNotConfigured = notConfiguredError{}

// recordingSink captures activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []principal.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event principal.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []principal.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]principal.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func canonicalUser() *principal.Principal {
	return &principal.Principal{
		ID:         "usr-123",
		Email:      "ada@example.com",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		MFAEnabled: true,
	}
}
