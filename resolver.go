package principal

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Phase is the session resolution state.
type Phase string

const (
	PhaseUninitialized   Phase = "UNINITIALIZED"
	PhaseResolving       Phase = "RESOLVING"
	PhaseAuthenticated   Phase = "AUTHENTICATED"
	PhaseUnauthenticated Phase = "UNAUTHENTICATED"
	PhaseMFAPending      Phase = "MFA_PENDING"
)

// MFAPending carries the challenge surfaced by a login that requires a second factor.
type MFAPending struct {
	UserID string
}

// Resolution is a snapshot of the state machine. Loading is true only while a
// verification race is in flight and during the not-yet-evaluated window at
// process start.
type Resolution struct {
	Phase      Phase
	Principal  *Principal
	Loading    bool
	MFAPending *MFAPending
	Err        error
}

// LoginResult is what a login transition surfaces to the caller.
type LoginResult struct {
	RequiresMFA bool
	UserID      string
	Principal   *Principal
}

// Resolver is the session/principal state machine. One instance per client
// process; the principal it holds is replaced wholesale on every transition.
type Resolver struct {
	cfg    Config
	api    API
	tokens TokenStore
	embeds *EmbedStore
	logger Logger
	sink   ActivitySink
	now    func() time.Time

	mu         sync.Mutex
	phase      Phase
	principal  *Principal
	loading    bool
	mfaPending *MFAPending
	lastErr    error
	// generation invalidates in-flight asynchronous work. Every terminal
	// transition bumps it; an async completion holding a stale generation is
	// a guaranteed no-op, never allowed to resurrect a session.
	generation uint64
	listeners  []func(Resolution)
}

// NewResolver wires the state machine to its collaborators. The store's
// navigation re-evaluations re-run resolution when the embed trust ruling
// can change the current session.
func NewResolver(cfg Config, api API, tokens TokenStore, embeds *EmbedStore) *Resolver {
	r := &Resolver{
		cfg:     cfg,
		api:     api,
		tokens:  tokens,
		embeds:  embeds,
		logger:  defLogger{},
		sink:    noopActivitySink{},
		now:     time.Now,
		phase:   PhaseUninitialized,
		loading: true,
	}

	if embeds != nil {
		embeds.OnChange(r.onEmbedChange)
	}

	return r
}

// WithLogger overrides the resolver logger.
func (r *Resolver) WithLogger(logger Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithActivitySink configures an ActivitySink for session lifecycle events.
func (r *Resolver) WithActivitySink(sink ActivitySink) *Resolver {
	r.sink = normalizeActivitySink(sink)
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Snapshot returns the current resolution state.
func (r *Resolver) Snapshot() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Resolution{
		Phase:      r.phase,
		Principal:  r.principal,
		Loading:    r.loading,
		MFAPending: r.mfaPending,
		Err:        r.lastErr,
	}
}

// OnChange registers a listener invoked after every transition.
func (r *Resolver) OnChange(fn func(Resolution)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Initialize runs the resolution sequence: bypass check, embed check, then
// token verification against the backend. The bypass/embed path is fully
// synchronous and never touches the network, so a host-embedded session is
// established before any stale token verification could resolve.
func (r *Resolver) Initialize(ctx context.Context) error {
	embed := r.currentEmbed()

	r.mu.Lock()
	r.generation++
	gen := r.generation

	if r.cfg.GetBypassMode() || embed.Trusted() {
		p := r.synthesize(embed)
		r.applyLocked(PhaseAuthenticated, p, false, nil, nil)
		r.mu.Unlock()
		r.notify()
		r.emit(ctx, ActivityEventSessionResolved, p, map[string]any{"source": embed.Source})
		return nil
	}

	r.applyLocked(PhaseResolving, nil, true, nil, nil)
	r.mu.Unlock()
	r.notify()

	tokens, ok, err := r.tokens.Get(ctx)
	if err != nil {
		// initialization failures recover locally, never crash the app
		r.logger.Error("token store read failed: %v", err)
		r.settle(ctx, gen, PhaseUnauthenticated, nil, err)
		return nil
	}

	if !ok || !tokens.HasAccess() {
		r.settle(ctx, gen, PhaseUnauthenticated, nil, nil)
		return nil
	}

	if info, err := InspectToken(tokens.AccessToken); err == nil {
		r.logger.Debug("stored access token subject=%s expires=%s", info.Subject, info.ExpiresAt)
	}

	r.verifyStoredToken(ctx, gen, tokens)
	return nil
}

// verifyStoredToken races the current-user call against a hard deadline.
// Whichever completes first settles the state; the loser's completion is a
// guaranteed no-op through the generation guard.
func (r *Resolver) verifyStoredToken(ctx context.Context, gen uint64, tokens Tokens) {
	timeout := r.cfg.GetVerifyTimeout()
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)

	type meResult struct {
		principal *Principal
		err       error
	}

	ch := make(chan meResult, 1)
	go func() {
		defer cancel()
		p, err := r.api.Me(verifyCtx, tokens.AccessToken)
		ch <- meResult{principal: p, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			r.logger.Warn("stored token rejected: %v", res.err)
			// clear only when this verification still owns the session; a
			// stale rejection must not destroy tokens a fresh login persisted
			if r.settle(ctx, gen, PhaseUnauthenticated, nil,
				goerrors.Wrap(res.err, ErrVerificationFailed.Category, ErrVerificationFailed.Message).
					WithTextCode(ErrVerificationFailed.TextCode)) {
				r.clearTokens(ctx)
			}
			return
		}
		r.settle(ctx, gen, PhaseAuthenticated, withOrigin(res.principal, OriginToken), nil)
	case <-time.After(timeout):
		r.logger.Warn("current user verification exceeded %s deadline", timeout)
		if r.settle(ctx, gen, PhaseUnauthenticated, nil, ErrVerificationTimeout) {
			r.clearTokens(ctx)
		}
		// drain the late result; settle rejects its stale generation
		go func() {
			if res := <-ch; res.err == nil {
				r.settle(context.Background(), gen, PhaseAuthenticated, withOrigin(res.principal, OriginToken), nil)
			}
		}()
	}
}

// Login submits credentials to the login collaborator. In bypass mode a
// principal is synthesized from the submitted email with no network call.
func (r *Resolver) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload")
	}

	if r.cfg.GetBypassMode() {
		p := BypassPrincipal(creds.Email)
		r.transition(PhaseAuthenticated, p, nil, nil)
		r.emit(ctx, ActivityEventLoginSuccess, p, nil)
		return &LoginResult{Principal: p}, nil
	}

	resp, err := r.api.Login(ctx, creds)
	if err != nil {
		wrapped := goerrors.Wrap(err, ErrLoginFailed.Category, ErrLoginFailed.Message).
			WithTextCode(ErrLoginFailed.TextCode)
		r.transition(PhaseUnauthenticated, nil, nil, wrapped)
		r.emit(ctx, ActivityEventLoginFailure, nil, map[string]any{"email": creds.Email, "error": err.Error()})
		return nil, wrapped
	}

	if resp.RequiresMFA {
		// no tokens are persisted until the second factor clears
		r.transition(PhaseMFAPending, nil, &MFAPending{UserID: resp.UserID}, nil)
		return &LoginResult{RequiresMFA: true, UserID: resp.UserID}, nil
	}

	if resp.Tokens == nil || !resp.Tokens.HasAccess() {
		wrapped := ErrLoginFailed.WithMetadata(map[string]any{"reason": "login response carried no tokens"})
		r.transition(PhaseUnauthenticated, nil, nil, wrapped)
		return nil, wrapped
	}

	if err := r.tokens.Set(ctx, *resp.Tokens); err != nil {
		wrapped := goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist tokens")
		r.transition(PhaseUnauthenticated, nil, nil, wrapped)
		return nil, wrapped
	}

	// Optimistic principal from the login response, so a protected route does
	// not redirect while the canonical fetch is still in flight. The canonical
	// principal replaces it wholesale as a second AUTHENTICATED transition.
	optimistic := r.optimisticPrincipal(resp, creds.Email)
	gen := r.transition(PhaseAuthenticated, optimistic, nil, nil)
	r.emit(ctx, ActivityEventLoginSuccess, optimistic, nil)

	go r.fetchCanonical(gen, resp.Tokens.AccessToken)

	return &LoginResult{Principal: optimistic}, nil
}

// fetchCanonical replaces the optimistic principal with the backend's
// canonical record. A failure here does not revert the session: the tokens
// are already valid.
func (r *Resolver) fetchCanonical(gen uint64, accessToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GetVerifyTimeout())
	defer cancel()

	p, err := r.api.Me(ctx, accessToken)
	if err != nil {
		r.logger.Warn("canonical principal fetch failed after login: %v", err)
		return
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		r.logger.Debug("discarding canonical principal for superseded session")
		return
	}
	r.generation++
	r.applyLocked(PhaseAuthenticated, withOrigin(p, OriginToken), false, nil, nil)
	r.mu.Unlock()
	r.notify()
}

// VerifyMFA submits the pending challenge's second factor. Bypass mode is a
// no-op success. On failure the session stays MFA pending.
func (r *Resolver) VerifyMFA(ctx context.Context, code string) error {
	if r.cfg.GetBypassMode() {
		return nil
	}

	r.mu.Lock()
	pending := r.mfaPending
	r.mu.Unlock()

	if pending == nil {
		return ErrNoPendingMFA
	}

	req := MFARequest{Code: code, UserID: pending.UserID}
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid mfa payload")
	}

	tokens, err := r.api.VerifyMFA(ctx, req)
	if err != nil {
		r.emit(ctx, ActivityEventMFAFailure, nil, map[string]any{"user_id": pending.UserID, "error": err.Error()})
		return goerrors.Wrap(err, ErrMFAFailed.Category, ErrMFAFailed.Message).
			WithTextCode(ErrMFAFailed.TextCode)
	}

	if err := r.tokens.Set(ctx, *tokens); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist tokens")
	}

	principal := r.canonicalOrMinimal(ctx, tokens.AccessToken, pending.UserID)
	r.transition(PhaseAuthenticated, principal, nil, nil)
	r.emit(ctx, ActivityEventMFASuccess, principal, nil)

	return nil
}

// Logout calls the logout collaborator best-effort for token sessions, clears
// both tokens together, and replaces the principal. Anonymous-guest
// deployments reset to a fixed guest identity instead of nil.
func (r *Resolver) Logout(ctx context.Context) error {
	r.mu.Lock()
	current := r.principal
	r.mu.Unlock()

	if current.TokenBacked() {
		if tokens, ok, err := r.tokens.Get(ctx); err == nil && ok && tokens.HasAccess() {
			if err := r.api.Logout(ctx, tokens.AccessToken); err != nil {
				// best-effort: logged, never fatal
				r.logger.Warn("logout request failed: %v", err)
			}
		}
	}

	r.clearTokens(ctx)

	phase := PhaseUnauthenticated
	var next *Principal
	if r.cfg.GetGuestOnLogout() {
		phase = PhaseAuthenticated
		next = GuestPrincipal()
	}

	r.transition(phase, next, nil, nil)
	r.emit(ctx, ActivityEventLogout, current, nil)

	return nil
}

// transition applies a terminal state, invalidating any in-flight async work,
// and returns the new generation.
func (r *Resolver) transition(phase Phase, p *Principal, pending *MFAPending, err error) uint64 {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.applyLocked(phase, p, false, pending, err)
	r.mu.Unlock()
	r.notify()
	return gen
}

// settle applies the outcome of an asynchronous evaluation. It is a no-op
// when the generation it belongs to has been superseded.
func (r *Resolver) settle(ctx context.Context, gen uint64, phase Phase, p *Principal, err error) bool {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		r.logger.Debug("discarding stale resolution result")
		return false
	}
	r.generation++
	r.applyLocked(phase, p, false, nil, err)
	r.mu.Unlock()
	r.notify()

	if phase == PhaseAuthenticated {
		r.emit(ctx, ActivityEventSessionResolved, p, nil)
	}

	return true
}

func (r *Resolver) applyLocked(phase Phase, p *Principal, loading bool, pending *MFAPending, err error) {
	r.phase = phase
	r.principal = p
	r.loading = loading
	r.mfaPending = pending
	r.lastErr = err
}

func (r *Resolver) notify() {
	snapshot := r.Snapshot()

	r.mu.Lock()
	listeners := make([]func(Resolution), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// synthesize picks the principal a trusted embed or bypass context yields.
func (r *Resolver) synthesize(embed EmbedState) *Principal {
	if embed.HostIdentity.Present() {
		return HostPrincipal(embed.HostIdentity)
	}
	return BypassPrincipal("")
}

func (r *Resolver) optimisticPrincipal(resp *LoginResponse, email string) *Principal {
	if resp.User != nil {
		return withOrigin(resp.User, OriginToken)
	}
	return &Principal{
		ID:     resp.UserID,
		Email:  email,
		Origin: OriginToken,
	}
}

func (r *Resolver) canonicalOrMinimal(ctx context.Context, accessToken, userID string) *Principal {
	meCtx, cancel := context.WithTimeout(ctx, r.cfg.GetVerifyTimeout())
	defer cancel()

	p, err := r.api.Me(meCtx, accessToken)
	if err != nil {
		// the tokens are valid; a minimal principal keeps the session alive
		r.logger.Warn("canonical principal fetch failed after mfa: %v", err)
		return &Principal{ID: userID, Origin: OriginToken}
	}

	return withOrigin(p, OriginToken)
}

func (r *Resolver) clearTokens(ctx context.Context) {
	if err := r.tokens.Clear(ctx); err != nil {
		r.logger.Error("failed to clear tokens: %v", err)
	}
}

func (r *Resolver) currentEmbed() EmbedState {
	if r.embeds != nil {
		return r.embeds.Current()
	}
	return CurrentEmbedState()
}

// onEmbedChange re-runs resolution when a navigation's embed evaluation can
// change the session: the context became trusted, or a host-asserted session
// lost its trust basis. Token sessions ignore embed noise.
func (r *Resolver) onEmbedChange(state EmbedState) {
	r.mu.Lock()
	phase := r.phase
	var origin OriginKind
	if r.principal != nil {
		origin = r.principal.Origin
	}
	r.mu.Unlock()

	if phase == PhaseUninitialized {
		return
	}

	if !state.Trusted() && origin != OriginHostAsserted {
		return
	}

	if err := r.Initialize(context.Background()); err != nil {
		r.logger.Warn("re-resolution after embed change failed: %v", err)
	}
}

func (r *Resolver) emit(ctx context.Context, eventType ActivityEventType, p *Principal, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: r.now(),
	}

	if p != nil {
		event.PrincipalID = p.ID
		event.Origin = p.Origin
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil {
		r.logger.Warn("activity sink record error: %v", err)
	}
}

func withOrigin(p *Principal, origin OriginKind) *Principal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Origin = origin
	return &clone
}
