package principal

import (
	"sync"
	"sync/atomic"
)

// embedSnapshot is the module-scoped cell behind CurrentEmbedState. It exists
// solely so non-reactive code can read the latest embed state synchronously
// without subscribing. Written only by EmbedStore.Recompute, in a single
// assignment immediately after each re-evaluation.
var embedSnapshot atomic.Pointer[EmbedState]

func init() {
	initial := DetectEmbed(EmbedInput{}, DetectOptions{})
	embedSnapshot.Store(&initial)
}

// CurrentEmbedState returns the latest evaluated embed state. Before the
// first Recompute it reflects an empty evaluation (standalone, valid referrer).
func CurrentEmbedState() EmbedState {
	return *embedSnapshot.Load()
}

// EmbedStore owns the embed context. Recompute is the single writer; every
// other component only reads. One store per client process.
type EmbedStore struct {
	opts    DetectOptions
	logger  Logger
	current atomic.Pointer[EmbedState]

	mu        sync.Mutex
	listeners []func(EmbedState)
}

// NewEmbedStore builds the store from the configured allow-list and the
// host-only deployment flag.
func NewEmbedStore(cfg Config) *EmbedStore {
	allowList := DefaultReferrerAllowList
	if cfg != nil && cfg.GetReferrerAllowList() != "" {
		allowList = cfg.GetReferrerAllowList()
	}

	force := false
	if cfg != nil {
		force = cfg.GetForceEmbedMode()
	}

	store := &EmbedStore{
		opts: DetectOptions{
			AllowList:      allowList,
			ForceEmbedMode: force,
		},
		logger: defLogger{},
	}

	initial := DetectEmbed(EmbedInput{}, store.opts)
	store.current.Store(&initial)

	return store
}

// WithLogger overrides the store logger.
func (s *EmbedStore) WithLogger(logger Logger) *EmbedStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Recompute re-evaluates the embed context. Invoke it on every client-side
// navigation event: host identity parameters can arrive after initial load,
// appended by the host once its own handshake completes.
func (s *EmbedStore) Recompute(input EmbedInput) EmbedState {
	state := DetectEmbed(input, s.opts)

	previous := s.current.Load()
	s.current.Store(&state)
	embedSnapshot.Store(&state)

	if previous != nil && *previous == state {
		return state
	}

	s.logger.Debug("embed context changed source=%s embed=%t valid_referrer=%t", state.Source, state.IsEmbedMode, state.IsValidReferrer)
	s.notify(state)

	return state
}

// Current returns the latest evaluated state without subscribing.
func (s *EmbedStore) Current() EmbedState {
	return *s.current.Load()
}

// OnChange registers a listener invoked after each evaluation that produced
// a different state. Listeners run on the navigating goroutine.
func (s *EmbedStore) OnChange(fn func(EmbedState)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *EmbedStore) notify(state EmbedState) {
	s.mu.Lock()
	listeners := make([]func(EmbedState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
