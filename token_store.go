package principal

import (
	"context"
	"sync"
)

// Fixed storage keys for the persisted token pair.
const (
	AccessTokenKey  = "auth.access_token"
	RefreshTokenKey = "auth.refresh_token"
)

// Tokens is the persisted access/refresh pair. Presence of an access token
// implies a prior successful authentication or MFA event.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// HasAccess reports whether an access token is present.
func (t Tokens) HasAccess() bool {
	return t.AccessToken != ""
}

// MemoryTokenStore keeps the pair in process memory. Suitable for tests and
// for deployments where persistence across restarts is undesirable.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens Tokens
	set    bool
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Get(_ context.Context) (Tokens, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.set, nil
}

func (m *MemoryTokenStore) Set(_ context.Context, tokens Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
	m.set = true
	return nil
}

func (m *MemoryTokenStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	m.set = false
	return nil
}

var _ TokenStore = (*MemoryTokenStore)(nil)
