package principal

import (
	"strings"

	"github.com/google/uuid"
)

// OriginKind records how the current Principal was established. It decides
// whether the inactivity monitor and the real login/logout network calls apply.
type OriginKind string

const (
	// OriginToken is a session backed by persisted tokens verified against the backend.
	OriginToken OriginKind = "TOKEN"
	// OriginHostAsserted is an identity supplied by the embedding host via URL
	// parameters, trusted without further verification.
	OriginHostAsserted OriginKind = "HOST_ASSERTED"
	// OriginBypass is a synthesized identity produced by the developer bypass flag.
	OriginBypass OriginKind = "BYPASS"
	// OriginAnonymous is the fixed guest identity used by anonymous-guest deployments.
	OriginAnonymous OriginKind = "ANONYMOUS"
)

// Principal is the resolved identity the rest of the application treats as
// "the current user". It is replaced wholesale on every resolution transition,
// never partially mutated.
type Principal struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	MFAEnabled bool       `json:"mfa_enabled,omitempty"`
	Origin     OriginKind `json:"origin"`
}

// Embedded reports whether the principal was asserted by an embedding host.
func (p *Principal) Embedded() bool {
	return p != nil && p.Origin == OriginHostAsserted
}

// TokenBacked reports whether the session is maintained through persisted tokens.
func (p *Principal) TokenBacked() bool {
	return p != nil && p.Origin == OriginToken
}

const hostPrincipalLabel = "Embedded User"

// HostPrincipal synthesizes a Principal from host-asserted identity fields.
// The display name splits on whitespace into first/last; when absent we fall
// back to the local part of the email, then to a generic label.
func HostPrincipal(identity HostIdentity) *Principal {
	first, last := splitDisplayName(identity.Name)
	if first == "" {
		if local := emailLocalPart(identity.Email); local != "" {
			first = local
		} else {
			first = hostPrincipalLabel
		}
	}

	id := identity.UserID
	if id == "" {
		id = identity.Email
	}
	if id == "" {
		id = uuid.New().String()
	}

	return &Principal{
		ID:        id,
		Email:     identity.Email,
		FirstName: first,
		LastName:  last,
		Origin:    OriginHostAsserted,
	}
}

// BypassPrincipal synthesizes the fixed placeholder identity used by bypass
// mode. An email submitted through the login form overrides the placeholder.
func BypassPrincipal(email string) *Principal {
	if email == "" {
		email = "bypass@localhost"
	}
	return &Principal{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("bypass:"+email)).String(),
		Email:     email,
		FirstName: "Bypass",
		LastName:  "User",
		Origin:    OriginBypass,
	}
}

// GuestPrincipal is the fixed identity anonymous-guest deployments reset to on logout.
func GuestPrincipal() *Principal {
	return &Principal{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("guest")).String(),
		Email:     "guest@localhost",
		FirstName: "Guest",
		Origin:    OriginAnonymous,
	}
}

func splitDisplayName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return ""
}
