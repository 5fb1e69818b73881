package principal

import (
	"net/url"
	"strings"
)

// EmbedSource classifies how the embedding context was established.
type EmbedSource string

const (
	// EmbedSourceNone means the app runs standalone.
	EmbedSourceNone EmbedSource = "NONE"
	// EmbedSourceIframe means the window is framed but nothing else was asserted.
	EmbedSourceIframe EmbedSource = "IFRAME"
	// EmbedSourceParam means the host passed an explicit embed flag.
	EmbedSourceParam EmbedSource = "PARAM"
	// EmbedSourceHostAsserted means the host supplied identity fields.
	EmbedSourceHostAsserted EmbedSource = "HOST_ASSERTED"
)

// Accepted parameter names for host-asserted identity. Each field has a
// primary name and an alias because hosts across deployments never agreed
// on one spelling.
const (
	paramEmail      = "email"
	paramEmailAlias = "user_email"
	paramUserID     = "userId"
	paramUserIDAl   = "user_id"
	paramName       = "name"
	paramNameAlias  = "user_name"
	paramEmbed      = "embed"
)

// HostIdentity holds the identity fields an embedding host may assert through
// URL parameters. Empty strings mean the field was absent.
type HostIdentity struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Present reports whether the host asserted an identity at all. A display
// name alone does not count.
func (h HostIdentity) Present() bool {
	return h.Email != "" || h.UserID != ""
}

// EmbedState is the outcome of one embed-context evaluation. Instances are
// immutable once produced; a navigation event supersedes, never mutates, the
// previous one.
type EmbedState struct {
	IsEmbedMode     bool         `json:"is_embed_mode"`
	Source          EmbedSource  `json:"source"`
	IsValidReferrer bool         `json:"is_valid_referrer"`
	HostIdentity    HostIdentity `json:"host_identity"`
}

// Trusted reports whether the embed context is sufficient to establish a
// session without token verification.
func (s EmbedState) Trusted() bool {
	return s.IsEmbedMode && s.IsValidReferrer
}

// EmbedInput captures the raw browser-ish signals one evaluation reads.
type EmbedInput struct {
	// URL is the full current location. Routing state lives in the fragment,
	// so host parameters are read from the query after the fragment first and
	// from the document query as a fallback.
	URL string
	// Referrer is the document referrer, possibly empty.
	Referrer string
	// Framed is true when the window has an ancestor (self !== top).
	Framed bool
}

// DetectOptions configure one detection pass.
type DetectOptions struct {
	// AllowList is the comma-separated referrer allow-list.
	AllowList string
	// ForceEmbedMode unconditionally flips IsEmbedMode on. This is the
	// host-only deployment policy; it never upgrades Source on its own.
	ForceEmbedMode bool
}

// DetectEmbed evaluates the embed context. Pure: same inputs, same output,
// no side effects. Callers cache the result through EmbedStore.
func DetectEmbed(input EmbedInput, opts DetectOptions) EmbedState {
	values := routingQuery(input.URL)
	identity := parseHostIdentity(values)
	embedParam := strings.EqualFold(values.Get(paramEmbed), "true")

	source := EmbedSourceNone
	switch {
	case identity.Present():
		source = EmbedSourceHostAsserted
	case embedParam:
		source = EmbedSourceParam
	case input.Framed:
		source = EmbedSourceIframe
	}

	return EmbedState{
		IsEmbedMode:     embedParam || input.Framed || identity.Present() || opts.ForceEmbedMode,
		Source:          source,
		IsValidReferrer: ValidReferrer(input.Referrer, opts.AllowList, identity.Present()),
		HostIdentity:    identity,
	}
}

// parseHostIdentity extracts the host-asserted fields, honoring the primary
// parameter name and its alias for each.
func parseHostIdentity(values url.Values) HostIdentity {
	return HostIdentity{
		Email:  firstParam(values, paramEmail, paramEmailAlias),
		UserID: firstParam(values, paramUserID, paramUserIDAl),
		Name:   firstParam(values, paramName, paramNameAlias),
	}
}

func firstParam(values url.Values, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(values.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// routingQuery returns the query parameters carried by the client-side
// routing segment: the part after the "?" inside the fragment. The document
// query is a fallback so hosts that append parameters before the fragment
// still work.
func routingQuery(rawURL string) url.Values {
	if rawURL == "" {
		return url.Values{}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return url.Values{}
	}

	if idx := strings.Index(parsed.Fragment, "?"); idx >= 0 {
		if values, err := url.ParseQuery(parsed.Fragment[idx+1:]); err == nil && len(values) > 0 {
			return values
		}
	}

	if parsed.RawQuery != "" {
		if values, err := url.ParseQuery(parsed.RawQuery); err == nil {
			return values
		}
	}

	return url.Values{}
}
