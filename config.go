package principal

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Defaults for externally configurable knobs. None are hard-coded in the
// resolver logic itself.
const (
	DefaultInactivityTimeout = 30 * time.Minute
	DefaultVerifyTimeout     = 10 * time.Second
	DefaultLoginRoute        = "/login"
)

// SimpleConfig is the concrete Config used by applications that do not carry
// their own configuration layer.
type SimpleConfig struct {
	// BypassMode skips real authentication entirely.
	BypassMode bool `json:"bypass_mode"`
	// ForceEmbedMode marks host-only deployments where the app always runs embedded.
	ForceEmbedMode bool `json:"force_embed_mode"`
	// GuestOnLogout resets the principal to a fixed guest identity instead of nil.
	GuestOnLogout bool `json:"guest_on_logout"`
	// ReferrerAllowList is a comma-separated list of trusted domain substrings.
	ReferrerAllowList string `json:"referrer_allow_list"`
	// InactivityTimeout force-logs-out token sessions after this idle period.
	InactivityTimeout time.Duration `json:"inactivity_timeout"`
	// VerifyTimeout bounds the current-user verification call at initialization.
	VerifyTimeout time.Duration `json:"verify_timeout"`
	// BaseURL locates the auth backend.
	BaseURL string `json:"base_url"`
	// LoginRoute is where the guard redirects unauthenticated visitors.
	LoginRoute string `json:"login_route"`
	// AdminEmails allow-lists administrative principals.
	AdminEmails []string `json:"admin_emails"`
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetBypassMode() bool     { return c.BypassMode }
func (c *SimpleConfig) GetForceEmbedMode() bool { return c.ForceEmbedMode }
func (c *SimpleConfig) GetGuestOnLogout() bool  { return c.GuestOnLogout }

func (c *SimpleConfig) GetReferrerAllowList() string {
	if c.ReferrerAllowList == "" {
		return DefaultReferrerAllowList
	}
	return c.ReferrerAllowList
}

func (c *SimpleConfig) GetInactivityTimeout() time.Duration {
	if c.InactivityTimeout <= 0 {
		return DefaultInactivityTimeout
	}
	return c.InactivityTimeout
}

func (c *SimpleConfig) GetVerifyTimeout() time.Duration {
	if c.VerifyTimeout <= 0 {
		return DefaultVerifyTimeout
	}
	return c.VerifyTimeout
}

func (c *SimpleConfig) GetBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *SimpleConfig) GetLoginRoute() string {
	if c.LoginRoute == "" {
		return DefaultLoginRoute
	}
	return c.LoginRoute
}

func (c *SimpleConfig) GetAdminEmails() []string { return c.AdminEmails }

// Validate checks that options needed by the configured mode are present.
// Bypass deployments run fully offline and need no backend.
func (c *SimpleConfig) Validate() error {
	if c.BypassMode {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}
