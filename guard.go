package principal

import "strings"

// Decision is what a guarded route should do.
type Decision string

const (
	// DecisionLoading renders a loading indicator while resolution is in flight.
	DecisionLoading Decision = "LOADING"
	// DecisionAllow renders the protected content.
	DecisionAllow Decision = "ALLOW"
	// DecisionRedirect sends the visitor to the unauthenticated entry point.
	DecisionRedirect Decision = "REDIRECT"
	// DecisionDeny refuses access without redirecting (admin routes).
	DecisionDeny Decision = "DENY"
)

// GuardResult carries the decision plus the redirect target when applicable.
type GuardResult struct {
	Decision   Decision
	RedirectTo string
}

// Guard evaluates route access from the resolution snapshot and the embed
// state. It holds no session state of its own.
type Guard struct {
	loginRoute  string
	adminEmails []string
	logger      Logger
}

// NewGuard builds a guard from the configured login route and admin allow-list.
func NewGuard(cfg Config) *Guard {
	loginRoute := DefaultLoginRoute
	var adminEmails []string

	if cfg != nil {
		if cfg.GetLoginRoute() != "" {
			loginRoute = cfg.GetLoginRoute()
		}
		adminEmails = cfg.GetAdminEmails()
	}

	return &Guard{
		loginRoute:  loginRoute,
		adminEmails: adminEmails,
		logger:      defLogger{},
	}
}

// WithLogger overrides the guard logger.
func (g *Guard) WithLogger(logger Logger) *Guard {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Check decides access for a protected route: loading indicator while
// resolution is in flight, redirect when there is no principal and the embed
// context is untrusted, render otherwise.
func (g *Guard) Check(res Resolution, embed EmbedState) GuardResult {
	if res.Loading {
		return GuardResult{Decision: DecisionLoading}
	}

	if res.Principal == nil && !embed.Trusted() {
		return GuardResult{Decision: DecisionRedirect, RedirectTo: g.loginRoute}
	}

	return GuardResult{Decision: DecisionAllow}
}

// CheckAdmin additionally requires the principal's email to match the admin
// allow-list. Embedded sessions are excluded from administrative capability
// regardless of email match.
func (g *Guard) CheckAdmin(res Resolution, embed EmbedState) GuardResult {
	base := g.Check(res, embed)
	if base.Decision != DecisionAllow {
		return base
	}

	p := res.Principal
	if p == nil {
		// a trusted embed context without a principal never grants admin
		return GuardResult{Decision: DecisionDeny}
	}

	if p.Embedded() || embed.IsEmbedMode {
		g.logger.Debug("admin access denied for embedded session %s", p.ID)
		return GuardResult{Decision: DecisionDeny}
	}

	if !g.isAdminEmail(p.Email) {
		return GuardResult{Decision: DecisionDeny}
	}

	return GuardResult{Decision: DecisionAllow}
}

func (g *Guard) isAdminEmail(email string) bool {
	if email == "" {
		return false
	}
	for _, allowed := range g.adminEmails {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}
