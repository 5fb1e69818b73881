package principal

import (
	"github.com/goliatone/go-router"
)

// RouteGuard adapts Guard decisions to go-router middleware. The resolver's
// principal and the current embed state are stashed in the request context
// for downstream handlers.
type RouteGuard struct {
	guard    *Guard
	resolver *Resolver
	embeds   *EmbedStore
	logger   Logger
}

// NewRouteGuard wires a guard to the resolver and the embed store.
func NewRouteGuard(guard *Guard, resolver *Resolver, embeds *EmbedStore) *RouteGuard {
	return &RouteGuard{
		guard:    guard,
		resolver: resolver,
		embeds:   embeds,
		logger:   defLogger{},
	}
}

// WithLogger overrides the adapter logger.
func (rg *RouteGuard) WithLogger(logger Logger) *RouteGuard {
	if logger != nil {
		rg.logger = logger
	}
	return rg
}

// Protected guards a route for any resolved principal.
func (rg *RouteGuard) Protected() router.MiddlewareFunc {
	return rg.middleware(rg.guard.Check)
}

// AdminOnly guards a route for allow-listed, non-embedded principals.
func (rg *RouteGuard) AdminOnly() router.MiddlewareFunc {
	return rg.middleware(rg.guard.CheckAdmin)
}

func (rg *RouteGuard) middleware(check func(Resolution, EmbedState) GuardResult) router.MiddlewareFunc {
	return func(_ router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			res := rg.resolver.Snapshot()
			embed := rg.embeds.Current()

			switch result := check(res, embed); result.Decision {
			case DecisionLoading:
				return ctx.Status(router.StatusServiceUnavailable).SendString("session resolution in progress")
			case DecisionRedirect:
				return ctx.Redirect(result.RedirectTo, router.StatusSeeOther)
			case DecisionDeny:
				return ctx.Status(router.StatusForbidden).SendString("forbidden")
			}

			stdCtx := WithEmbedContext(ctx.Context(), embed)
			if res.Principal != nil {
				stdCtx = WithContext(stdCtx, res.Principal)
			}
			ctx.SetContext(stdCtx)

			return ctx.Next()
		}
	}
}
