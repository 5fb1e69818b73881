package principal

import (
	"github.com/gofiber/fiber/v2"
)

// FiberGuard adapts Guard decisions to fiber handlers for applications that
// mount the resolver behind a fiber app instead of go-router.
type FiberGuard struct {
	guard    *Guard
	resolver *Resolver
	embeds   *EmbedStore
}

// NewFiberGuard wires a guard to the resolver and the embed store.
func NewFiberGuard(guard *Guard, resolver *Resolver, embeds *EmbedStore) *FiberGuard {
	return &FiberGuard{
		guard:    guard,
		resolver: resolver,
		embeds:   embeds,
	}
}

// Protected guards a route for any resolved principal.
func (fg *FiberGuard) Protected() fiber.Handler {
	return fg.handler(fg.guard.Check)
}

// AdminOnly guards a route for allow-listed, non-embedded principals.
func (fg *FiberGuard) AdminOnly() fiber.Handler {
	return fg.handler(fg.guard.CheckAdmin)
}

func (fg *FiberGuard) handler(check func(Resolution, EmbedState) GuardResult) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res := fg.resolver.Snapshot()
		embed := fg.embeds.Current()

		switch result := check(res, embed); result.Decision {
		case DecisionLoading:
			return c.Status(fiber.StatusServiceUnavailable).SendString("session resolution in progress")
		case DecisionRedirect:
			return c.Redirect(result.RedirectTo, fiber.StatusSeeOther)
		case DecisionDeny:
			return c.SendStatus(fiber.StatusForbidden)
		}

		if res.Principal != nil {
			c.Locals("principal", res.Principal)
		}
		c.Locals("embed_state", embed)

		return c.Next()
	}
}
