package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/verax-io/verax/internal/audit"
)

// ActorContextKey is the context key for the assembled actor context
const ActorContextKey = "actor_context"

// Dev-mode headers honored when JWT auth is disabled. They never
// override an authenticated identity.
const (
	OrgHeader   = "X-Verax-Org"
	ActorHeader = "X-Verax-Actor"
)

// ActorInjection assembles the audit actor context from the
// authenticated claims and the request metadata. With allowHeaders set
// (auth disabled, local development) the identity may come from the
// X-Verax-Org and X-Verax-Actor headers instead.
func ActorInjection(allowHeaders bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := audit.ActorContext{
			ActorID:        GetActorID(c),
			OrganizationID: GetOrganizationID(c),
			IP:             c.IP(),
			UserAgent:      c.Get("User-Agent"),
			Endpoint:       c.Path(),
			Method:         c.Method(),
			RequestID:      GetRequestID(c),
		}

		if allowHeaders {
			if actor.OrganizationID == "" {
				actor.OrganizationID = c.Get(OrgHeader)
				// Keep later middleware and the completion log in step
				// with the header-derived tenant
				if actor.OrganizationID != "" {
					c.Locals(OrganizationIDKey, actor.OrganizationID)
				}
			}
			if actor.ActorID == "" {
				actor.ActorID = c.Get(ActorHeader)
			}
		}

		c.Locals(ActorContextKey, actor)
		return c.Next()
	}
}

// GetActorContext returns the actor context assembled by ActorInjection
func GetActorContext(c *fiber.Ctx) audit.ActorContext {
	if actor, ok := c.Locals(ActorContextKey).(audit.ActorContext); ok {
		return actor
	}
	return audit.ActorContext{
		IP:        c.IP(),
		Endpoint:  c.Path(),
		Method:    c.Method(),
		RequestID: GetRequestID(c),
	}
}
