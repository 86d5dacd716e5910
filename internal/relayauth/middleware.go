package relayauth

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/cc4me/cc4me/internal/httputil"
)

// RequireSignedRequest returns Fiber middleware that authenticates every request using the detached-Ed25519 scheme
// and stores the authenticated agent name in c.Locals("agent").
func RequireSignedRequest(agents AgentLookup) fiber.Handler {
	return func(c fiber.Ctx) error {
		body := c.Body()
		agent, err := Authenticate(c.Context(), agents, Request{
			Method:     c.Method(),
			Path:       c.Path(),
			Timestamp:  c.Get("X-Timestamp"),
			Body:       body,
			AuthHeader: c.Get("Authorization"),
			Now:        time.Now().UTC(),
		})
		if err != nil {
			return httputil.FailErr(c, err)
		}
		c.Locals("agent", agent)
		return c.Next()
	}
}

// AgentFromContext returns the agent name stored by RequireSignedRequest.
func AgentFromContext(c fiber.Ctx) string {
	name, _ := c.Locals("agent").(string)
	return name
}
