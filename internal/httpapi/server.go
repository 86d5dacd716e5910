// Package httpapi is the relay's HTTP shell: it wires every route onto the service layer, with one struct field
// per dependency and a single constructor that assembles them.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/cc4me/cc4me/internal/config"
	"github.com/cc4me/cc4me/internal/contact"
	"github.com/cc4me/cc4me/internal/group"
	"github.com/cc4me/cc4me/internal/httputil"
	"github.com/cc4me/cc4me/internal/registry"
	"github.com/cc4me/cc4me/internal/relayauth"
	"github.com/cc4me/cc4me/internal/store"
	"github.com/cc4me/cc4me/internal/verify"
)

// Server holds the shared dependencies used by route handlers.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	contacts *contact.Service
	groups   *group.Service
	registry *registry.Service
	verify   *verify.Service
	logger   zerolog.Logger
}

// New constructs a Server from its service-layer dependencies.
func New(cfg *config.Config, s *store.Store, contacts *contact.Service, groups *group.Service,
	reg *registry.Service, verifySvc *verify.Service, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, store: s, contacts: contacts, groups: groups, registry: reg, verify: verifySvc, logger: logger}
}

// BuildApp constructs the Fiber application with every middleware and route registered.
func (s *Server) BuildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "cc4me-relay",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(s.logger))
	app.Use(cors.New(cors.Config{AllowOrigins: []string{s.cfg.CORSAllowOrigins}}))

	app.Get("/health", s.handleHealth)

	app.Post("/verify/send", s.handleVerifySend)
	app.Post("/verify/confirm", s.handleVerifyConfirm)

	app.Post("/registry/agents", s.handleRegisterAgent)
	app.Get("/registry/agents/:name", s.handleLookupAgent)
	app.Get("/registry/agents", s.handleListAgentsGone)

	requireAuth := relayauth.RequireSignedRequest(s.store.Agents)

	app.Post("/registry/agents/:name/revoke", requireAuth, s.handleRevokeAgent)
	app.Post("/registry/agents/:name/rotate-key", requireAuth, s.handleRotateKeyGone)
	app.Post("/registry/agents/:name/recover", requireAuth, s.handleRecoverGone)

	app.Post("/contacts/request", requireAuth, s.handleContactRequest)
	app.Get("/contacts/pending", requireAuth, s.handleContactPending)
	app.Post("/contacts/:agent/accept", requireAuth, s.handleContactAccept)
	app.Post("/contacts/:agent/deny", requireAuth, s.handleContactDeny)
	app.Get("/contacts", requireAuth, s.handleContactList)
	app.Delete("/contacts/:agent", requireAuth, s.handleContactRemove)

	app.Put("/presence", requireAuth, s.handlePresence)

	app.Get("/admin/keys", s.handleAdminKeys)
	app.Post("/admin/broadcast", requireAuth, s.handleAdminBroadcast)
	app.Get("/admin/broadcasts", s.handleAdminBroadcastList)

	app.Post("/groups", requireAuth, s.handleCreateGroup)
	app.Get("/groups", requireAuth, s.handleListGroups)
	app.Get("/groups/invitations", requireAuth, s.handleListInvitations)
	app.Get("/groups/:id", requireAuth, s.handleGetGroup)
	app.Delete("/groups/:id", requireAuth, s.handleDissolveGroup)
	app.Post("/groups/:id/invite", requireAuth, s.handleGroupInvite)
	app.Post("/groups/:id/accept", requireAuth, s.handleGroupAccept)
	app.Post("/groups/:id/decline", requireAuth, s.handleGroupDecline)
	app.Post("/groups/:id/leave", requireAuth, s.handleGroupLeave)
	app.Post("/groups/:id/transfer", requireAuth, s.handleGroupTransfer)
	app.Get("/groups/:id/members", requireAuth, s.handleGroupMembers)
	app.Delete("/groups/:id/members/:agent", requireAuth, s.handleGroupRemoveMember)
	app.Get("/groups/:id/changes", requireAuth, s.handleGroupChanges)

	return app
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{"status": "ok"})
}

// handleListAgentsGone, handleRotateKeyGone, and handleRecoverGone cover three routes this relay does not implement:
// a bulk agent directory (it would leak the contact graph's shape to non-contacts), and key rotation/account
// recovery (neither has a defined re-keying or recovery ceremony for an Ed25519 identity). Returning 410 keeps the
// URL space stable for any client that probes for them rather than 404ing on a route that may exist later.
func (s *Server) handleListAgentsGone(c fiber.Ctx) error {
	return c.SendStatus(410)
}

func (s *Server) handleRotateKeyGone(c fiber.Ctx) error {
	return c.SendStatus(410)
}

func (s *Server) handleRecoverGone(c fiber.Ctx) error {
	return c.SendStatus(410)
}
