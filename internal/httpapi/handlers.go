package httpapi

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/cc4me/cc4me/internal/group"
	"github.com/cc4me/cc4me/internal/httputil"
	"github.com/cc4me/cc4me/internal/presence"
	"github.com/cc4me/cc4me/internal/relayauth"
	"github.com/cc4me/cc4me/internal/relayerr"
)

func (s *Server) isOnline(lastSeen *time.Time, now time.Time, interval time.Duration) bool {
	return presence.Derive(lastSeen, now, interval)
}

// --- verification ---

type verifySendRequest struct {
	AgentName string `json:"agentName"`
	Email     string `json:"email"`
}

func (s *Server) handleVerifySend(c fiber.Ctx) error {
	var req verifySendRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	if err := s.verify.Send(c.Context(), req.AgentName, req.Email, time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"sent": true})
}

type verifyConfirmRequest struct {
	AgentName string `json:"agentName"`
	Code      string `json:"code"`
}

func (s *Server) handleVerifyConfirm(c fiber.Ctx) error {
	var req verifyConfirmRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	if err := s.verify.Confirm(c.Context(), req.AgentName, req.Code, time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"verified": true})
}

// --- registry ---

type registerAgentRequest struct {
	Name       string  `json:"name"`
	PublicKey  string  `json:"publicKey"`
	OwnerEmail string  `json:"ownerEmail"`
	Endpoint   *string `json:"endpoint,omitempty"`
}

func (s *Server) handleRegisterAgent(c fiber.Ctx) error {
	var req registerAgentRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	agent, err := s.registry.RegisterAgent(c.Context(), req.Name, req.PublicKey, req.OwnerEmail, req.Endpoint, time.Now().UTC())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.SuccessStatus(c, 201, fiber.Map{"name": agent.Name, "status": agent.Status})
}

func (s *Server) handleLookupAgent(c fiber.Ctx) error {
	result, err := s.registry.LookupAgent(c.Context(), c.Params("name"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, result)
}

type revokeAgentRequest struct {
	Signature string `json:"signature"`
}

func (s *Server) handleRevokeAgent(c fiber.Ctx) error {
	var req revokeAgentRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	sig, err := decodeB64(req.Signature)
	if err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed signature")
	}
	admin := relayauth.AgentFromContext(c)
	if err := s.registry.RevokeAgent(c.Context(), c.Params("name"), admin, sig, time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"revoked": true})
}

// --- contacts ---

type contactRequestBody struct {
	To       any     `json:"to"` // string | []string
	Greeting *string `json:"greeting,omitempty"`
}

func (s *Server) handleContactRequest(c fiber.Ctx) error {
	var req contactRequestBody
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	from := relayauth.AgentFromContext(c)
	now := time.Now().UTC()

	switch to := req.To.(type) {
	case string:
		result, err := s.contacts.Request(c.Context(), from, to, req.Greeting, now)
		if err != nil {
			return httputil.FailErr(c, err)
		}
		return httputil.Success(c, result)
	case []any:
		targets := make([]string, 0, len(to))
		for _, v := range to {
			if name, ok := v.(string); ok {
				targets = append(targets, name)
			}
		}
		results := s.contacts.RequestBatch(c.Context(), from, targets, now)
		return httputil.Success(c, results)
	default:
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "to must be a string or an array of strings")
	}
}

func (s *Server) handleContactPending(c fiber.Ctx) error {
	recipient := relayauth.AgentFromContext(c)
	entries, err := s.contacts.ListPending(c.Context(), recipient, time.Now().UTC())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, entries)
}

func (s *Server) handleContactAccept(c fiber.Ctx) error {
	recipient := relayauth.AgentFromContext(c)
	result, err := s.contacts.Accept(c.Context(), recipient, c.Params("agent"), time.Now().UTC())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, result)
}

func (s *Server) handleContactDeny(c fiber.Ctx) error {
	recipient := relayauth.AgentFromContext(c)
	if err := s.contacts.Deny(c.Context(), recipient, c.Params("agent"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"denied": true})
}

func (s *Server) handleContactList(c fiber.Ctx) error {
	owner := relayauth.AgentFromContext(c)
	entries, err := s.contacts.List(c.Context(), owner, time.Now().UTC(), s.cfg.HeartbeatInterval, s.isOnline)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, entries)
}

func (s *Server) handleContactRemove(c fiber.Ctx) error {
	actor := relayauth.AgentFromContext(c)
	if err := s.contacts.Remove(c.Context(), actor, c.Params("agent"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

// --- presence ---

type presenceRequest struct {
	Endpoint *string `json:"endpoint,omitempty"`
}

func (s *Server) handlePresence(c fiber.Ctx) error {
	var req presenceRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	agent := relayauth.AgentFromContext(c)
	if err := s.store.Agents.UpdatePresence(c.Context(), agent, time.Now().UTC(), req.Endpoint); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"ok": true})
}

// --- admin ---

func (s *Server) handleAdminKeys(c fiber.Ctx) error {
	admins, err := s.store.Admins.List(c.Context())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, admins)
}

type broadcastRequest struct {
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func (s *Server) handleAdminBroadcast(c fiber.Ctx) error {
	var req broadcastRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	sig, err := decodeB64(req.Signature)
	if err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed signature")
	}
	admin := relayauth.AgentFromContext(c)
	b, err := s.registry.CreateBroadcast(c.Context(), admin, req.Type, req.Payload, sig, time.Now().UTC())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.SuccessStatus(c, 201, b)
}

func (s *Server) handleAdminBroadcastList(c fiber.Ctx) error {
	broadcasts, err := s.store.Broadcasts.List(c.Context(), c.Query("type"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, broadcasts)
}

// --- groups ---

type createGroupRequest struct {
	Name     string         `json:"name"`
	Settings group.Settings `json:"settings,omitempty"`
}

func (s *Server) handleCreateGroup(c fiber.Ctx) error {
	var req createGroupRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	owner := relayauth.AgentFromContext(c)
	g, err := s.groups.CreateGroup(c.Context(), owner, req.Name, req.Settings, time.Now().UTC())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.SuccessStatus(c, 201, g)
}

func (s *Server) handleListGroups(c fiber.Ctx) error {
	agent := relayauth.AgentFromContext(c)
	groups, err := s.groups.ListGroups(c.Context(), agent)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, groups)
}

func (s *Server) handleListInvitations(c fiber.Ctx) error {
	agent := relayauth.AgentFromContext(c)
	invitations, err := s.groups.ListInvitations(c.Context(), agent)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, invitations)
}

func (s *Server) handleGetGroup(c fiber.Ctx) error {
	agent := relayauth.AgentFromContext(c)
	groups, err := s.groups.ListGroups(c.Context(), agent)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	id := c.Params("id")
	for _, g := range groups {
		if g.ID == id {
			return httputil.Success(c, g)
		}
	}
	return httputil.Fail(c, 404, relayerr.CodeGroupNotFound, "group not found")
}

func (s *Server) handleDissolveGroup(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.DissolveGroup(c.Context(), caller, c.Params("id"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"dissolved": true})
}

type groupInviteRequest struct {
	Invitee  string  `json:"invitee"`
	Greeting *string `json:"greeting,omitempty"`
}

func (s *Server) handleGroupInvite(c fiber.Ctx) error {
	var req groupInviteRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.Invite(c.Context(), caller, c.Params("id"), req.Invitee, req.Greeting, time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"invited": true})
}

func (s *Server) handleGroupAccept(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.AcceptInvitation(c.Context(), caller, c.Params("id"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"accepted": true})
}

func (s *Server) handleGroupDecline(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.DeclineInvitation(c.Context(), caller, c.Params("id")); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"declined": true})
}

func (s *Server) handleGroupLeave(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.LeaveGroup(c.Context(), caller, c.Params("id"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"left": true})
}

type transferOwnershipRequest struct {
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleGroupTransfer(c fiber.Ctx) error {
	var req transferOwnershipRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, 400, relayerr.CodeBadRequest, "malformed request body")
	}
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.TransferOwnership(c.Context(), caller, c.Params("id"), req.NewOwner); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"transferred": true})
}

func (s *Server) handleGroupMembers(c fiber.Ctx) error {
	members, err := s.groups.ListMembers(c.Context(), c.Params("id"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, members)
}

func (s *Server) handleGroupRemoveMember(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	if err := s.groups.RemoveMember(c.Context(), caller, c.Params("id"), c.Params("agent"), time.Now().UTC()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

func (s *Server) handleGroupChanges(c fiber.Ctx) error {
	caller := relayauth.AgentFromContext(c)
	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httputil.Fail(c, 400, relayerr.CodeBadRequest, "since must be RFC3339")
		}
		since = parsed
	}
	changes, err := s.groups.GetChanges(c.Context(), c.Params("id"), caller, since)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, changes)
}

func decodeB64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty signature")
	}
	return base64.StdEncoding.DecodeString(s)
}
