// Package group implements the group lifecycle state machine: creation, invitations, membership changes, removal,
// dissolution with owner-absence fallback, and ownership transfer.
package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cc4me/cc4me/internal/relayerr"
	"github.com/cc4me/cc4me/internal/store"
)

const (
	maxMembersCap          = 50
	maxGreetingLength      = 500
	maxNameLength          = 64
	maxActiveMembershipCap = 100
	ownerStaleAfter        = 7 * 24 * time.Hour
)

// Service implements the group engine described in the specification.
type Service struct {
	store    *store.Store
	contacts *store.ContactRepository
}

// New constructs a group Service.
func New(s *store.Store) *Service {
	return &Service{store: s, contacts: s.Contacts}
}

// Settings configures optional group creation parameters.
type Settings struct {
	MembersCanInvite *bool
	MembersCanSend   *bool
	MaxMembers       *int
}

// CreateGroup implements createGroup(owner, name, settings?).
func (s *Service) CreateGroup(ctx context.Context, owner, name string, settings Settings, now time.Time) (*store.Group, error) {
	if name == "" || len(name) > maxNameLength {
		return nil, relayerr.New(relayerr.CodeBadRequest, "group name must be 1-64 characters")
	}

	ownerAgent, err := s.store.Agents.Get(ctx, owner)
	if err != nil || ownerAgent.Status != store.AgentStatusActive {
		return nil, relayerr.New(relayerr.CodeForbidden, "owner must be an active agent")
	}

	count, err := s.store.Memberships.CountActiveForAgent(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("count active memberships: %w", err)
	}
	if count >= maxActiveMembershipCap {
		return nil, relayerr.New(relayerr.CodeForbidden, "agent has reached the maximum number of active group memberships")
	}

	membersCanInvite := false
	if settings.MembersCanInvite != nil {
		membersCanInvite = *settings.MembersCanInvite
	}
	membersCanSend := true
	if settings.MembersCanSend != nil {
		membersCanSend = *settings.MembersCanSend
	}
	maxMembers := maxMembersCap
	if settings.MaxMembers != nil {
		maxMembers = *settings.MaxMembers
		if maxMembers > maxMembersCap {
			maxMembers = maxMembersCap
		}
	}

	g := &store.Group{
		ID:               uuid.NewString(),
		Name:             name,
		Owner:            owner,
		Status:           store.GroupStatusActive,
		MembersCanInvite: membersCanInvite,
		MembersCanSend:   membersCanSend,
		MaxMembers:       maxMembers,
		CreatedAt:        now,
	}

	err = s.store.WithTx(ctx, func(txs *store.Store) error {
		if err := txs.Groups.Create(ctx, g); err != nil {
			return err
		}
		return txs.Memberships.Insert(ctx, &store.Membership{
			GroupID:   g.ID,
			Agent:     owner,
			Role:      store.RoleOwner,
			Status:    store.MembershipActive,
			JoinedAt:  &now,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// requireActiveMember loads a group and the caller's active membership, or returns a typed error.
func (s *Service) requireActiveMember(ctx context.Context, groupID, caller string) (*store.Group, *store.Membership, error) {
	g, err := s.store.Groups.Get(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, relayerr.New(relayerr.CodeGroupNotFound, "group not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load group: %w", err)
	}
	if g.Status != store.GroupStatusActive {
		return nil, nil, relayerr.New(relayerr.CodeGroupNotFound, "group not found")
	}

	m, err := s.store.Memberships.Get(ctx, groupID, caller)
	if errors.Is(err, store.ErrNotFound) || (err == nil && m.Status != store.MembershipActive) {
		return nil, nil, relayerr.New(relayerr.CodeNotGroupMember, "not an active member")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load membership: %w", err)
	}
	return g, m, nil
}

// Invite implements invite(caller, groupId, invitee, greeting?).
func (s *Service) Invite(ctx context.Context, caller, groupID, invitee string, greeting *string, now time.Time) error {
	g, m, err := s.requireActiveMember(ctx, groupID, caller)
	if err != nil {
		return err
	}

	canInvite := m.Role == store.RoleOwner || m.Role == store.RoleAdmin || g.MembersCanInvite
	if !canInvite {
		return relayerr.New(relayerr.CodeInsufficientRole, "members may not invite")
	}

	if greeting != nil && len(*greeting) > maxGreetingLength {
		return relayerr.New(relayerr.CodeBadRequest, "greeting must be at most 500 characters")
	}

	inviteeAgent, err := s.store.Agents.Get(ctx, invitee)
	if err != nil || inviteeAgent.Status != store.AgentStatusActive {
		return relayerr.New(relayerr.CodeNotFound, "invitee not found or not active")
	}

	mutual, err := s.contacts.IsMutualActiveContact(ctx, caller, invitee)
	if err != nil {
		return fmt.Errorf("check mutual contact: %w", err)
	}
	if !mutual {
		return relayerr.New(relayerr.CodeForbidden, "invitee must be a mutual active contact")
	}

	existing, err := s.store.Memberships.Get(ctx, groupID, invitee)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load existing membership: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case store.MembershipActive, store.MembershipPending:
			return relayerr.New(relayerr.CodeAlreadyExists, "already invited or a member")
		default:
			if err := s.store.Memberships.Delete(ctx, groupID, invitee); err != nil {
				return fmt.Errorf("clear stale membership: %w", err)
			}
		}
	}

	activeCount, err := s.store.Memberships.CountActive(ctx, groupID)
	if err != nil {
		return fmt.Errorf("count active members: %w", err)
	}
	if activeCount >= g.MaxMembers {
		return relayerr.New(relayerr.CodeForbidden, "group is full")
	}

	return s.store.Memberships.Insert(ctx, &store.Membership{
		GroupID:   groupID,
		Agent:     invitee,
		Role:      store.RoleMember,
		Status:    store.MembershipPending,
		InvitedBy: &caller,
		Greeting:  greeting,
		CreatedAt: now,
	})
}

// AcceptInvitation implements acceptInvitation(caller, groupId).
func (s *Service) AcceptInvitation(ctx context.Context, caller, groupID string, now time.Time) error {
	m, err := s.requirePendingInvitation(ctx, groupID, caller)
	if err != nil {
		return err
	}
	_ = m
	return s.store.Memberships.UpdateStatus(ctx, groupID, caller, store.MembershipActive, &now, nil)
}

// DeclineInvitation implements declineInvitation(caller, groupId).
func (s *Service) DeclineInvitation(ctx context.Context, caller, groupID string) error {
	if _, err := s.requirePendingInvitation(ctx, groupID, caller); err != nil {
		return err
	}
	return s.store.Memberships.Delete(ctx, groupID, caller)
}

func (s *Service) requirePendingInvitation(ctx context.Context, groupID, caller string) (*store.Membership, error) {
	m, err := s.store.Memberships.Get(ctx, groupID, caller)
	if errors.Is(err, store.ErrNotFound) || (err == nil && m.Status != store.MembershipPending) {
		return nil, relayerr.New(relayerr.CodeNotFound, "no pending invitation")
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return m, nil
}

// LeaveGroup implements leaveGroup(caller, groupId).
func (s *Service) LeaveGroup(ctx context.Context, caller, groupID string, now time.Time) error {
	_, m, err := s.requireActiveMember(ctx, groupID, caller)
	if err != nil {
		return err
	}
	if m.Role == store.RoleOwner {
		return relayerr.New(relayerr.CodeOwnerCannotLeave, "the owner cannot leave; dissolve or transfer ownership")
	}
	return s.store.Memberships.UpdateStatus(ctx, groupID, caller, store.MembershipLeft, nil, &now)
}

// RemoveMember implements removeMember(caller, groupId, target).
func (s *Service) RemoveMember(ctx context.Context, caller, groupID, target string, now time.Time) error {
	_, callerMembership, err := s.requireActiveMember(ctx, groupID, caller)
	if err != nil {
		return err
	}
	if callerMembership.Role != store.RoleOwner && callerMembership.Role != store.RoleAdmin {
		return relayerr.New(relayerr.CodeInsufficientRole, "only owners and admins may remove members")
	}

	targetMembership, err := s.store.Memberships.Get(ctx, groupID, target)
	if errors.Is(err, store.ErrNotFound) || (err == nil && targetMembership.Status != store.MembershipActive) {
		return relayerr.New(relayerr.CodeNotFound, "target is not an active member")
	}
	if err != nil {
		return fmt.Errorf("load target membership: %w", err)
	}
	if targetMembership.Role == store.RoleOwner {
		return relayerr.New(relayerr.CodeForbidden, "the owner cannot be removed")
	}
	if targetMembership.Role == store.RoleAdmin && callerMembership.Role != store.RoleOwner {
		return relayerr.New(relayerr.CodeInsufficientRole, "only the owner may remove an admin")
	}

	return s.store.Memberships.UpdateStatus(ctx, groupID, target, store.MembershipRemoved, nil, &now)
}

// DissolveGroup implements dissolveGroup(caller, groupId).
func (s *Service) DissolveGroup(ctx context.Context, caller, groupID string, now time.Time) error {
	g, m, err := s.requireActiveMember(ctx, groupID, caller)
	if err != nil {
		return err
	}

	if m.Role != store.RoleOwner {
		if m.Role != store.RoleAdmin {
			return relayerr.New(relayerr.CodeForbidden, "only the owner or an admin may dissolve the group")
		}
		owner, err := s.store.Agents.Get(ctx, g.Owner)
		if err != nil {
			return fmt.Errorf("load owner agent: %w", err)
		}
		ownerStale := owner.LastSeen == nil || now.Sub(*owner.LastSeen) > ownerStaleAfter
		if !ownerStale {
			return relayerr.New(relayerr.CodeForbidden, "owner is still reachable")
		}
	}

	return s.store.WithTx(ctx, func(txs *store.Store) error {
		if err := txs.Groups.Dissolve(ctx, groupID, now); err != nil {
			return err
		}
		return txs.Memberships.UpdateAllActiveAndPending(ctx, groupID, now)
	})
}

// TransferOwnership implements transferOwnership(caller, groupId, newOwner).
func (s *Service) TransferOwnership(ctx context.Context, caller, groupID, newOwner string) error {
	_, m, err := s.requireActiveMember(ctx, groupID, caller)
	if err != nil {
		return err
	}
	if m.Role != store.RoleOwner {
		return relayerr.New(relayerr.CodeInsufficientRole, "only the current owner may transfer ownership")
	}

	newOwnerMembership, err := s.store.Memberships.Get(ctx, groupID, newOwner)
	if errors.Is(err, store.ErrNotFound) || (err == nil && newOwnerMembership.Status != store.MembershipActive) {
		return relayerr.New(relayerr.CodeNotFound, "new owner must be an active member")
	}
	if err != nil {
		return fmt.Errorf("load new owner membership: %w", err)
	}

	return s.store.WithTx(ctx, func(txs *store.Store) error {
		if err := txs.Memberships.UpdateRole(ctx, groupID, caller, store.RoleAdmin); err != nil {
			return err
		}
		if err := txs.Memberships.UpdateRole(ctx, groupID, newOwner, store.RoleOwner); err != nil {
			return err
		}
		return txs.Groups.SetOwner(ctx, groupID, newOwner)
	})
}

// ChangeEntry is one row returned by GetChanges.
type ChangeEntry struct {
	Agent     string
	Action    string // joined | invited | left | removed
	By        *string
	Timestamp time.Time
}

// GetChanges implements getChanges(groupId, caller, since).
func (s *Service) GetChanges(ctx context.Context, groupID, caller string, since time.Time) ([]ChangeEntry, error) {
	if _, err := s.store.Memberships.Get(ctx, groupID, caller); errors.Is(err, store.ErrNotFound) {
		return nil, relayerr.New(relayerr.CodeNotGroupMember, "caller has never been a member of this group")
	} else if err != nil {
		return nil, fmt.Errorf("load caller membership: %w", err)
	}

	rows, err := s.store.Memberships.ListByGroupAndStatus(ctx, groupID, "")
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	var out []ChangeEntry
	for _, row := range rows {
		ts := row.CreatedAt
		if row.JoinedAt != nil && row.JoinedAt.After(ts) {
			ts = *row.JoinedAt
		}
		if row.LeftAt != nil && row.LeftAt.After(ts) {
			ts = *row.LeftAt
		}
		if !ts.After(since) {
			continue
		}

		var action string
		switch {
		case row.LeftAt != nil && row.LeftAt.After(since):
			if row.Status == store.MembershipRemoved {
				action = "removed"
			} else {
				action = "left"
			}
		case row.JoinedAt != nil && row.JoinedAt.After(since):
			action = "joined"
		default:
			action = "invited"
		}

		out = append(out, ChangeEntry{Agent: row.Agent, Action: action, By: row.InvitedBy, Timestamp: ts})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Timestamp.After(out[j].Timestamp); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// ListMembers implements listMembers(groupId).
func (s *Service) ListMembers(ctx context.Context, groupID string) ([]*store.Membership, error) {
	return s.store.Memberships.ListByGroupAndStatus(ctx, groupID, store.MembershipActive)
}

// ListInvitations implements listInvitations(agent).
func (s *Service) ListInvitations(ctx context.Context, agent string) ([]*store.Membership, error) {
	return s.store.Memberships.ListPendingForAgent(ctx, agent)
}

// ListGroups implements listGroups(agent).
func (s *Service) ListGroups(ctx context.Context, agent string) ([]*store.Group, error) {
	return s.store.Groups.ListForAgent(ctx, agent)
}
