package group

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cc4me/cc4me/internal/relayerr"
	"github.com/cc4me/cc4me/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	t.Cleanup(func() { _ = os.Remove(dbPath) })

	return New(st), st
}

func seedAgent(t *testing.T, st *store.Store, name string) {
	t.Helper()
	ctx := context.Background()
	if err := st.Agents.Create(ctx, &store.Agent{
		Name:      name,
		PublicKey: name + "-pubkey",
		Status:    store.AgentStatusActive,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed agent %s: %v", name, err)
	}
}

func seedMutualContact(t *testing.T, st *store.Store, x, y string, now time.Time) {
	t.Helper()
	ctx := context.Background()
	a, b := store.NormalizePair(x, y)
	if err := st.Contacts.Upsert(ctx, &store.Contact{
		AgentA:      a,
		AgentB:      b,
		Status:      store.ContactStatusActive,
		RequestedBy: x,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("seed contact (%s,%s): %v", x, y, err)
	}
}

func TestCreateGroupInsertsOwnerAsActiveMember(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	m, err := st.Memberships.Get(ctx, g.ID, "alice")
	if err != nil {
		t.Fatalf("Get() membership error: %v", err)
	}
	if m.Role != store.RoleOwner || m.Status != store.MembershipActive {
		t.Errorf("owner membership = role=%s status=%s, want owner/active", m.Role, m.Status)
	}
}

func TestInviteRequiresMutualContact(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	if err := svc.Invite(ctx, "alice", g.ID, "bob", nil, now); err == nil {
		t.Fatal("expected invite to fail without a mutual contact")
	}

	seedMutualContact(t, st, "alice", "bob", now)

	if err := svc.Invite(ctx, "alice", g.ID, "bob", nil, now); err != nil {
		t.Fatalf("Invite() error after establishing contact: %v", err)
	}

	m, err := st.Memberships.Get(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("Get() membership error: %v", err)
	}
	if m.Status != store.MembershipPending {
		t.Errorf("membership status = %s, want pending", m.Status)
	}
}

func TestAcceptInvitationActivatesMembership(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")
	seedMutualContact(t, st, "alice", "bob", now)

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := svc.Invite(ctx, "alice", g.ID, "bob", nil, now); err != nil {
		t.Fatalf("Invite() error: %v", err)
	}

	if err := svc.AcceptInvitation(ctx, "bob", g.ID, now); err != nil {
		t.Fatalf("AcceptInvitation() error: %v", err)
	}

	m, err := st.Memberships.Get(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("Get() membership error: %v", err)
	}
	if m.Status != store.MembershipActive {
		t.Errorf("membership status = %s, want active", m.Status)
	}
}

func TestOwnerCannotLeave(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	err = svc.LeaveGroup(ctx, "alice", g.ID, now)
	var relErr *relayerr.Error
	if !errors.As(err, &relErr) || relErr.Code != relayerr.CodeOwnerCannotLeave {
		t.Fatalf("LeaveGroup() error = %v, want CodeOwnerCannotLeave", err)
	}
}

func TestTransferOwnershipSwapsRoles(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")
	seedMutualContact(t, st, "alice", "bob", now)

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := svc.Invite(ctx, "alice", g.ID, "bob", nil, now); err != nil {
		t.Fatalf("Invite() error: %v", err)
	}
	if err := svc.AcceptInvitation(ctx, "bob", g.ID, now); err != nil {
		t.Fatalf("AcceptInvitation() error: %v", err)
	}

	if err := svc.TransferOwnership(ctx, "alice", g.ID, "bob"); err != nil {
		t.Fatalf("TransferOwnership() error: %v", err)
	}

	oldOwner, err := st.Memberships.Get(ctx, g.ID, "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if oldOwner.Role != store.RoleAdmin {
		t.Errorf("old owner role = %s, want admin", oldOwner.Role)
	}

	newOwner, err := st.Memberships.Get(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if newOwner.Role != store.RoleOwner {
		t.Errorf("new owner role = %s, want owner", newOwner.Role)
	}

	gg, err := st.Groups.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Groups.Get() error: %v", err)
	}
	if gg.Owner != "bob" {
		t.Errorf("group owner = %s, want bob", gg.Owner)
	}
}

func TestDissolveGroupMarksMembershipsLeft(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")
	seedMutualContact(t, st, "alice", "bob", now)

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := svc.Invite(ctx, "alice", g.ID, "bob", nil, now); err != nil {
		t.Fatalf("Invite() error: %v", err)
	}
	if err := svc.AcceptInvitation(ctx, "bob", g.ID, now); err != nil {
		t.Fatalf("AcceptInvitation() error: %v", err)
	}

	if err := svc.DissolveGroup(ctx, "alice", g.ID, now); err != nil {
		t.Fatalf("DissolveGroup() error: %v", err)
	}

	gg, err := st.Groups.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Groups.Get() error: %v", err)
	}
	if gg.Status != store.GroupStatusDissolved {
		t.Errorf("group status = %s, want dissolved", gg.Status)
	}

	bobMembership, err := st.Memberships.Get(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if bobMembership.Status != store.MembershipLeft {
		t.Errorf("bob membership status = %s, want left", bobMembership.Status)
	}
}

func TestRemoveMemberRejectsNonAdminCaller(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")
	seedAgent(t, st, "carol")
	seedMutualContact(t, st, "alice", "bob", now)
	seedMutualContact(t, st, "alice", "carol", now)

	g, err := svc.CreateGroup(ctx, "alice", "book club", Settings{}, now)
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	for _, invitee := range []string{"bob", "carol"} {
		if err := svc.Invite(ctx, "alice", g.ID, invitee, nil, now); err != nil {
			t.Fatalf("Invite(%s) error: %v", invitee, err)
		}
		if err := svc.AcceptInvitation(ctx, invitee, g.ID, now); err != nil {
			t.Fatalf("AcceptInvitation(%s) error: %v", invitee, err)
		}
	}

	err = svc.RemoveMember(ctx, "bob", g.ID, "carol", now)
	var relErr *relayerr.Error
	if !errors.As(err, &relErr) || relErr.Code != relayerr.CodeInsufficientRole {
		t.Fatalf("RemoveMember() error = %v, want CodeInsufficientRole", err)
	}
}
