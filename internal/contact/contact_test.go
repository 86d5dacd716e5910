package contact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cc4me/cc4me/internal/ratelimit"
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

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.New(client)
	return New(st, limiter, 100, time.Hour), st
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

func TestRequestNormalizesPair(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	seedAgent(t, st, "bob")
	seedAgent(t, st, "alice")

	now := time.Now().UTC()
	if _, err := svc.Request(ctx, "bob", "alice", nil, now); err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	c, err := st.Contacts.Get(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c.AgentA != "alice" || c.AgentB != "bob" {
		t.Errorf("expected normalized pair (alice,bob), got (%s,%s)", c.AgentA, c.AgentB)
	}
}

func TestDenyThreeTimesAutoBlocks(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	seedAgent(t, st, "alice")
	seedAgent(t, st, "bob")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := svc.Request(ctx, "bob", "alice", nil, now); err != nil {
			t.Fatalf("Request() iteration %d error: %v", i, err)
		}
		if err := svc.Deny(ctx, "alice", "bob", now); err != nil {
			t.Fatalf("Deny() iteration %d error: %v", i, err)
		}
	}

	blocked, err := st.Blocks.Exists(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !blocked {
		t.Error("expected alice to have blocked bob after 3 denials")
	}

	if _, err := svc.Request(ctx, "bob", "alice", nil, now); err == nil {
		t.Error("expected blocked request to fail")
	}
}
