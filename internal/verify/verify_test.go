package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cc4me/cc4me/internal/store"
)

type fakeSender struct {
	lastCode string
	calls    int
}

func (f *fakeSender) Send(ctx context.Context, email, code string) error {
	f.lastCode = code
	f.calls++
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeSender) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	t.Cleanup(func() { _ = os.Remove(dbPath) })

	sender := &fakeSender{}
	return New(st, sender), sender
}

func TestSendThenConfirmSucceeds(t *testing.T) {
	t.Parallel()
	svc, sender := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := svc.Send(ctx, "alice", "alice@example.com", now); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(sender.lastCode) != 6 {
		t.Fatalf("code length = %d, want 6", len(sender.lastCode))
	}

	if err := svc.Confirm(ctx, "alice", sender.lastCode, now); err != nil {
		t.Fatalf("Confirm() error: %v", err)
	}

	ok, err := svc.IsVerified(ctx, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("IsVerified() error: %v", err)
	}
	if !ok {
		t.Error("expected IsVerified to be true after Confirm")
	}
}

func TestConfirmRejectsWrongCode(t *testing.T) {
	t.Parallel()
	svc, sender := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := svc.Send(ctx, "alice", "alice@example.com", now); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	wrong := "000000"
	if sender.lastCode == wrong {
		wrong = "111111"
	}
	if err := svc.Confirm(ctx, "alice", wrong, now); err == nil {
		t.Fatal("expected Confirm() to fail for wrong code")
	}
}

func TestConfirmLocksOutAfterThreeAttempts(t *testing.T) {
	t.Parallel()
	svc, sender := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := svc.Send(ctx, "alice", "alice@example.com", now); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	wrong := "000000"
	if sender.lastCode == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		_ = svc.Confirm(ctx, "alice", wrong, now)
	}

	if err := svc.Confirm(ctx, "alice", sender.lastCode, now); err == nil {
		t.Fatal("expected Confirm() to fail after attempt cap is reached, even with the correct code")
	}
}

func TestConfirmRejectsExpiredCode(t *testing.T) {
	t.Parallel()
	svc, sender := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := svc.Send(ctx, "alice", "alice@example.com", now); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	later := now.Add(codeTTL + time.Second)
	if err := svc.Confirm(ctx, "alice", sender.lastCode, later); err == nil {
		t.Fatal("expected Confirm() to fail for an expired code")
	}
}
