package main

import (
	"path/filepath"
	"testing"
)

func TestKeygenWritesLoadableIdentity(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "identity.json")

	if err := runKeygen([]string{"-out", out}); err != nil {
		t.Fatalf("runKeygen: %v", err)
	}

	pub, priv, err := loadIdentity(out)
	if err != nil {
		t.Fatalf("loadIdentity: %v", err)
	}
	if len(pub) == 0 || len(priv) == 0 {
		t.Fatal("loaded identity has an empty key")
	}
}

func TestRunKeygenRequiresOutFlag(t *testing.T) {
	t.Parallel()
	if err := runKeygen(nil); err == nil {
		t.Fatal("expected an error when -out is not set")
	}
}
