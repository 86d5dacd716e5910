package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertThenGet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := New(dir, "alpha")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	now := time.Now().UTC()
	if err := c.Upsert("alpha", Contact{Username: "bob", PublicKey: "bob-key", Community: "alpha"}, now); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, ok, err := c.Get("alpha", "bob")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("expected contact to be found")
	}
	if got.PublicKey != "bob-key" {
		t.Errorf("PublicKey = %s, want bob-key", got.PublicKey)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := New(dir, "")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	contacts, err := c.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if contacts != nil {
		t.Errorf("Load() = %v, want nil", contacts)
	}
}

func TestLoadCorruptFileReturnsEmptyNotError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := New(dir, "")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "contacts-cache-alpha.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	contacts, err := c.Load("alpha")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if contacts != nil {
		t.Errorf("Load() = %v, want nil for corrupt file", contacts)
	}
}

func TestMigratesLegacyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	legacy := `{"contacts":[{"username":"carol","publicKey":"carol-key"}],"lastUpdated":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, "contacts-cache.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	c, err := New(dir, "alpha")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	got, ok, err := c.Get("alpha", "carol")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("expected migrated contact to be found")
	}
	if got.Community != "alpha" {
		t.Errorf("Community = %s, want alpha", got.Community)
	}

	if _, err := os.Stat(filepath.Join(dir, "contacts-cache.json.migrated")); err != nil {
		t.Errorf("expected legacy file to be renamed to .migrated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "contacts-cache.json")); !os.IsNotExist(err) {
		t.Errorf("expected legacy file to no longer exist at its original path")
	}
}
