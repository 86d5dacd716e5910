// Package cache implements the SDK's per-community local contact cache: one JSON file per community, written
// atomically (write-then-rename) under a directory created on first use, with recovery from a corrupt or
// legacy single-file layout.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Contact is one cached entry: a peer's identity and the data needed to attempt direct delivery without a relay
// round trip.
type Contact struct {
	Username  string     `json:"username"`
	PublicKey string     `json:"publicKey"`
	Endpoint  string     `json:"endpoint"`
	AddedAt   time.Time  `json:"addedAt"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Community string     `json:"community"`
}

// file is the on-disk representation of one community's cache file.
type file struct {
	Contacts    []Contact `json:"contacts"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Cache manages per-community contact cache files under a data directory.
type Cache struct {
	dataDir string
}

// New creates a Cache rooted at dataDir, creating the directory if needed, and migrates any legacy single-file
// cache into firstCommunity's file if no per-community file exists yet for it.
func New(dataDir string, firstCommunity string) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	c := &Cache{dataDir: dataDir}

	if firstCommunity != "" {
		if err := c.migrateLegacy(firstCommunity); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) path(community string) string {
	return filepath.Join(c.dataDir, fmt.Sprintf("contacts-cache-%s.json", community))
}

func (c *Cache) legacyPath() string {
	return filepath.Join(c.dataDir, "contacts-cache.json")
}

// migrateLegacy moves the legacy single-file cache into firstCommunity's file, stamping every contact's Community
// field, then renames the legacy file to *.migrated so it is never parsed again. A no-op if the legacy file is
// absent or a per-community file for firstCommunity already exists.
func (c *Cache) migrateLegacy(firstCommunity string) error {
	if _, err := os.Stat(c.path(firstCommunity)); err == nil {
		return nil
	}

	data, err := os.ReadFile(c.legacyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read legacy cache: %w", err)
	}

	var legacy file
	if err := json.Unmarshal(data, &legacy); err != nil {
		// Corrupt legacy file: treat as absent, but still rename it so it is never parsed twice.
		return c.renameLegacyMigrated()
	}

	for i := range legacy.Contacts {
		legacy.Contacts[i].Community = firstCommunity
	}
	if err := c.write(firstCommunity, legacy); err != nil {
		return err
	}
	return c.renameLegacyMigrated()
}

func (c *Cache) renameLegacyMigrated() error {
	if err := os.Rename(c.legacyPath(), c.legacyPath()+".migrated"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename legacy cache: %w", err)
	}
	return nil
}

// Load reads community's cache file. A missing or corrupt file is treated as an empty cache, never an error —
// the caller is expected to repopulate it on the next successful relay fetch.
func (c *Cache) Load(community string) ([]Contact, error) {
	data, err := os.ReadFile(c.path(community))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache for %s: %w", community, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil
	}
	return f.Contacts, nil
}

// Get returns the cached contact for username within community, if present.
func (c *Cache) Get(community, username string) (Contact, bool, error) {
	contacts, err := c.Load(community)
	if err != nil {
		return Contact{}, false, err
	}
	for _, contact := range contacts {
		if contact.Username == username {
			return contact, true, nil
		}
	}
	return Contact{}, false, nil
}

// Save atomically overwrites community's cache file with contacts.
func (c *Cache) Save(community string, contacts []Contact, now time.Time) error {
	return c.write(community, file{Contacts: contacts, LastUpdated: now})
}

// Upsert inserts or replaces a single contact by username within community's cache.
func (c *Cache) Upsert(community string, contact Contact, now time.Time) error {
	contacts, err := c.Load(community)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range contacts {
		if existing.Username == contact.Username {
			contacts[i] = contact
			replaced = true
			break
		}
	}
	if !replaced {
		contacts = append(contacts, contact)
	}
	return c.Save(community, contacts, now)
}

func (c *Cache) write(community string, f file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache for %s: %w", community, err)
	}

	tmp := c.path(community) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp file for %s: %w", community, err)
	}
	if err := os.Rename(tmp, c.path(community)); err != nil {
		return fmt.Errorf("rename cache file for %s: %w", community, err)
	}
	return nil
}
