// Package disposable checks email domains against a short built-in list of known disposable email providers.
package disposable

import "strings"

// domains is a short, built-in blocklist of disposable email providers. Unlike a remotely-fetched list this never
// changes at runtime; registry verification only needs to catch the obvious cases.
var domains = map[string]struct{}{
	"mailinator.com":    {},
	"10minutemail.com":  {},
	"guerrillamail.com": {},
	"tempmail.com":      {},
	"yopmail.com":       {},
	"trashmail.com":     {},
	"throwawaymail.com": {},
	"getnada.com":       {},
	"sharklasers.com":   {},
	"dispostable.com":   {},
}

// Blocklist checks email domains against the built-in disposable-provider list.
type Blocklist struct {
	enabled bool
}

// NewBlocklist creates a new disposable email blocklist. If enabled is false, IsBlocked always returns false.
func NewBlocklist(enabled bool) *Blocklist {
	return &Blocklist{enabled: enabled}
}

// IsBlocked returns true if the given domain appears in the disposable email blocklist. Returns false immediately if
// the blocklist is disabled.
func (b *Blocklist) IsBlocked(domain string) bool {
	if !b.enabled {
		return false
	}
	_, blocked := domains[strings.ToLower(domain)]
	return blocked
}
