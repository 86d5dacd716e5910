// Package registry implements agent registration, revocation, the admin-signed broadcast log, and lookup.
package registry

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cc4me/cc4me/internal/disposable"
	"github.com/cc4me/cc4me/internal/relayerr"
	"github.com/cc4me/cc4me/internal/store"
	"github.com/cc4me/cc4me/internal/verify"
)

var broadcastTypes = map[string]struct{}{
	store.BroadcastSecurityAlert: {},
	store.BroadcastMaintenance:   {},
	store.BroadcastUpdate:        {},
	store.BroadcastAnnouncement:  {},
	store.BroadcastRevocation:    {},
}

// Service implements registerAgent, revokeAgent, createBroadcast, and lookupAgent.
type Service struct {
	store     *store.Store
	verify    *verify.Service
	blocklist *disposable.Blocklist
}

// New constructs a registry Service.
func New(s *store.Store, verifySvc *verify.Service, blocklist *disposable.Blocklist) *Service {
	return &Service{store: s, verify: verifySvc, blocklist: blocklist}
}

// RegisterAgent implements registerAgent(name, pubkey, ownerEmail, endpoint). It requires a completed email
// verification for (name, ownerEmail), rejects disposable email domains, and rejects duplicate name/email/key.
func (s *Service) RegisterAgent(ctx context.Context, name, publicKey, ownerEmail string, endpoint *string, now time.Time) (*store.Agent, error) {
	domain := emailDomain(ownerEmail)
	if s.blocklist.IsBlocked(domain) {
		return nil, relayerr.New(relayerr.CodeDisposableEmail, "disposable email domains are not accepted")
	}

	verified, err := s.verify.IsVerified(ctx, name, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("check email verification: %w", err)
	}
	if !verified {
		return nil, relayerr.New(relayerr.CodeUnverifiedEmail, "email must be verified before registration")
	}

	if _, err := s.store.Agents.Get(ctx, name); err == nil {
		return nil, relayerr.New(relayerr.CodeAlreadyExists, "agent name already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing agent: %w", err)
	}

	duplicate, err := s.store.Agents.ExistsByEmailOrKey(ctx, ownerEmail, publicKey)
	if err != nil {
		return nil, fmt.Errorf("check duplicate email or key: %w", err)
	}
	if duplicate {
		return nil, relayerr.New(relayerr.CodeAlreadyExists, "owner email or public key already registered")
	}

	a := &store.Agent{
		Name:          name,
		PublicKey:     publicKey,
		OwnerEmail:    &ownerEmail,
		Endpoint:      endpoint,
		EmailVerified: true,
		Status:        store.AgentStatusActive,
		CreatedAt:     now,
	}
	if err := s.store.Agents.Create(ctx, a); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, relayerr.New(relayerr.CodeAlreadyExists, "agent name, owner email, or public key already registered")
		}
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// RevokeAgent implements revokeAgent(target, adminAgent): flips target's status to revoked and appends a signed
// revocation broadcast, atomically. signature must verify against adminAgent's stored public key over the exact
// revocation payload bytes this method constructs — the relay never holds an admin's private key, so the caller's
// client signs the payload before invoking this operation (mirroring CreateBroadcast's signature contract).
func (s *Service) RevokeAgent(ctx context.Context, target, adminAgent string, signature []byte, now time.Time) error {
	admin, err := s.store.Admins.Get(ctx, adminAgent)
	if errors.Is(err, store.ErrNotFound) {
		return relayerr.New(relayerr.CodeForbidden, "caller is not an admin")
	}
	if err != nil {
		return fmt.Errorf("load admin: %w", err)
	}

	targetAgent, err := s.store.Agents.Get(ctx, target)
	if errors.Is(err, store.ErrNotFound) {
		return relayerr.New(relayerr.CodeNotFound, "target agent not found")
	}
	if err != nil {
		return fmt.Errorf("load target agent: %w", err)
	}
	if targetAgent.Status == store.AgentStatusRevoked {
		return relayerr.New(relayerr.CodeConflict, "agent is already revoked")
	}

	payload := fmt.Sprintf(`{"revokedAgent":%q,"reason":"admin_revocation"}`, target)

	pub, err := base64.StdEncoding.DecodeString(admin.AdminPublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("decode admin public key: %w", err)
	}
	if !ed25519.Verify(pub, []byte(payload), signature) {
		return relayerr.New(relayerr.CodeInvalidSignature, "revocation signature does not verify")
	}

	return s.store.WithTx(ctx, func(txs *store.Store) error {
		if err := txs.Agents.UpdateStatus(ctx, target, store.AgentStatusRevoked); err != nil {
			return err
		}
		return txs.Broadcasts.Insert(ctx, &store.Broadcast{
			ID:        uuid.NewString(),
			Type:      store.BroadcastRevocation,
			Payload:   payload,
			Sender:    adminAgent,
			Signature: base64.StdEncoding.EncodeToString(signature),
			CreatedAt: now,
		})
	})
}

// CreateBroadcast implements createBroadcast(admin, type, payloadString, signature): verifies signature against
// the admin's stored public key over the raw payload bytes.
func (s *Service) CreateBroadcast(ctx context.Context, adminAgent, broadcastType, payload string, signature []byte, now time.Time) (*store.Broadcast, error) {
	if _, ok := broadcastTypes[broadcastType]; !ok {
		return nil, relayerr.New(relayerr.CodeBadRequest, "unknown broadcast type")
	}

	admin, err := s.store.Admins.Get(ctx, adminAgent)
	if errors.Is(err, store.ErrNotFound) {
		return nil, relayerr.New(relayerr.CodeForbidden, "caller is not an admin")
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}

	pub, err := base64.StdEncoding.DecodeString(admin.AdminPublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode admin public key: %w", err)
	}
	if !ed25519.Verify(pub, []byte(payload), signature) {
		return nil, relayerr.New(relayerr.CodeInvalidSignature, "broadcast signature does not verify")
	}

	b := &store.Broadcast{
		ID:        uuid.NewString(),
		Type:      broadcastType,
		Payload:   payload,
		Sender:    adminAgent,
		Signature: base64.StdEncoding.EncodeToString(signature),
		CreatedAt: now,
	}
	if err := s.store.Broadcasts.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("insert broadcast: %w", err)
	}
	return b, nil
}

// LookupResult is the minimal public view returned by LookupAgent; bulk directory listings are not offered.
type LookupResult struct {
	Name      string
	PublicKey string
	Status    string
}

// LookupAgent implements lookupAgent(name).
func (s *Service) LookupAgent(ctx context.Context, name string) (*LookupResult, error) {
	a, err := s.store.Agents.Get(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, relayerr.New(relayerr.CodeNotFound, "agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return &LookupResult{Name: a.Name, PublicKey: a.PublicKey, Status: a.Status}, nil
}

func emailDomain(email string) string {
	idx := strings.LastIndexByte(email, '@')
	if idx == -1 {
		return ""
	}
	return email[idx+1:]
}
