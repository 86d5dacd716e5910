// Package contact implements the contact lifecycle state machine: request, accept, deny, remove, and listing, with
// denial counting, auto-block, pending expiry, and pair normalization.
package contact

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cc4me/cc4me/internal/ratelimit"
	"github.com/cc4me/cc4me/internal/relayerr"
	"github.com/cc4me/cc4me/internal/store"
)

const pendingExpiry = 30 * 24 * time.Hour
const denialAutoBlockThreshold = 3

// Service implements the contact engine described in the specification.
type Service struct {
	store   *store.Store
	limiter *ratelimit.Limiter
	limit   int
	window  time.Duration
}

// New constructs a contact Service.
func New(s *store.Store, limiter *ratelimit.Limiter, limit int, window time.Duration) *Service {
	return &Service{store: s, limiter: limiter, limit: limit, window: window}
}

// RequestResult reports the outcome of a single contact request.
type RequestResult struct {
	OK     bool
	Status string
	Error  string
}

// Request implements contact.request(from, to, greeting?).
func (s *Service) Request(ctx context.Context, from, to string, greeting *string, now time.Time) (*RequestResult, error) {
	if from == to {
		return nil, relayerr.New(relayerr.CodeBadRequest, "cannot request yourself as a contact")
	}
	if greeting != nil && *greeting != "" {
		return nil, relayerr.New(relayerr.CodeBadRequest, "greetings are not supported on contact requests")
	}

	target, err := s.store.Agents.Get(ctx, to)
	if errors.Is(err, store.ErrNotFound) || (err == nil && target.Status != store.AgentStatusActive) {
		return nil, relayerr.New(relayerr.CodeNotFound, "target agent not found or not active")
	}
	if err != nil {
		return nil, fmt.Errorf("load target agent: %w", err)
	}

	blocked, err := s.store.Blocks.Exists(ctx, to, from)
	if err != nil {
		return nil, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return nil, relayerr.New(relayerr.CodeBlocked, "you have been blocked by this agent")
	}

	res, err := s.limiter.Allow(ctx, "contacts:request:"+from, s.limit, s.window)
	if err != nil {
		return nil, fmt.Errorf("check rate limit: %w", err)
	}
	if !res.Allowed {
		retryAfter := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
		return nil, &RateLimitedError{RetryAfterSeconds: retryAfter, Limit: res.Limit, Remaining: res.Remaining, ResetAt: res.ResetAt}
	}

	existing, err := s.store.Contacts.Get(ctx, from, to)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load existing contact: %w", err)
	}

	a, b := store.NormalizePair(from, to)

	if existing != nil {
		stale := existing.Status == store.ContactStatusPending && now.Sub(existing.CreatedAt) > pendingExpiry
		if (existing.Status == store.ContactStatusPending || existing.Status == store.ContactStatusActive) && !stale {
			return nil, relayerr.New(relayerr.CodeAlreadyExists, "a contact request already exists for this pair")
		}

		// Reset a denied/removed/stale-pending row back to pending, preserving denial_count.
		existing.Status = store.ContactStatusPending
		existing.RequestedBy = from
		existing.Greeting = nil
		existing.UpdatedAt = now
		if stale {
			existing.CreatedAt = now
		}
		if err := s.store.Contacts.Upsert(ctx, existing); err != nil {
			return nil, fmt.Errorf("reset contact: %w", err)
		}
		return &RequestResult{OK: true, Status: "pending"}, nil
	}

	if err := s.store.Contacts.Upsert(ctx, &store.Contact{
		AgentA:      a,
		AgentB:      b,
		Status:      store.ContactStatusPending,
		RequestedBy: from,
		DenialCount: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	return &RequestResult{OK: true, Status: "pending"}, nil
}

// RateLimitedError carries the data needed to populate the 429 response's Retry-After and X-RateLimit-* headers.
type RateLimitedError struct {
	RetryAfterSeconds int
	Limit             int
	Remaining         int
	ResetAt           time.Time
}

func (e *RateLimitedError) Error() string { return "rate limited" }

// BatchResult is one entry of request_batch's results array.
type BatchResult struct {
	To    string
	OK    bool
	Status string
	Error string
}

// RequestBatch runs Request against each target, collecting per-target outcomes rather than failing the whole call.
func (s *Service) RequestBatch(ctx context.Context, from string, targets []string, now time.Time) []BatchResult {
	out := make([]BatchResult, 0, len(targets))
	for _, to := range targets {
		res, err := s.Request(ctx, from, to, nil, now)
		if err != nil {
			var relErr *relayerr.Error
			msg := err.Error()
			if errors.As(err, &relErr) {
				msg = relErr.Message
			}
			out = append(out, BatchResult{To: to, OK: false, Error: msg})
			continue
		}
		out = append(out, BatchResult{To: to, OK: true, Status: res.Status})
	}
	return out
}

// PendingEntry is one row returned by ListPending.
type PendingEntry struct {
	From           string
	RequesterEmail *string
	CreatedAt      time.Time
}

// ListPending implements listPending(recipient).
func (s *Service) ListPending(ctx context.Context, recipient string, now time.Time) ([]PendingEntry, error) {
	rows, err := s.store.Contacts.ListPendingFor(ctx, recipient, now.Add(-pendingExpiry))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	out := make([]PendingEntry, 0, len(rows))
	for _, row := range rows {
		other := row.AgentA
		if other == recipient {
			other = row.AgentB
		}
		entry := PendingEntry{From: other, CreatedAt: row.CreatedAt}
		if requester, err := s.store.Agents.Get(ctx, other); err == nil {
			entry.RequesterEmail = requester.OwnerEmail
		}
		out = append(out, entry)
	}
	return out, nil
}

// AcceptResult is the contact descriptor returned by Accept.
type AcceptResult struct {
	Agent     string
	PublicKey string
	Endpoint  *string
}

// Accept implements accept(recipient, requester).
func (s *Service) Accept(ctx context.Context, recipient, requester string, now time.Time) (*AcceptResult, error) {
	if requester == recipient {
		return nil, relayerr.New(relayerr.CodeBadRequest, "cannot accept your own request")
	}

	c, err := s.requirePendingFrom(ctx, recipient, requester)
	if err != nil {
		return nil, err
	}

	if err := s.store.Contacts.UpdateStatus(ctx, recipient, requester, store.ContactStatusActive, now, false); err != nil {
		return nil, fmt.Errorf("accept contact: %w", err)
	}
	_ = c

	agent, err := s.store.Agents.Get(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("load requester agent: %w", err)
	}
	return &AcceptResult{Agent: requester, PublicKey: agent.PublicKey, Endpoint: agent.Endpoint}, nil
}

// Deny implements deny(recipient, requester).
func (s *Service) Deny(ctx context.Context, recipient, requester string, now time.Time) error {
	if requester == recipient {
		return relayerr.New(relayerr.CodeBadRequest, "cannot deny your own request")
	}

	if _, err := s.requirePendingFrom(ctx, recipient, requester); err != nil {
		return err
	}

	if err := s.store.Contacts.UpdateStatus(ctx, recipient, requester, store.ContactStatusDenied, now, true); err != nil {
		return fmt.Errorf("deny contact: %w", err)
	}

	c, err := s.store.Contacts.Get(ctx, recipient, requester)
	if err != nil {
		return fmt.Errorf("reload contact after deny: %w", err)
	}
	if c.DenialCount >= denialAutoBlockThreshold {
		if err := s.store.Blocks.Insert(ctx, recipient, requester); err != nil {
			return fmt.Errorf("auto-block after repeated denials: %w", err)
		}
	}
	return nil
}

func (s *Service) requirePendingFrom(ctx context.Context, recipient, requester string) (*store.Contact, error) {
	c, err := s.store.Contacts.Get(ctx, recipient, requester)
	if errors.Is(err, store.ErrNotFound) {
		return nil, relayerr.New(relayerr.CodeNotFound, "no pending invitation")
	}
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if c.Status != store.ContactStatusPending || c.RequestedBy != requester || requester == recipient {
		return nil, relayerr.New(relayerr.CodeNotFound, "no pending invitation")
	}
	return c, nil
}

// Remove implements remove(actor, other).
func (s *Service) Remove(ctx context.Context, actor, other string, now time.Time) error {
	c, err := s.store.Contacts.Get(ctx, actor, other)
	if errors.Is(err, store.ErrNotFound) || (err == nil && c.Status != store.ContactStatusActive) {
		return relayerr.New(relayerr.CodeNotFound, "no active contact")
	}
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if err := s.store.Contacts.UpdateStatus(ctx, actor, other, store.ContactStatusRemoved, now, false); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	return nil
}

// ListEntry is one row returned by List.
type ListEntry struct {
	Agent              string
	PublicKey          string
	Endpoint           *string
	Since              time.Time
	Online             bool
	LastSeen           *time.Time
	KeyUpdatedAt       *time.Time
	RecoveryInProgress bool
}

// List implements list(owner).
func (s *Service) List(ctx context.Context, owner string, now time.Time, heartbeatInterval time.Duration, isOnline func(*time.Time, time.Time, time.Duration) bool) ([]ListEntry, error) {
	rows, err := s.store.Contacts.ListActiveFor(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}

	out := make([]ListEntry, 0, len(rows))
	for _, row := range rows {
		other := row.AgentA
		if other == owner {
			other = row.AgentB
		}
		agent, err := s.store.Agents.Get(ctx, other)
		if err != nil {
			continue
		}
		out = append(out, ListEntry{
			Agent:              other,
			PublicKey:          agent.PublicKey,
			Endpoint:           agent.Endpoint,
			Since:              row.UpdatedAt,
			Online:             isOnline(agent.LastSeen, now, heartbeatInterval),
			LastSeen:           agent.LastSeen,
			KeyUpdatedAt:       agent.KeyUpdatedAt,
			RecoveryInProgress: agent.RecoveryInitiatedAt != nil,
		})
	}
	return out, nil
}
