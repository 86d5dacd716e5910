package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ContactRepository provides CRUD access to the contacts table. Every method takes agent names in arbitrary order
// and normalizes them internally; callers never need to know which side is agent_a.
type ContactRepository struct {
	db execer
}

// NormalizePair returns (agentA, agentB) such that agentA < agentB lexicographically.
func NormalizePair(x, y string) (agentA, agentB string) {
	if x < y {
		return x, y
	}
	return y, x
}

// Get returns the contact row for the (unordered) pair, or ErrNotFound.
func (r *ContactRepository) Get(ctx context.Context, x, y string) (*Contact, error) {
	a, b := NormalizePair(x, y)
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_a, agent_b, status, requested_by, greeting, denial_count, created_at, updated_at
		FROM contacts WHERE agent_a = ? AND agent_b = ?`, a, b)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact (%s,%s): %w", a, b, err)
	}
	return c, nil
}

// Upsert inserts a new contact row, or overwrites an existing one in place (used when re-requesting after denial,
// removal, or a stale pending expiry).
func (r *ContactRepository) Upsert(ctx context.Context, c *Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (agent_a, agent_b, status, requested_by, greeting, denial_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_a, agent_b) DO UPDATE SET
			status = excluded.status,
			requested_by = excluded.requested_by,
			greeting = excluded.greeting,
			denial_count = excluded.denial_count,
			updated_at = excluded.updated_at`,
		c.AgentA, c.AgentB, c.Status, c.RequestedBy, c.Greeting, c.DenialCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contact (%s,%s): %w", c.AgentA, c.AgentB, err)
	}
	return nil
}

// UpdateStatus transitions a contact's status and bumps updated_at. When incrementDenial is true, denial_count is
// incremented atomically.
func (r *ContactRepository) UpdateStatus(ctx context.Context, x, y, status string, now time.Time, incrementDenial bool) error {
	a, b := NormalizePair(x, y)
	if incrementDenial {
		_, err := r.db.ExecContext(ctx, `
			UPDATE contacts SET status = ?, updated_at = ?, denial_count = denial_count + 1
			WHERE agent_a = ? AND agent_b = ?`, status, now, a, b)
		if err != nil {
			return fmt.Errorf("deny contact (%s,%s): %w", a, b, err)
		}
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET status = ?, updated_at = ? WHERE agent_a = ? AND agent_b = ?`, status, now, a, b)
	if err != nil {
		return fmt.Errorf("update contact status (%s,%s): %w", a, b, err)
	}
	return nil
}

// ListPendingFor returns pending rows addressed to recipient, i.e. rows where requested_by != recipient, within the
// given age cutoff.
func (r *ContactRepository) ListPendingFor(ctx context.Context, recipient string, createdAfter time.Time) ([]*Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_a, agent_b, status, requested_by, greeting, denial_count, created_at, updated_at
		FROM contacts
		WHERE (agent_a = ? OR agent_b = ?) AND status = 'pending' AND requested_by != ? AND created_at >= ?`,
		recipient, recipient, recipient, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("list pending contacts for %s: %w", recipient, err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListActiveFor returns all active contacts for owner.
func (r *ContactRepository) ListActiveFor(ctx context.Context, owner string) ([]*Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_a, agent_b, status, requested_by, greeting, denial_count, created_at, updated_at
		FROM contacts WHERE (agent_a = ? OR agent_b = ?) AND status = 'active'`, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("list active contacts for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsMutualActiveContact reports whether x and y have an active contact row between them.
func (r *ContactRepository) IsMutualActiveContact(ctx context.Context, x, y string) (bool, error) {
	c, err := r.Get(ctx, x, y)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status == ContactStatusActive, nil
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var greeting sql.NullString
	if err := row.Scan(&c.AgentA, &c.AgentB, &c.Status, &c.RequestedBy, &greeting, &c.DenialCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if greeting.Valid {
		c.Greeting = &greeting.String
	}
	return &c, nil
}
