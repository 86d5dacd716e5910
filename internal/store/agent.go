package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repository lookups when no row matches.
var ErrNotFound = errors.New("not found")

// AgentRepository provides CRUD access to the agents table.
type AgentRepository struct {
	db execer
}

// Get returns the agent with the given name, or ErrNotFound.
func (r *AgentRepository) Get(ctx context.Context, name string) (*Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, public_key, owner_email, endpoint, email_verified, status, last_seen, created_at,
		       approved_by, approved_at, key_updated_at, pending_public_key, recovery_initiated_at
		FROM agents WHERE name = ?`, name)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	return agent, nil
}

// Create inserts a new agent row.
func (r *AgentRepository) Create(ctx context.Context, a *Agent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (name, public_key, owner_email, endpoint, email_verified, status, created_at, approved_by, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.PublicKey, a.OwnerEmail, a.Endpoint, a.EmailVerified, a.Status, a.CreatedAt, a.ApprovedBy, a.ApprovedAt)
	if err != nil {
		return fmt.Errorf("create agent %s: %w", a.Name, err)
	}
	return nil
}

// UpdateStatus sets an agent's status (used by revocation and first-run approval).
func (r *AgentRepository) UpdateStatus(ctx context.Context, name, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE agents SET status = ? WHERE name = ?`, status, name)
	if err != nil {
		return fmt.Errorf("update status for agent %s: %w", name, err)
	}
	return nil
}

// UpdatePresence sets last_seen and, when endpoint is non-nil, the endpoint column.
func (r *AgentRepository) UpdatePresence(ctx context.Context, name string, now time.Time, endpoint *string) error {
	if endpoint != nil {
		_, err := r.db.ExecContext(ctx, `UPDATE agents SET last_seen = ?, endpoint = ? WHERE name = ?`, now, *endpoint, name)
		if err != nil {
			return fmt.Errorf("update presence for agent %s: %w", name, err)
		}
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE name = ?`, now, name)
	if err != nil {
		return fmt.Errorf("update presence for agent %s: %w", name, err)
	}
	return nil
}

// ExistsByEmailOrKey reports whether any agent already has the given owner email or public key, for duplicate
// detection during registration.
func (r *AgentRepository) ExistsByEmailOrKey(ctx context.Context, ownerEmail, publicKey string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agents WHERE owner_email = ? OR public_key = ?`, ownerEmail, publicKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check duplicate agent: %w", err)
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var lastSeen, approvedAt, keyUpdatedAt, recoveryInitiatedAt sql.NullTime
	var ownerEmail, endpoint, approvedBy, pendingPublicKey sql.NullString
	var emailVerified bool

	if err := row.Scan(&a.Name, &a.PublicKey, &ownerEmail, &endpoint, &emailVerified, &a.Status, &lastSeen,
		&a.CreatedAt, &approvedBy, &approvedAt, &keyUpdatedAt, &pendingPublicKey, &recoveryInitiatedAt); err != nil {
		return nil, err
	}

	a.EmailVerified = emailVerified
	if ownerEmail.Valid {
		a.OwnerEmail = &ownerEmail.String
	}
	if endpoint.Valid {
		a.Endpoint = &endpoint.String
	}
	if lastSeen.Valid {
		a.LastSeen = &lastSeen.Time
	}
	if approvedBy.Valid {
		a.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.Time
	}
	if keyUpdatedAt.Valid {
		a.KeyUpdatedAt = &keyUpdatedAt.Time
	}
	if pendingPublicKey.Valid {
		a.PendingPublicKey = &pendingPublicKey.String
	}
	if recoveryInitiatedAt.Valid {
		a.RecoveryInitiatedAt = &recoveryInitiatedAt.Time
	}
	return &a, nil
}
