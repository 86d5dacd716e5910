package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// VerificationRepository provides access to the email_verifications table.
type VerificationRepository struct {
	db execer
}

// Upsert writes (or overwrites) the pending verification code for an agent, resetting attempts.
func (r *VerificationRepository) Upsert(ctx context.Context, agentName, email, codeHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_verifications (agent_name, email, code_hash, attempts, expires_at, verified)
		VALUES (?, ?, ?, 0, ?, 0)
		ON CONFLICT (agent_name) DO UPDATE SET
			email = excluded.email, code_hash = excluded.code_hash, attempts = 0,
			expires_at = excluded.expires_at, verified = 0`,
		agentName, email, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert verification for %s: %w", agentName, err)
	}
	return nil
}

// Get returns the verification row for an agent, or ErrNotFound.
func (r *VerificationRepository) Get(ctx context.Context, agentName string) (*Verification, error) {
	var v Verification
	err := r.db.QueryRowContext(ctx, `
		SELECT agent_name, email, code_hash, attempts, expires_at, verified
		FROM email_verifications WHERE agent_name = ?`, agentName).
		Scan(&v.AgentName, &v.Email, &v.CodeHash, &v.Attempts, &v.ExpiresAt, &v.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification for %s: %w", agentName, err)
	}
	return &v, nil
}

// IncrementAttempts bumps the attempt counter after a failed confirmation.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, agentName string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_verifications SET attempts = attempts + 1 WHERE agent_name = ?`, agentName)
	if err != nil {
		return fmt.Errorf("increment verification attempts for %s: %w", agentName, err)
	}
	return nil
}

// MarkVerified flips the verified flag after a successful confirmation.
func (r *VerificationRepository) MarkVerified(ctx context.Context, agentName string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_verifications SET verified = 1 WHERE agent_name = ?`, agentName)
	if err != nil {
		return fmt.Errorf("mark verification verified for %s: %w", agentName, err)
	}
	return nil
}
