package store

import (
	"context"
	"database/sql"
	"fmt"
)

// BlockRepository provides access to the blocks table.
type BlockRepository struct {
	db execer
}

// Exists reports whether blocker has blocked blocked.
func (r *BlockRepository) Exists(ctx context.Context, blocker, blocked string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE blocker = ? AND blocked = ?`, blocker, blocked).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check block (%s -> %s): %w", blocker, blocked, err)
	}
	return count > 0, nil
}

// Insert records a block if it does not already exist.
func (r *BlockRepository) Insert(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker, blocked) VALUES (?, ?)
		ON CONFLICT (blocker, blocked) DO NOTHING`, blocker, blocked)
	if err != nil {
		return fmt.Errorf("insert block (%s -> %s): %w", blocker, blocked, err)
	}
	return nil
}
