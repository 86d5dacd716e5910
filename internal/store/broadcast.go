package store

import (
	"context"
	"database/sql"
	"fmt"
)

// BroadcastRepository provides access to the append-only broadcasts table.
type BroadcastRepository struct {
	db execer
}

// Insert appends a new broadcast row.
func (r *BroadcastRepository) Insert(ctx context.Context, b *Broadcast) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, type, payload, sender, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, b.ID, b.Type, b.Payload, b.Sender, b.Signature, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert broadcast %s: %w", b.ID, err)
	}
	return nil
}

// List returns broadcasts, optionally filtered by type, newest first.
func (r *BroadcastRepository) List(ctx context.Context, typeFilter string) ([]*Broadcast, error) {
	query := `SELECT id, type, payload, sender, signature, created_at FROM broadcasts`
	args := []any{}
	if typeFilter != "" {
		query += ` WHERE type = ?`
		args = append(args, typeFilter)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*Broadcast
	for rows.Next() {
		var b Broadcast
		if err := rows.Scan(&b.ID, &b.Type, &b.Payload, &b.Sender, &b.Signature, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
