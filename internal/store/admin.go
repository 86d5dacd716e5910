package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AdminRepository provides access to the admins table.
type AdminRepository struct {
	db execer
}

// Get returns the admin row for agent, or ErrNotFound.
func (r *AdminRepository) Get(ctx context.Context, agent string) (*Admin, error) {
	var a Admin
	err := r.db.QueryRowContext(ctx, `
		SELECT agent, admin_public_key, added_at FROM admins WHERE agent = ?`, agent).
		Scan(&a.Agent, &a.AdminPublicKey, &a.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin %s: %w", agent, err)
	}
	return &a, nil
}

// List returns every admin agent and their public key, used to serve GET /admin/keys.
func (r *AdminRepository) List(ctx context.Context) ([]*Admin, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT agent, admin_public_key, added_at FROM admins`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var out []*Admin
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.Agent, &a.AdminPublicKey, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
