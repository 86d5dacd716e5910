package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GroupRepository provides access to the groups table.
type GroupRepository struct {
	db execer
}

// Get returns the group with the given id, or ErrNotFound.
func (r *GroupRepository) Get(ctx context.Context, id string) (*Group, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, owner, status, members_can_invite, members_can_send, max_members, created_at, dissolved_at
		FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}
	return g, nil
}

// Create inserts a new group row.
func (r *GroupRepository) Create(ctx context.Context, g *Group) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, owner, status, members_can_invite, members_can_send, max_members, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Owner, g.Status, g.MembersCanInvite, g.MembersCanSend, g.MaxMembers, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("create group %s: %w", g.ID, err)
	}
	return nil
}

// Dissolve marks a group dissolved.
func (r *GroupRepository) Dissolve(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE groups SET status = 'dissolved', dissolved_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("dissolve group %s: %w", id, err)
	}
	return nil
}

// SetOwner updates the owner column, used during ownership transfer.
func (r *GroupRepository) SetOwner(ctx context.Context, id, newOwner string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE groups SET owner = ? WHERE id = ?`, newOwner, id)
	if err != nil {
		return fmt.Errorf("set owner for group %s: %w", id, err)
	}
	return nil
}

// ListForAgent returns every active group that agent belongs to (via an active membership).
func (r *GroupRepository) ListForAgent(ctx context.Context, agent string) ([]*Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner, g.status, g.members_can_invite, g.members_can_send, g.max_members, g.created_at, g.dissolved_at
		FROM groups g
		JOIN group_memberships m ON m.group_id = g.id
		WHERE m.agent = ? AND m.status = 'active'`, agent)
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", agent, err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var dissolvedAt sql.NullTime
	if err := row.Scan(&g.ID, &g.Name, &g.Owner, &g.Status, &g.MembersCanInvite, &g.MembersCanSend,
		&g.MaxMembers, &g.CreatedAt, &dissolvedAt); err != nil {
		return nil, err
	}
	if dissolvedAt.Valid {
		g.DissolvedAt = &dissolvedAt.Time
	}
	return &g, nil
}
