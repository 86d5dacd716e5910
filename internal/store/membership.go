package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MembershipRepository provides access to the group_memberships table.
type MembershipRepository struct {
	db execer
}

// Get returns the membership row for (groupID, agent), or ErrNotFound.
func (r *MembershipRepository) Get(ctx context.Context, groupID, agent string) (*Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT group_id, agent, role, status, invited_by, greeting, joined_at, left_at, created_at
		FROM group_memberships WHERE group_id = ? AND agent = ?`, groupID, agent)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership (%s,%s): %w", groupID, agent, err)
	}
	return m, nil
}

// Insert adds a new membership row. The caller is responsible for deleting any stale left/removed row first.
func (r *MembershipRepository) Insert(ctx context.Context, m *Membership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_memberships (group_id, agent, role, status, invited_by, greeting, joined_at, left_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.Agent, m.Role, m.Status, m.InvitedBy, m.Greeting, m.JoinedAt, m.LeftAt, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert membership (%s,%s): %w", m.GroupID, m.Agent, err)
	}
	return nil
}

// Delete removes a membership row outright, used when declining an invitation or replacing a left/removed row.
func (r *MembershipRepository) Delete(ctx context.Context, groupID, agent string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id = ? AND agent = ?`, groupID, agent)
	if err != nil {
		return fmt.Errorf("delete membership (%s,%s): %w", groupID, agent, err)
	}
	return nil
}

// UpdateStatus transitions a membership's status, optionally stamping joined_at/left_at.
func (r *MembershipRepository) UpdateStatus(ctx context.Context, groupID, agent, status string, joinedAt, leftAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE group_memberships SET status = ?, joined_at = COALESCE(?, joined_at), left_at = COALESCE(?, left_at)
		WHERE group_id = ? AND agent = ?`, status, joinedAt, leftAt, groupID, agent)
	if err != nil {
		return fmt.Errorf("update membership status (%s,%s): %w", groupID, agent, err)
	}
	return nil
}

// UpdateRole changes a membership's role, used during ownership transfer.
func (r *MembershipRepository) UpdateRole(ctx context.Context, groupID, agent, role string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE group_memberships SET role = ? WHERE group_id = ? AND agent = ?`, role, groupID, agent)
	if err != nil {
		return fmt.Errorf("update membership role (%s,%s): %w", groupID, agent, err)
	}
	return nil
}

// CountActive returns the number of active members in a group.
func (r *MembershipRepository) CountActive(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_memberships WHERE group_id = ? AND status = 'active'`, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active members of %s: %w", groupID, err)
	}
	return count, nil
}

// CountActiveForAgent returns the number of groups where agent holds an active membership, used to enforce the
// per-agent 100-active-membership cap.
func (r *MembershipRepository) CountActiveForAgent(ctx context.Context, agent string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_memberships WHERE agent = ? AND status = 'active'`, agent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active memberships for %s: %w", agent, err)
	}
	return count, nil
}

// ListByGroupAndStatus returns all memberships in a group matching status, or all memberships when status is empty.
func (r *MembershipRepository) ListByGroupAndStatus(ctx context.Context, groupID, status string) ([]*Membership, error) {
	query := `SELECT group_id, agent, role, status, invited_by, greeting, joined_at, left_at, created_at FROM group_memberships WHERE group_id = ?`
	args := []any{groupID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships of %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPendingForAgent returns pending invitations addressed to agent.
func (r *MembershipRepository) ListPendingForAgent(ctx context.Context, agent string) ([]*Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id, agent, role, status, invited_by, greeting, joined_at, left_at, created_at
		FROM group_memberships WHERE agent = ? AND status = 'pending'`, agent)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations for %s: %w", agent, err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateAllActiveAndPending transitions every active/pending membership of a group to status=left with left_at=now,
// used by group dissolution. It must run inside the same transaction as GroupRepository.Dissolve.
func (r *MembershipRepository) UpdateAllActiveAndPending(ctx context.Context, groupID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE group_memberships SET status = 'left', left_at = ?
		WHERE group_id = ? AND status IN ('active', 'pending')`, now, groupID)
	if err != nil {
		return fmt.Errorf("dissolve memberships of %s: %w", groupID, err)
	}
	return nil
}

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var invitedBy, greeting sql.NullString
	var joinedAt, leftAt sql.NullTime
	if err := row.Scan(&m.GroupID, &m.Agent, &m.Role, &m.Status, &invitedBy, &greeting, &joinedAt, &leftAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.String
	}
	if greeting.Valid {
		m.Greeting = &greeting.String
	}
	if joinedAt.Valid {
		m.JoinedAt = &joinedAt.Time
	}
	if leftAt.Valid {
		m.LeftAt = &leftAt.Time
	}
	return &m, nil
}
