package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Constraint names from migrations/001_roommate_booking.sql
const (
	constraintMemberPK     = "roommate_group_members_pkey"
	constraintActiveMember = "uq_roommate_group_members_active_tenant"
	constraintGroupInvite  = "roommate_groups_invite_code_key"
)

const groupColumns = `id, apartment_id, creator_id, invite_code, status, created_at, booked_at`

// ErrInviteCodeTaken means another group claimed the code between the
// existence check and the insert
var ErrInviteCodeTaken = errors.New("invite code already in use")

// RoommateGroupRepository handles roommate group and membership persistence
type RoommateGroupRepository struct {
	db *sqlx.DB
}

// NewRoommateGroupRepository creates a new RoommateGroupRepository
func NewRoommateGroupRepository(db *sqlx.DB) *RoommateGroupRepository {
	return &RoommateGroupRepository{db: db}
}

// BeginTx starts a transaction for group membership changes
func (r *RoommateGroupRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// ============================================================================
// READS
// ============================================================================

// GetByID returns a group with its members, or nil if it does not exist
func (r *RoommateGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RoommateGroup, error) {
	return r.getOne(ctx, `SELECT `+groupColumns+` FROM roommate_groups WHERE id = $1`, id)
}

// GetByInviteCode returns a group with its members, or nil for an unknown code
func (r *RoommateGroupRepository) GetByInviteCode(ctx context.Context, code string) (*models.RoommateGroup, error) {
	return r.getOne(ctx, `SELECT `+groupColumns+` FROM roommate_groups WHERE invite_code = $1`, code)
}

func (r *RoommateGroupRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.RoommateGroup, error) {
	var group models.RoommateGroup
	err := r.db.GetContext(ctx, &group, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roommate group: %w", err)
	}

	members, err := r.GetMembers(ctx, r.db, group.ID)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return &group, nil
}

// GetMembers loads the member set of a group with tenant names
func (r *RoommateGroupRepository) GetMembers(ctx context.Context, q sqlx.QueryerContext, groupID uuid.UUID) ([]models.RoommateGroupMember, error) {
	members := []models.RoommateGroupMember{}
	err := sqlx.SelectContext(ctx, q, &members, `
		SELECT m.group_id, m.tenant_id, COALESCE(u.name, '') AS tenant_name, m.joined_at
		FROM roommate_group_members m
		LEFT JOIN users u ON u.id = m.tenant_id
		WHERE m.group_id = $1
		ORDER BY m.joined_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	return members, nil
}

// InviteCodeExists reports whether any group, in any status, uses the code
func (r *RoommateGroupRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM roommate_groups WHERE invite_code = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("failed to check invite code: %w", err)
	}
	return exists, nil
}

// HasActiveMembership reports whether the tenant belongs to a FORMING or READY group
func (r *RoommateGroupRepository) HasActiveMembership(ctx context.Context, q sqlx.QueryerContext, tenantID uuid.UUID) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM roommate_group_members m
			JOIN roommate_groups g ON g.id = m.group_id
			WHERE m.tenant_id = $1 AND g.status IN ('FORMING', 'READY')
		)`, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to check active membership: %w", err)
	}
	return exists, nil
}

// GetActiveGroupForTenant returns the tenant's FORMING or READY group, or nil
func (r *RoommateGroupRepository) GetActiveGroupForTenant(ctx context.Context, tenantID uuid.UUID) (*models.RoommateGroup, error) {
	return r.getOne(ctx, `
		SELECT g.id, g.apartment_id, g.creator_id, g.invite_code, g.status, g.created_at, g.booked_at
		FROM roommate_groups g
		JOIN roommate_group_members m ON m.group_id = g.id
		WHERE m.tenant_id = $1 AND g.status IN ('FORMING', 'READY')
		ORDER BY m.joined_at DESC
		LIMIT 1`, tenantID)
}

// ListByApartment returns the groups of an apartment filtered by status.
// An empty filter returns every group.
func (r *RoommateGroupRepository) ListByApartment(ctx context.Context, apartmentID uuid.UUID, statuses []models.GroupStatus) ([]models.RoommateGroup, error) {
	groups := []models.RoommateGroup{}

	query := `SELECT ` + groupColumns + ` FROM roommate_groups WHERE apartment_id = ?`
	args := []interface{}{apartmentID}
	if len(statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, statuses)
	}
	query += ` ORDER BY created_at`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build group query: %w", err)
	}
	query = r.db.Rebind(query)

	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	for i := range groups {
		members, err := r.GetMembers(ctx, r.db, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Members = members
	}
	return groups, nil
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

// GetApartmentID reads the apartment of a group without locking the row.
// A group never changes apartment, so the value stays valid for the lock
// that follows.
func (r *RoommateGroupRepository) GetApartmentID(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID) (uuid.UUID, error) {
	var apartmentID uuid.UUID
	err := tx.GetContext(ctx, &apartmentID, `SELECT apartment_id FROM roommate_groups WHERE id = $1`, groupID)
	if err == sql.ErrNoRows {
		return uuid.Nil, models.ErrGroupNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get group apartment: %w", err)
	}
	return apartmentID, nil
}

// LockByID locks the group row FOR UPDATE and loads its members
func (r *RoommateGroupRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.RoommateGroup, error) {
	var group models.RoommateGroup
	err := tx.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM roommate_groups WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock roommate group: %w", err)
	}

	members, err := r.GetMembers(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return &group, nil
}

// Create inserts a FORMING group and its creator as the first member
func (r *RoommateGroupRepository) Create(ctx context.Context, tx *sqlx.Tx, group *models.RoommateGroup) error {
	group.ID = uuid.New()
	group.Status = models.GroupStatusForming
	group.CreatedAt = time.Now()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO roommate_groups (id, apartment_id, creator_id, invite_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		group.ID, group.ApartmentID, group.CreatorID, group.InviteCode, group.Status, group.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, constraintGroupInvite) {
			return ErrInviteCodeTaken
		}
		return fmt.Errorf("failed to create roommate group: %w", err)
	}

	member, err := r.AddMember(ctx, tx, group.ID, group.CreatorID)
	if err != nil {
		return err
	}
	group.Members = []models.RoommateGroupMember{*member}
	return nil
}

// AddMember inserts an active membership. Unique violations surface as typed
// conflicts so a concurrent join elsewhere cannot slip through.
func (r *RoommateGroupRepository) AddMember(ctx context.Context, tx *sqlx.Tx, groupID, tenantID uuid.UUID) (*models.RoommateGroupMember, error) {
	member := &models.RoommateGroupMember{
		GroupID:  groupID,
		TenantID: tenantID,
		JoinedAt: time.Now(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO roommate_group_members (group_id, tenant_id, joined_at, active)
		VALUES ($1, $2, $3, TRUE)`,
		member.GroupID, member.TenantID, member.JoinedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err, constraintMemberPK):
			return nil, models.ErrAlreadyMember
		case IsUniqueViolation(err, constraintActiveMember):
			return nil, models.ErrActiveMembershipExists
		}
		return nil, fmt.Errorf("failed to add group member: %w", err)
	}
	return member, nil
}

// RemoveMember deletes a membership, returning false if it did not exist
func (r *RoommateGroupRepository) RemoveMember(ctx context.Context, tx *sqlx.Tx, groupID, tenantID uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx, `DELETE FROM roommate_group_members WHERE group_id = $1 AND tenant_id = $2`, groupID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to remove group member: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CountMembers counts members from the table, never from a cached aggregate
func (r *RoommateGroupRepository) CountMembers(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID) (int, error) {
	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM roommate_group_members WHERE group_id = $1`, groupID); err != nil {
		return 0, fmt.Errorf("failed to count group members: %w", err)
	}
	return count, nil
}

// UpdateStatus moves a group from one of the expected statuses to next.
// Returns false when the group was not in an expected status.
func (r *RoommateGroupRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID, next models.GroupStatus, expected ...models.GroupStatus) (bool, error) {
	query, args, err := sqlx.In(`UPDATE roommate_groups SET status = ? WHERE id = ? AND status IN (?)`, next, groupID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to build status update: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update group status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if next.IsTerminal() {
		if err := r.deactivateMembers(ctx, tx, []uuid.UUID{groupID}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// MarkBooked sets a READY group to BOOKED and stamps booked_at once
func (r *RoommateGroupRepository) MarkBooked(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID) (time.Time, error) {
	var bookedAt time.Time
	err := tx.GetContext(ctx, &bookedAt, `
		UPDATE roommate_groups
		SET status = 'BOOKED', booked_at = NOW()
		WHERE id = $1 AND status = 'READY' AND booked_at IS NULL
		RETURNING booked_at`, groupID)
	if err == sql.ErrNoRows {
		return time.Time{}, models.ErrGroupNotReady
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to mark group booked: %w", err)
	}

	if err := r.deactivateMembers(ctx, tx, []uuid.UUID{groupID}); err != nil {
		return time.Time{}, err
	}
	return bookedAt, nil
}

// CancelActiveForApartment cancels every FORMING or READY group of the
// apartment except the given one (uuid.Nil cancels all) and returns their ids
func (r *RoommateGroupRepository) CancelActiveForApartment(ctx context.Context, tx *sqlx.Tx, apartmentID, exceptGroupID uuid.UUID) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	err := tx.SelectContext(ctx, &cancelled, `
		UPDATE roommate_groups
		SET status = 'CANCELLED'
		WHERE apartment_id = $1 AND id <> $2 AND status IN ('FORMING', 'READY')
		RETURNING id`, apartmentID, exceptGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel competing groups: %w", err)
	}

	if len(cancelled) > 0 {
		if err := r.deactivateMembers(ctx, tx, cancelled); err != nil {
			return nil, err
		}
	}
	return cancelled, nil
}

// Delete removes an empty group. Members go first, explicitly.
func (r *RoommateGroupRepository) Delete(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM roommate_group_members WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roommate_groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete roommate group: %w", err)
	}
	return nil
}

// deactivateMembers releases the active-membership slot of every member so
// the tenants may join another group
func (r *RoommateGroupRepository) deactivateMembers(ctx context.Context, tx *sqlx.Tx, groupIDs []uuid.UUID) error {
	ids := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		ids[i] = id.String()
	}
	_, err := tx.ExecContext(ctx, `UPDATE roommate_group_members SET active = FALSE WHERE group_id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to release memberships: %w", err)
	}
	return nil
}
