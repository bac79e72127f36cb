package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupRowColumns = []string{"id", "apartment_id", "creator_id", "invite_code", "status", "created_at", "booked_at"}

func groupRow(id, apartmentID uuid.UUID, status models.GroupStatus) *sqlmock.Rows {
	return sqlmock.NewRows(groupRowColumns).AddRow(
		id.String(), apartmentID.String(), uuid.New().String(), "K7QX2M", string(status), time.Now(), nil,
	)
}

func memberRow(groupID uuid.UUID, tenants ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"group_id", "tenant_id", "tenant_name", "joined_at"})
	for _, tenantID := range tenants {
		rows.AddRow(groupID.String(), tenantID.String(), "Nadia", time.Now())
	}
	return rows
}

func TestRoommateGroupRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("Loads members", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)
		groupID, apartmentID := uuid.New(), uuid.New()
		tenantA, tenantB := uuid.New(), uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM roommate_groups WHERE id = \$1`).
			WithArgs(groupID).
			WillReturnRows(groupRow(groupID, apartmentID, models.GroupStatusForming))
		mock.ExpectQuery(`FROM roommate_group_members m LEFT JOIN users u`).
			WithArgs(groupID).
			WillReturnRows(memberRow(groupID, tenantA, tenantB))

		group, err := repo.GetByID(ctx, groupID)
		require.NoError(t, err)
		require.NotNil(t, group)
		assert.Equal(t, apartmentID, group.ApartmentID)
		assert.Equal(t, models.GroupStatusForming, group.Status)
		assert.Equal(t, 2, group.MemberCount())
		assert.Nil(t, group.BookedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing group returns nil", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)

		mock.ExpectQuery(`FROM roommate_groups WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

		group, err := repo.GetByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, group)
	})
}

func TestRoommateGroupRepository_ListByApartment(t *testing.T) {
	ctx := context.Background()
	db, mock := setupMockDB(t)
	repo := NewRoommateGroupRepository(db)
	apartmentID, groupID := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM roommate_groups WHERE apartment_id = \? AND status IN \(\?, \?\) ORDER BY created_at`).
		WithArgs(apartmentID.String(), "FORMING", "READY").
		WillReturnRows(groupRow(groupID, apartmentID, models.GroupStatusReady))
	mock.ExpectQuery(`FROM roommate_group_members m`).
		WithArgs(groupID).
		WillReturnRows(memberRow(groupID, uuid.New(), uuid.New(), uuid.New(), uuid.New()))

	groups, err := repo.ListByApartment(ctx, apartmentID, []models.GroupStatus{models.GroupStatusForming, models.GroupStatusReady})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].IsFull())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoommateGroupRepository_GetApartmentID(t *testing.T) {
	ctx := context.Background()

	t.Run("Reads without locking", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)
		groupID, apartmentID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`^SELECT apartment_id FROM roommate_groups WHERE id = \$1$`).
			WithArgs(groupID).
			WillReturnRows(sqlmock.NewRows([]string{"apartment_id"}).AddRow(apartmentID.String()))
		mock.ExpectRollback()

		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		got, err := repo.GetApartmentID(ctx, tx, groupID)
		require.NoError(t, err)
		assert.Equal(t, apartmentID, got)
	})

	t.Run("Missing group", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT apartment_id FROM roommate_groups`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = repo.GetApartmentID(ctx, tx, uuid.New())
		assert.ErrorIs(t, err, models.ErrGroupNotFound)
	})
}

func TestRoommateGroupRepository_Create_InviteCodeTaken(t *testing.T) {
	ctx := context.Background()
	db, mock := setupMockDB(t)
	repo := NewRoommateGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO roommate_groups`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: constraintGroupInvite})
	mock.ExpectRollback()

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = repo.Create(ctx, tx, &models.RoommateGroup{
		ApartmentID: uuid.New(),
		CreatorID:   uuid.New(),
		InviteCode:  "K7QX2M",
	})
	assert.ErrorIs(t, err, ErrInviteCodeTaken)
}

func TestRoommateGroupRepository_AddMember_UniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{"same group twice", constraintMemberPK, models.ErrAlreadyMember},
		{"active in another group", constraintActiveMember, models.ErrActiveMembershipExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db, mock := setupMockDB(t)
			repo := NewRoommateGroupRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec(`INSERT INTO roommate_group_members`).
				WillReturnError(&pq.Error{Code: "23505", Constraint: tt.constraint})
			mock.ExpectRollback()

			tx, err := repo.BeginTx(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			member, err := repo.AddMember(ctx, tx, uuid.New(), uuid.New())
			assert.Nil(t, member)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRoommateGroupRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Stale expected status matches nothing", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)
		groupID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE roommate_groups SET status = \? WHERE id = \? AND status IN \(\?\)`).
			WithArgs("READY", groupID.String(), "FORMING").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		ok, err := repo.UpdateStatus(ctx, tx, groupID, models.GroupStatusReady, models.GroupStatusForming)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Terminal status releases memberships", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewRoommateGroupRepository(db)
		groupID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE roommate_groups SET status = \?`).
			WithArgs("CANCELLED", groupID.String(), "FORMING", "READY").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE roommate_group_members SET active = FALSE WHERE group_id = ANY`).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)

		ok, err := repo.UpdateStatus(ctx, tx, groupID, models.GroupStatusCancelled, models.GroupStatusForming, models.GroupStatusReady)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRoommateGroupRepository_MarkBooked_NotReady(t *testing.T) {
	ctx := context.Background()
	db, mock := setupMockDB(t)
	repo := NewRoommateGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE roommate_groups SET status = 'BOOKED', booked_at = NOW\(\)`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = repo.MarkBooked(ctx, tx, uuid.New())
	assert.ErrorIs(t, err, models.ErrGroupNotReady)
}
