package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCoordinator(t *testing.T) (*BookingCoordinatorService, sqlmock.Sqlmock, *recordingPublisher) {
	db, mock := setupMockDB(t)
	publisher := &recordingPublisher{}

	coordinator := NewBookingCoordinatorService(
		database.NewRoommateGroupRepository(db),
		database.NewApartmentRepository(db),
		publisher,
		testLogger(),
	)
	return coordinator, mock, publisher
}

func expectMarkGroupBooked(mock sqlmock.Sqlmock, groupID uuid.UUID) {
	mock.ExpectQuery(`UPDATE roommate_groups SET status = 'BOOKED'`).
		WithArgs(groupID).
		WillReturnRows(sqlmock.NewRows([]string{"booked_at"}).AddRow(fixedTime))
	expectDeactivateMembers(mock)
}

func TestBookApartment_Success(t *testing.T) {
	coordinator, mock, publisher := setupCoordinator(t)
	tenants := fourTenants()
	group := newGroup(models.GroupStatusReady, tenants[0])
	rivalA, rivalB := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectGroupApartment(mock, group)
	expectLockApartment(mock, group.ApartmentID, false)
	expectLockGroup(mock, group, tenants...)
	expectMarkApartmentBooked(mock, group.ApartmentID)
	expectMarkGroupBooked(mock, group.ID)
	expectCancelActive(mock, group.ApartmentID, group.ID, rivalA, rivalB)
	mock.ExpectCommit()

	booked, err := coordinator.BookApartment(context.Background(), group.ID, tenants[2])

	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusBooked, booked.Status)
	require.NotNil(t, booked.BookedAt)
	assert.True(t, booked.BookedAt.Equal(fixedTime))
	assert.Equal(t, []string{
		models.EventGroupBooked,
		models.EventGroupCancelled,
		models.EventGroupCancelled,
	}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The second of two READY groups racing for one apartment observes the
// apartment as booked once it holds the lock, and is itself cancelled
func TestBookApartment_LosingGroupIsCancelled(t *testing.T) {
	coordinator, mock, publisher := setupCoordinator(t)
	tenants := fourTenants()
	group := newGroup(models.GroupStatusReady, tenants[0])

	mock.ExpectBegin()
	expectGroupApartment(mock, group)
	expectLockApartment(mock, group.ApartmentID, true)
	expectLockGroup(mock, group, tenants...)
	expectGroupStatusUpdate(mock, group.ID, models.GroupStatusCancelled, models.GroupStatusForming, models.GroupStatusReady)
	mock.ExpectCommit()

	booked, err := coordinator.BookApartment(context.Background(), group.ID, tenants[0])

	assert.Nil(t, booked)
	assert.ErrorIs(t, err, models.ErrAlreadyBooked)
	be, ok := models.AsBookingError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindConflict, be.Kind)
	assert.Equal(t, []string{models.EventGroupCancelled}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookApartment_Preconditions(t *testing.T) {
	tenants := fourTenants()

	tests := []struct {
		name    string
		status  models.GroupStatus
		members []uuid.UUID
		payer   uuid.UUID
		wantErr error
	}{
		{"payer not a member", models.GroupStatusReady, tenants, uuid.New(), models.ErrNotMember},
		{"group still forming", models.GroupStatusForming, tenants[:3], tenants[0], models.ErrGroupNotReady},
		{"ready with too few members", models.GroupStatusReady, tenants[:3], tenants[0], models.ErrGroupNotReady},
		{"group already booked", models.GroupStatusBooked, tenants, tenants[0], models.ErrGroupNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, mock, publisher := setupCoordinator(t)
			group := newGroup(tt.status, tt.members[0])

			mock.ExpectBegin()
			expectGroupApartment(mock, group)
			expectLockApartment(mock, group.ApartmentID, false)
			expectLockGroup(mock, group, tt.members...)
			mock.ExpectRollback()

			_, err := coordinator.BookApartment(context.Background(), group.ID, tt.payer)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, publisher.keys())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// Two READY groups booking the same apartment at once must queue on the
// apartment row. Taking the own group row first would hold it while the
// winner's rival cancellation waits for it, which Postgres resolves as a
// deadlock instead of ErrAlreadyBooked.
func TestBookApartment_LocksApartmentBeforeAnyGroup(t *testing.T) {
	coordinator, mock, _ := setupCoordinator(t)
	mock.MatchExpectationsInOrder(true)
	tenants := fourTenants()
	group := newGroup(models.GroupStatusReady, tenants[0])
	rival := uuid.New()

	mock.ExpectBegin()
	expectGroupApartment(mock, group)
	expectLockApartment(mock, group.ApartmentID, false)
	expectLockGroup(mock, group, tenants...)
	expectMarkApartmentBooked(mock, group.ApartmentID)
	expectMarkGroupBooked(mock, group.ID)
	expectCancelActive(mock, group.ApartmentID, group.ID, rival)
	mock.ExpectCommit()

	_, err := coordinator.BookApartment(context.Background(), group.ID, tenants[1])

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The loser of the race finds its group already cancelled by the winner
// once it gets the apartment lock, and still reports ErrAlreadyBooked
func TestBookApartment_GroupCancelledByWinner(t *testing.T) {
	coordinator, mock, publisher := setupCoordinator(t)
	tenants := fourTenants()
	group := newGroup(models.GroupStatusCancelled, tenants[0])

	mock.ExpectBegin()
	expectGroupApartment(mock, group)
	expectLockApartment(mock, group.ApartmentID, true)
	expectLockGroup(mock, group, tenants...)
	mock.ExpectRollback()

	_, err := coordinator.BookApartment(context.Background(), group.ID, tenants[3])

	assert.ErrorIs(t, err, models.ErrAlreadyBooked)
	assert.Empty(t, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookApartment_UnknownGroup(t *testing.T) {
	coordinator, mock, _ := setupCoordinator(t)
	groupID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT apartment_id FROM roommate_groups WHERE id = \$1`).
		WithArgs(groupID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := coordinator.BookApartment(context.Background(), groupID, uuid.New())

	assert.ErrorIs(t, err, models.ErrGroupNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSolo_CancelsAllActiveGroups(t *testing.T) {
	coordinator, mock, _ := setupCoordinator(t)
	apartmentID := uuid.New()
	groupID := uuid.New()

	mock.ExpectBegin()
	expectLockApartment(mock, apartmentID, false)
	expectMarkApartmentBooked(mock, apartmentID)
	expectCancelActive(mock, apartmentID, uuid.Nil, groupID)
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := coordinator.apartmentRepo.BeginTx(ctx)
	require.NoError(t, err)

	cancelled, err := coordinator.BookSolo(ctx, tx, apartmentID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, []uuid.UUID{groupID}, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSolo_AlreadyBookedWritesNothing(t *testing.T) {
	coordinator, mock, _ := setupCoordinator(t)
	apartmentID := uuid.New()

	mock.ExpectBegin()
	expectLockApartment(mock, apartmentID, true)
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := coordinator.apartmentRepo.BeginTx(ctx)
	require.NoError(t, err)

	_, err = coordinator.BookSolo(ctx, tx, apartmentID)
	assert.ErrorIs(t, err, models.ErrAlreadyBooked)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrphanedGroups(t *testing.T) {
	coordinator, mock, publisher := setupCoordinator(t)
	rented := uuid.New()
	vacatedMeanwhile := uuid.New()
	orphan := uuid.New()

	mock.ExpectQuery(`SELECT DISTINCT a.id FROM apartments a`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(rented.String()).AddRow(vacatedMeanwhile.String()))

	mock.ExpectBegin()
	expectLockApartment(mock, rented, true)
	expectCancelActive(mock, rented, uuid.Nil, orphan)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectLockApartment(mock, vacatedMeanwhile, false)
	mock.ExpectRollback()

	cancelled, err := coordinator.CancelOrphanedGroups(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, []string{models.EventGroupCancelled}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}
