package services

import (
	"context"
	"fmt"

	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Reasons attached to group.cancelled events
const (
	CancelReasonApartmentTaken  = "apartment_already_booked"
	CancelReasonRivalBooked     = "rival_group_booked"
	CancelReasonSoloBooked      = "apartment_booked_by_payment"
	CancelReasonOrphanedRenting = "apartment_rented"
)

// BookingCoordinatorService is the transactional boundary that turns a READY
// group (or a confirmed solo payment) into a booked apartment
type BookingCoordinatorService struct {
	groupRepo     *database.RoommateGroupRepository
	apartmentRepo *database.ApartmentRepository
	publisher     events.Publisher
	logger        *logrus.Logger
}

// NewBookingCoordinatorService creates a new BookingCoordinatorService
func NewBookingCoordinatorService(
	groupRepo *database.RoommateGroupRepository,
	apartmentRepo *database.ApartmentRepository,
	publisher events.Publisher,
	logger *logrus.Logger,
) *BookingCoordinatorService {
	return &BookingCoordinatorService{
		groupRepo:     groupRepo,
		apartmentRepo: apartmentRepo,
		publisher:     publisher,
		logger:        logger,
	}
}

// BookApartment books the group's apartment. Everything commits together:
// the apartment flips to RENTED, the group becomes BOOKED and every other
// active group for the apartment is cancelled. When the apartment is already
// taken the group itself is cancelled and ErrAlreadyBooked is returned.
func (s *BookingCoordinatorService) BookApartment(ctx context.Context, groupID, payingTenantID uuid.UUID) (*models.RoommateGroup, error) {
	tx, err := s.groupRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock order is payment, apartment, then groups. The group row is read
	// unlocked first only to find the apartment.
	apartmentID, err := s.groupRepo.GetApartmentID(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	lock, err := s.apartmentRepo.LockForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return nil, err
	}

	group, err := s.groupRepo.LockByID(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(payingTenantID) {
		return nil, models.ErrNotMember
	}
	if group.Status == models.GroupStatusBooked {
		return nil, models.ErrGroupNotReady
	}
	if !lock.Apartment.IsAllocatable() {
		return nil, s.cancelLosingGroup(ctx, tx, group)
	}
	if group.Status != models.GroupStatusReady || group.MemberCount() != models.MaxGroupMembers {
		return nil, models.ErrGroupNotReady
	}

	if err := s.apartmentRepo.MarkBooked(ctx, lock); err != nil {
		return nil, err
	}

	bookedAt, err := s.groupRepo.MarkBooked(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}

	rivals, err := s.groupRepo.CancelActiveForApartment(ctx, tx, group.ApartmentID, group.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	group.Status = models.GroupStatusBooked
	group.BookedAt = &bookedAt

	s.logger.WithFields(logrus.Fields{
		"group_id":         group.ID,
		"apartment_id":     group.ApartmentID,
		"paying_tenant_id": payingTenantID,
		"rivals_cancelled": len(rivals),
	}).Info("Apartment booked by roommate group")

	publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
		Type:        models.EventGroupBooked,
		ApartmentID: group.ApartmentID,
		GroupID:     &group.ID,
		TenantID:    &payingTenantID,
		OccurredAt:  bookedAt,
	})
	s.publishCancellations(ctx, group.ApartmentID, rivals, CancelReasonRivalBooked)

	return group, nil
}

// cancelLosingGroup records the loss of a booking race. The cancellation is
// committed; the caller still receives ErrAlreadyBooked. A group the winner
// already cancelled is left as it is.
func (s *BookingCoordinatorService) cancelLosingGroup(ctx context.Context, tx *sqlx.Tx, group *models.RoommateGroup) error {
	if !group.Status.IsActive() {
		return models.ErrAlreadyBooked
	}
	if _, err := s.groupRepo.UpdateStatus(ctx, tx, group.ID, models.GroupStatusCancelled, models.ActiveGroupStatuses...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group cancellation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"group_id":     group.ID,
		"apartment_id": group.ApartmentID,
	}).Warn("Booking lost: apartment already booked, group cancelled")

	s.publishCancellations(ctx, group.ApartmentID, []uuid.UUID{group.ID}, CancelReasonApartmentTaken)
	return models.ErrAlreadyBooked
}

// BookSolo books an apartment for a single tenant inside the caller's
// transaction and cancels every active group for it. Returns the cancelled
// group ids, or ErrAlreadyBooked without writing.
func (s *BookingCoordinatorService) BookSolo(ctx context.Context, tx *sqlx.Tx, apartmentID uuid.UUID) ([]uuid.UUID, error) {
	lock, err := s.apartmentRepo.LockForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return nil, err
	}
	if err := s.apartmentRepo.MarkBooked(ctx, lock); err != nil {
		return nil, err
	}
	return s.groupRepo.CancelActiveForApartment(ctx, tx, apartmentID, uuid.Nil)
}

// CancelOrphanedGroups cancels active groups still attached to apartments
// that are already rented. Returns the number of groups cancelled.
func (s *BookingCoordinatorService) CancelOrphanedGroups(ctx context.Context) (int, error) {
	apartmentIDs, err := s.apartmentRepo.ListRentedWithActiveGroups(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, apartmentID := range apartmentIDs {
		cancelled, err := s.cancelGroupsForRented(ctx, apartmentID)
		if err != nil {
			return total, err
		}
		total += len(cancelled)
		s.publishCancellations(ctx, apartmentID, cancelled, CancelReasonOrphanedRenting)
	}
	return total, nil
}

func (s *BookingCoordinatorService) cancelGroupsForRented(ctx context.Context, apartmentID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.apartmentRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lock, err := s.apartmentRepo.LockForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return nil, err
	}
	// Vacated between the listing and the lock
	if lock.Apartment.IsAllocatable() {
		return nil, nil
	}

	cancelled, err := s.groupRepo.CancelActiveForApartment(ctx, tx, apartmentID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit orphan cancellation: %w", err)
	}
	return cancelled, nil
}

func (s *BookingCoordinatorService) publishCancellations(ctx context.Context, apartmentID uuid.UUID, groupIDs []uuid.UUID, reason string) {
	for i := range groupIDs {
		publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
			Type:        models.EventGroupCancelled,
			ApartmentID: apartmentID,
			GroupID:     &groupIDs[i],
			Reason:      reason,
		})
	}
}
