package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/aloy/roommate-booking/pkg/validator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// VacateService ends a tenant's occupancy and returns the apartment to the pool
type VacateService struct {
	paymentRepo   *database.PaymentRepository
	apartmentRepo *database.ApartmentRepository
	publisher     events.Publisher
	logger        *logrus.Logger
	now           func() time.Time
}

// NewVacateService creates a new VacateService
func NewVacateService(
	paymentRepo *database.PaymentRepository,
	apartmentRepo *database.ApartmentRepository,
	publisher events.Publisher,
	logger *logrus.Logger,
) *VacateService {
	return &VacateService{
		paymentRepo:   paymentRepo,
		apartmentRepo: apartmentRepo,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

// Vacate closes the tenant's active payment for the apartment and makes the
// apartment available from the vacate date. An unparseable date falls back
// to today.
func (s *VacateService) Vacate(ctx context.Context, tenantID, apartmentID uuid.UUID, vacateDate string) (time.Time, error) {
	log := s.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"apartment_id": apartmentID,
	})

	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	payment, err := s.paymentRepo.LockActiveForTenantApartment(ctx, tx, tenantID, apartmentID)
	if err != nil {
		return time.Time{}, err
	}
	if payment == nil {
		return time.Time{}, models.ErrNoActiveBooking
	}

	date, fellBack := validator.ParseDateOr(vacateDate, s.now())
	if fellBack {
		log.WithField("vacate_date", vacateDate).Warn("Invalid vacate date, using today")
	}

	if err := s.paymentRepo.MarkVacated(ctx, tx, payment.ID, date); err != nil {
		return time.Time{}, err
	}

	lock, err := s.apartmentRepo.LockForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.apartmentRepo.MarkAvailable(ctx, lock, date); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit vacate: %w", err)
	}

	log.WithFields(logrus.Fields{
		"payment_id":  payment.ID,
		"vacate_date": date.Format(validator.DateLayout),
	}).Info("Apartment vacated")

	publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
		Type:          models.EventApartmentVacated,
		ApartmentID:   apartmentID,
		TenantID:      &tenantID,
		TransactionID: payment.TransactionID,
	})
	return date, nil
}
