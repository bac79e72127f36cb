package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentService creates PENDING payments for tenants and answers status
// queries. Completion lives in PaymentReconcilerService.
type PaymentService struct {
	paymentRepo   *database.PaymentRepository
	apartmentRepo *database.ApartmentRepository
	gateway       *GatewayService
	config        config.BookingConfig
	logger        *logrus.Logger
	now           func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	paymentRepo *database.PaymentRepository,
	apartmentRepo *database.ApartmentRepository,
	gateway *GatewayService,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		paymentRepo:   paymentRepo,
		apartmentRepo: apartmentRepo,
		gateway:       gateway,
		config:        cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// InitiatePayment opens a PENDING payment and returns where to send the
// tenant. A tenant that already rents an apartment, or started another
// payment inside the hold window, is refused. An existing PENDING payment
// for the same apartment is reused instead of creating a second one.
func (s *PaymentService) InitiatePayment(ctx context.Context, tenantID uuid.UUID, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidRequest.WithMessage("amount must be greater than zero")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	var apartmentID *uuid.UUID
	if req.ApartmentID != nil && strings.TrimSpace(*req.ApartmentID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*req.ApartmentID))
		if err != nil {
			return nil, models.ErrInvalidRequest.WithMessage("invalid apartment_id")
		}
		apartmentID = &id
	}

	active, err := s.paymentRepo.GetActiveForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, models.ErrPaymentInProgress.WithMessage("you already have an active apartment booking")
	}

	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if apartmentID != nil {
		lock, err := s.apartmentRepo.LockForUpdate(ctx, tx, *apartmentID)
		if err != nil {
			return nil, err
		}
		if !lock.Apartment.IsAllocatable() {
			return nil, models.ErrAlreadyBooked
		}

		occupant, err := s.paymentRepo.GetActiveForApartment(ctx, tx, *apartmentID)
		if err != nil {
			return nil, err
		}
		if occupant != nil {
			return nil, models.ErrAlreadyBooked.WithMessage("this apartment has already been paid for")
		}

		existing, err := s.paymentRepo.FindPendingForTenantApartment(ctx, tx, tenantID, *apartmentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.WithFields(logrus.Fields{
				"transaction_id": existing.TransactionID,
				"tenant_id":      tenantID,
				"apartment_id":   apartmentID,
			}).Info("Reusing pending payment")
			return s.response(existing, true), nil
		}
	}

	pending, err := s.paymentRepo.GetLatestPendingForTenant(ctx, tx, tenantID, s.now().Add(-s.config.PaymentHoldWindow))
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, models.ErrPaymentInProgress.WithMessage("you already have a payment in progress, finish it or try again later")
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		ApartmentID: apartmentID,
		TenantID:    &tenantID,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      models.PaymentStatusPending,
	}
	payment.TransactionID = s.transactionID(payment)

	if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"transaction_id": payment.TransactionID,
		"tenant_id":      tenantID,
		"apartment_id":   apartmentID,
		"amount":         payment.Amount.StringFixed(2),
		"currency":       payment.Currency,
	}).Info("Payment initiated")

	return s.response(payment, false), nil
}

// FailPayment cancels a PENDING payment after the tenant failed or
// abandoned checkout. Unknown and already closed payments are left alone.
func (s *PaymentService) FailPayment(ctx context.Context, rawTransactionID, reason string) (*models.Payment, error) {
	transactionID := NormalizeTransactionID(rawTransactionID)
	log := s.logger.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"reason":         reason,
	})
	if transactionID == "" {
		log.Warn("Payment failure without transaction id ignored")
		return nil, nil
	}

	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment, err := s.paymentRepo.LockByTransactionID(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		log.Warn("Payment failure for unknown transaction ignored")
		return nil, nil
	}
	if payment.Status != models.PaymentStatusPending {
		log.WithField("status", payment.Status).Info("Payment failure for non-pending payment ignored")
		return payment, nil
	}

	if _, err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusCancelled, models.PaymentStatusPending); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment failure: %w", err)
	}
	payment.Status = models.PaymentStatusCancelled

	log.WithField("payment_id", payment.ID).Info("Payment cancelled")
	return payment, nil
}

// GetTenantBookingStatus reports the tenant's current occupancy
func (s *PaymentService) GetTenantBookingStatus(ctx context.Context, tenantID uuid.UUID) (*models.TenantBookingStatus, error) {
	payment, err := s.paymentRepo.GetActiveForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return &models.TenantBookingStatus{HasBooking: false}, nil
	}
	return &models.TenantBookingStatus{
		HasBooking:    true,
		ApartmentID:   payment.ApartmentID,
		PaymentID:     &payment.ID,
		TransactionID: payment.TransactionID,
		Amount:        &payment.Amount,
	}, nil
}

// GetPaymentByTransactionID returns a payment or ErrPaymentNotFound
func (s *PaymentService) GetPaymentByTransactionID(ctx context.Context, rawTransactionID string) (*models.Payment, error) {
	transactionID := NormalizeTransactionID(rawTransactionID)
	if transactionID == "" {
		return nil, models.ErrPaymentNotFound
	}
	payment, err := s.paymentRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, models.ErrPaymentNotFound
	}
	return payment, nil
}

// transactionID is PAY + the compact payment id for apartment payments and
// TXN + unix millis otherwise
func (s *PaymentService) transactionID(payment *models.Payment) string {
	if payment.ApartmentID != nil {
		return "PAY" + strings.ToUpper(strings.ReplaceAll(payment.ID.String(), "-", ""))
	}
	return "TXN" + strconv.FormatInt(s.now().UnixMilli(), 10)
}

func (s *PaymentService) response(payment *models.Payment, reused bool) *models.InitiatePaymentResponse {
	return &models.InitiatePaymentResponse{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		RedirectURL:   s.gateway.RedirectURL(payment.TransactionID, payment.Amount, payment.Currency),
		Reused:        reused,
	}
}
