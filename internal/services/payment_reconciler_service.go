package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// CompletionOutcome describes what a CompletePayment call did
type CompletionOutcome string

const (
	OutcomeCompleted      CompletionOutcome = "completed"
	OutcomeAlreadyDone    CompletionOutcome = "already_completed"
	OutcomeUnknown        CompletionOutcome = "unknown_transaction"
	OutcomeIgnored        CompletionOutcome = "ignored"
	OutcomeRefundRequired CompletionOutcome = "refund_required"
)

// PaymentReconcilerService turns gateway confirmations, which may arrive
// several times and in any order, into exactly one completed payment and at
// most one booking
type PaymentReconcilerService struct {
	paymentRepo *database.PaymentRepository
	coordinator *BookingCoordinatorService
	publisher   events.Publisher
	logger      *logrus.Logger
}

// NewPaymentReconcilerService creates a new PaymentReconcilerService
func NewPaymentReconcilerService(
	paymentRepo *database.PaymentRepository,
	coordinator *BookingCoordinatorService,
	publisher events.Publisher,
	logger *logrus.Logger,
) *PaymentReconcilerService {
	return &PaymentReconcilerService{
		paymentRepo: paymentRepo,
		coordinator: coordinator,
		publisher:   publisher,
		logger:      logger,
	}
}

// NormalizeTransactionID trims the id and keeps the first non-empty segment
// of comma-joined duplicates such as "PAY1,PAY1" that some redirects produce
func NormalizeTransactionID(raw string) string {
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			return part
		}
	}
	return ""
}

// CompletePayment is idempotent. Unknown and closed transactions are logged
// no-ops. A PENDING payment becomes COMPLETED and, when it references an
// apartment, books it under the apartment lock. A PENDING payment whose
// apartment was meanwhile taken is cancelled and flagged for refund.
func (s *PaymentReconcilerService) CompletePayment(ctx context.Context, rawTransactionID string) (*models.Payment, CompletionOutcome, error) {
	transactionID := NormalizeTransactionID(rawTransactionID)
	log := s.logger.WithField("transaction_id", transactionID)

	if transactionID == "" {
		log.Warn("Payment confirmation without transaction id ignored")
		return nil, OutcomeUnknown, nil
	}

	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	payment, err := s.paymentRepo.LockByTransactionID(ctx, tx, transactionID)
	if err != nil {
		return nil, "", err
	}
	if payment == nil {
		log.Warn("Payment confirmation for unknown transaction ignored")
		return nil, OutcomeUnknown, nil
	}
	if payment.Status.IsTerminal() {
		log.WithField("status", payment.Status).Info("Payment confirmation for closed payment ignored")
		return payment, OutcomeIgnored, nil
	}

	alreadyCompleted := payment.Status == models.PaymentStatusCompleted

	var cancelledGroups []uuid.UUID
	if payment.ApartmentID != nil {
		cancelledGroups, err = s.coordinator.BookSolo(ctx, tx, *payment.ApartmentID)
		switch {
		case errors.Is(err, models.ErrAlreadyBooked) && alreadyCompleted:
			// Repeat delivery: this payment's booking already holds the apartment
			log.Info("Payment already completed, apartment already booked")
			return payment, OutcomeAlreadyDone, nil
		case errors.Is(err, models.ErrAlreadyBooked):
			return s.cancelForRefund(ctx, tx, payment)
		case err != nil:
			return nil, "", err
		}
	} else if alreadyCompleted {
		log.Info("Payment already completed")
		return payment, OutcomeAlreadyDone, nil
	}

	outcome := OutcomeAlreadyDone
	if !alreadyCompleted {
		updated, err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusCompleted, models.PaymentStatusPending)
		if err != nil {
			return nil, "", err
		}
		if !updated {
			return nil, "", fmt.Errorf("payment %s changed status while locked", transactionID)
		}
		payment.Status = models.PaymentStatusCompleted
		outcome = OutcomeCompleted
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit payment completion: %w", err)
	}

	log.WithFields(logrus.Fields{
		"payment_id":       payment.ID,
		"apartment_id":     payment.ApartmentID,
		"outcome":          outcome,
		"groups_cancelled": len(cancelledGroups),
	}).Info("Payment reconciled")

	if payment.ApartmentID != nil {
		if outcome == OutcomeCompleted {
			publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
				Type:          models.EventPaymentCompleted,
				ApartmentID:   *payment.ApartmentID,
				TenantID:      payment.TenantID,
				TransactionID: payment.TransactionID,
			})
		}
		s.coordinator.publishCancellations(ctx, *payment.ApartmentID, cancelledGroups, CancelReasonSoloBooked)
	}
	return payment, outcome, nil
}

// cancelForRefund closes a PENDING payment that lost its apartment to an
// earlier booking. The money was taken, so the event asks for a refund.
func (s *PaymentReconcilerService) cancelForRefund(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) (*models.Payment, CompletionOutcome, error) {
	if _, err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusCancelled, models.PaymentStatusPending); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit payment cancellation: %w", err)
	}
	payment.Status = models.PaymentStatusCancelled

	s.logger.WithFields(logrus.Fields{
		"transaction_id": payment.TransactionID,
		"payment_id":     payment.ID,
		"apartment_id":   payment.ApartmentID,
		"tenant_id":      payment.TenantID,
		"amount":         payment.Amount.StringFixed(2),
	}).Error("Payment confirmed for an apartment that is already booked, refund required")

	publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
		Type:          models.EventPaymentRefundRequired,
		ApartmentID:   *payment.ApartmentID,
		TenantID:      payment.TenantID,
		TransactionID: payment.TransactionID,
		Reason:        CancelReasonApartmentTaken,
	})
	return payment, OutcomeRefundRequired, nil
}
