package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReconciler(t *testing.T) (*PaymentReconcilerService, sqlmock.Sqlmock, *recordingPublisher) {
	db, mock := setupMockDB(t)
	publisher := &recordingPublisher{}
	logger := testLogger()

	coordinator := NewBookingCoordinatorService(
		database.NewRoommateGroupRepository(db),
		database.NewApartmentRepository(db),
		publisher,
		logger,
	)
	reconciler := NewPaymentReconcilerService(database.NewPaymentRepository(db), coordinator, publisher, logger)
	return reconciler, mock, publisher
}

func expectLockPayment(mock sqlmock.Sqlmock, transactionID string, p *models.Payment) {
	rows := sqlmock.NewRows(paymentCols)
	if p != nil {
		rows = paymentRows(p)
	}
	mock.ExpectQuery(`FROM payments WHERE transaction_id = \$1 FOR UPDATE`).
		WithArgs(transactionID).
		WillReturnRows(rows)
}

func expectPaymentStatusUpdate(mock sqlmock.Sqlmock, id uuid.UUID, next, expected models.PaymentStatus) {
	mock.ExpectExec(`UPDATE payments SET status = \$2`).
		WithArgs(id, string(next), string(expected)).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestNormalizeTransactionID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"PAY123", "PAY123"},
		{"  PAY123  ", "PAY123"},
		{"PAY123,PAY123", "PAY123"},
		{",PAY123", "PAY123"},
		{" , ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTransactionID(tt.raw), "raw %q", tt.raw)
	}
}

func TestCompletePayment_PendingBooksApartment(t *testing.T) {
	reconciler, mock, publisher := setupReconciler(t)
	apartmentID := uuid.New()
	payment := newPayment(apartmentID, uuid.New(), models.PaymentStatusPending)
	rivalGroup := uuid.New()

	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, payment)
	expectLockApartment(mock, apartmentID, false)
	expectMarkApartmentBooked(mock, apartmentID)
	expectCancelActive(mock, apartmentID, uuid.Nil, rivalGroup)
	expectPaymentStatusUpdate(mock, payment.ID, models.PaymentStatusCompleted, models.PaymentStatusPending)
	mock.ExpectCommit()

	// Some redirects deliver the id twice, comma-joined
	completed, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID+","+payment.TransactionID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, models.PaymentStatusCompleted, completed.Status)
	assert.Equal(t, []string{models.EventPaymentCompleted, models.EventGroupCancelled}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePayment_RepeatDeliveryIsNoOp(t *testing.T) {
	reconciler, mock, publisher := setupReconciler(t)
	apartmentID := uuid.New()
	payment := newPayment(apartmentID, uuid.New(), models.PaymentStatusCompleted)

	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, payment)
	expectLockApartment(mock, apartmentID, true)
	mock.ExpectRollback()

	_, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, outcome)
	assert.Empty(t, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A payment that loses the apartment ends CANCELLED with a refund request
// rather than COMPLETED. Repeating the confirmation is still idempotent in
// the sense that matters: the apartment never gains a second COMPLETED
// payment, and the losing payment stays CANCELLED.
func TestCompletePayment_ApartmentTakenMeanwhile(t *testing.T) {
	reconciler, mock, publisher := setupReconciler(t)
	apartmentID := uuid.New()
	payment := newPayment(apartmentID, uuid.New(), models.PaymentStatusPending)

	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, payment)
	expectLockApartment(mock, apartmentID, true)
	expectPaymentStatusUpdate(mock, payment.ID, models.PaymentStatusCancelled, models.PaymentStatusPending)
	mock.ExpectCommit()

	result, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeRefundRequired, outcome)
	assert.Equal(t, models.PaymentStatusCancelled, result.Status)
	assert.Equal(t, []string{models.EventPaymentRefundRequired}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePayment_RepeatAfterRefundStaysCancelled(t *testing.T) {
	reconciler, mock, publisher := setupReconciler(t)
	apartmentID := uuid.New()
	payment := newPayment(apartmentID, uuid.New(), models.PaymentStatusPending)

	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, payment)
	expectLockApartment(mock, apartmentID, true)
	expectPaymentStatusUpdate(mock, payment.ID, models.PaymentStatusCancelled, models.PaymentStatusPending)
	mock.ExpectCommit()

	first, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)
	require.NoError(t, err)
	require.Equal(t, OutcomeRefundRequired, outcome)

	redelivered := *payment
	redelivered.Status = first.Status
	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, &redelivered)
	mock.ExpectRollback()

	second, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, models.PaymentStatusCancelled, second.Status)
	assert.NotEqual(t, models.PaymentStatusCompleted, second.Status)
	assert.Equal(t, []string{models.EventPaymentRefundRequired}, publisher.keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePayment_IgnoredConfirmations(t *testing.T) {
	t.Run("unknown transaction", func(t *testing.T) {
		reconciler, mock, publisher := setupReconciler(t)

		mock.ExpectBegin()
		expectLockPayment(mock, "PAYUNKNOWN", nil)
		mock.ExpectRollback()

		payment, outcome, err := reconciler.CompletePayment(context.Background(), "PAYUNKNOWN")

		require.NoError(t, err)
		assert.Nil(t, payment)
		assert.Equal(t, OutcomeUnknown, outcome)
		assert.Empty(t, publisher.keys())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty transaction id", func(t *testing.T) {
		reconciler, mock, _ := setupReconciler(t)

		_, outcome, err := reconciler.CompletePayment(context.Background(), " , ")

		require.NoError(t, err)
		assert.Equal(t, OutcomeUnknown, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	for _, status := range []models.PaymentStatus{models.PaymentStatusVacated, models.PaymentStatusCancelled} {
		t.Run("terminal "+string(status), func(t *testing.T) {
			reconciler, mock, publisher := setupReconciler(t)
			payment := newPayment(uuid.New(), uuid.New(), status)

			mock.ExpectBegin()
			expectLockPayment(mock, payment.TransactionID, payment)
			mock.ExpectRollback()

			_, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)

			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, outcome)
			assert.Empty(t, publisher.keys())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompletePayment_WithoutApartment(t *testing.T) {
	reconciler, mock, publisher := setupReconciler(t)
	tenantID := uuid.New()
	payment := &models.Payment{
		ID:            uuid.New(),
		TransactionID: "TXN1767225600000",
		TenantID:      &tenantID,
		Amount:        newPayment(uuid.New(), tenantID, models.PaymentStatusPending).Amount,
		Currency:      "BDT",
		Status:        models.PaymentStatusPending,
	}

	mock.ExpectBegin()
	expectLockPayment(mock, payment.TransactionID, payment)
	expectPaymentStatusUpdate(mock, payment.ID, models.PaymentStatusCompleted, models.PaymentStatusPending)
	mock.ExpectCommit()

	_, outcome, err := reconciler.CompletePayment(context.Background(), payment.TransactionID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Empty(t, publisher.keys(), "payments without an apartment book nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}
