package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const constraintActiveOccupancy = "uq_payments_active_occupancy"

const paymentColumns = `
	id, transaction_id, apartment_id, tenant_id, amount, currency, status,
	vacate_date, created_at, updated_at`

// PaymentRepository handles payment persistence
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// BeginTx starts a transaction for payment reconciliation
func (r *PaymentRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func getPayment(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q, &payment, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// ============================================================================
// READS
// ============================================================================

// GetByTransactionID returns a payment without locking it, nil if unknown
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	return getPayment(ctx, r.db, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

// GetActiveForTenant returns the tenant's current occupancy payment, nil if none
func (r *PaymentRepository) GetActiveForTenant(ctx context.Context, tenantID uuid.UUID) (*models.Payment, error) {
	return getPayment(ctx, r.db, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND status = 'COMPLETED' AND vacate_date IS NULL AND apartment_id IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, tenantID)
}

// GetActiveForApartment returns the occupancy payment of an apartment, nil if none
func (r *PaymentRepository) GetActiveForApartment(ctx context.Context, q sqlx.QueryerContext, apartmentID uuid.UUID) (*models.Payment, error) {
	return getPayment(ctx, q, `
		SELECT `+paymentColumns+` FROM payments
		WHERE apartment_id = $1 AND status = 'COMPLETED' AND vacate_date IS NULL`, apartmentID)
}

// GetLatestPendingForTenant returns the tenant's newest PENDING payment created after since
func (r *PaymentRepository) GetLatestPendingForTenant(ctx context.Context, q sqlx.QueryerContext, tenantID uuid.UUID, since time.Time) (*models.Payment, error) {
	return getPayment(ctx, q, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND status = 'PENDING' AND created_at > $2
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, since)
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

// LockByTransactionID locks the payment row FOR UPDATE, nil if unknown
func (r *PaymentRepository) LockByTransactionID(ctx context.Context, tx *sqlx.Tx, transactionID string) (*models.Payment, error) {
	return getPayment(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 FOR UPDATE`, transactionID)
}

// LockActiveForTenantApartment locks the occupancy payment of the pair, nil if none
func (r *PaymentRepository) LockActiveForTenantApartment(ctx context.Context, tx *sqlx.Tx, tenantID, apartmentID uuid.UUID) (*models.Payment, error) {
	return getPayment(ctx, tx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND apartment_id = $2 AND status = 'COMPLETED' AND vacate_date IS NULL
		FOR UPDATE`, tenantID, apartmentID)
}

// FindPendingForTenantApartment returns a PENDING payment of this tenant for the apartment
func (r *PaymentRepository) FindPendingForTenantApartment(ctx context.Context, tx *sqlx.Tx, tenantID, apartmentID uuid.UUID) (*models.Payment, error) {
	return getPayment(ctx, tx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND apartment_id = $2 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, apartmentID)
}

// Create inserts a payment. ID and timestamps are assigned here.
func (r *PaymentRepository) Create(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	now := time.Now()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, apartment_id, tenant_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		payment.ID, payment.TransactionID, payment.ApartmentID, payment.TenantID,
		payment.Amount, payment.Currency, payment.Status, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// UpdateStatus moves a payment to next if it is currently in expected.
// Returns false when no row matched.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, paymentID uuid.UUID, next models.PaymentStatus, expected models.PaymentStatus) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		paymentID, next, expected,
	)
	if err != nil {
		if IsUniqueViolation(err, constraintActiveOccupancy) {
			return false, models.ErrAlreadyBooked
		}
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkVacated closes the occupancy record
func (r *PaymentRepository) MarkVacated(ctx context.Context, tx *sqlx.Tx, paymentID uuid.UUID, vacateDate time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'VACATED', vacate_date = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'COMPLETED' AND vacate_date IS NULL`,
		paymentID, vacateDate,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment vacated: %w", err)
	}
	return nil
}

// CancelStalePending cancels PENDING payments created before cutoff and
// returns how many were cancelled
func (r *PaymentRepository) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = 'CANCELLED', updated_at = NOW()
		WHERE status = 'PENDING' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale payments: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
