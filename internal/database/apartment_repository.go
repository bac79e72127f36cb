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

const apartmentColumns = `
	id, owner_id, title, address, district, monthly_rent, allowed_for,
	booked, status, available_from, created_at, updated_at`

// ApartmentRepository owns the booked/available state of apartments
type ApartmentRepository struct {
	db *sqlx.DB
}

// NewApartmentRepository creates a new ApartmentRepository
func NewApartmentRepository(db *sqlx.DB) *ApartmentRepository {
	return &ApartmentRepository{db: db}
}

// ApartmentLock is proof that the apartment row is locked FOR UPDATE inside
// tx. It is valid until tx commits or rolls back.
type ApartmentLock struct {
	tx        *sqlx.Tx
	Apartment models.Apartment
}

// BeginTx starts a transaction for lock-scoped work
func (r *ApartmentRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// GetByID returns an apartment without locking it
func (r *ApartmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Apartment, error) {
	var apartment models.Apartment
	query := `SELECT ` + apartmentColumns + ` FROM apartments WHERE id = $1`
	err := r.db.GetContext(ctx, &apartment, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get apartment: %w", err)
	}
	return &apartment, nil
}

// ============================================================================
// LOCK-SCOPED MUTATIONS
// ============================================================================

// LockForUpdate acquires the exclusive row lock on the apartment for the
// lifetime of tx. Blocks while another transaction holds it.
func (r *ApartmentRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*ApartmentLock, error) {
	lock := &ApartmentLock{tx: tx}
	query := `SELECT ` + apartmentColumns + ` FROM apartments WHERE id = $1 FOR UPDATE`
	err := tx.GetContext(ctx, &lock.Apartment, query, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrApartmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock apartment: %w", err)
	}
	return lock, nil
}

// MarkBooked flips an AVAILABLE apartment to RENTED. Returns
// models.ErrAlreadyBooked without writing when the locked row is taken.
func (r *ApartmentRepository) MarkBooked(ctx context.Context, lock *ApartmentLock) error {
	if !lock.Apartment.IsAllocatable() {
		return models.ErrAlreadyBooked
	}

	_, err := lock.tx.ExecContext(ctx, `
		UPDATE apartments
		SET booked = TRUE, status = $2, updated_at = NOW()
		WHERE id = $1`,
		lock.Apartment.ID, models.ApartmentStatusRented,
	)
	if err != nil {
		return fmt.Errorf("failed to mark apartment booked: %w", err)
	}

	lock.Apartment.Booked = true
	lock.Apartment.Status = models.ApartmentStatusRented
	return nil
}

// MarkAvailable returns the apartment to the allocatable pool from the given date
func (r *ApartmentRepository) MarkAvailable(ctx context.Context, lock *ApartmentLock, from time.Time) error {
	_, err := lock.tx.ExecContext(ctx, `
		UPDATE apartments
		SET booked = FALSE, status = $2, available_from = $3, updated_at = NOW()
		WHERE id = $1`,
		lock.Apartment.ID, models.ApartmentStatusAvailable, from,
	)
	if err != nil {
		return fmt.Errorf("failed to mark apartment available: %w", err)
	}

	lock.Apartment.Booked = false
	lock.Apartment.Status = models.ApartmentStatusAvailable
	lock.Apartment.AvailableFrom = from
	return nil
}

// ListRentedWithActiveGroups returns RENTED apartments that still have
// FORMING or READY groups attached
func (r *ApartmentRepository) ListRentedWithActiveGroups(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT a.id
		FROM apartments a
		JOIN roommate_groups g ON g.apartment_id = a.id
		WHERE a.booked = TRUE AND g.status IN ('FORMING', 'READY')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rented apartments with active groups: %w", err)
	}
	return ids, nil
}
