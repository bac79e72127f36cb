package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the state of a payment record
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusVacated   PaymentStatus = "VACATED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED" // Abandoned at the gateway or expired
)

// IsTerminal reports whether the payment can no longer change
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusVacated || s == PaymentStatusCancelled
}

// Payment records money moving for an apartment. A COMPLETED payment with no
// vacate date is the active occupancy record for its apartment.
type Payment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	ApartmentID   *uuid.UUID      `json:"apartment_id,omitempty" db:"apartment_id"`
	TenantID      *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	Status        PaymentStatus   `json:"status" db:"status"`
	VacateDate    *time.Time      `json:"vacate_date,omitempty" db:"vacate_date"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// IsActiveOccupancy reports whether this payment currently holds its apartment
func (p *Payment) IsActiveOccupancy() bool {
	return p.Status == PaymentStatusCompleted && p.VacateDate == nil && p.ApartmentID != nil
}

// InitiatePaymentRequest is the body for POST /payments/initiate
type InitiatePaymentRequest struct {
	ApartmentID *string         `json:"apartment_id,omitempty"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency,omitempty"`
}

// InitiatePaymentResponse tells the client where to send the tenant next
type InitiatePaymentResponse struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RedirectURL   string          `json:"redirect_url"`
	Reused        bool            `json:"reused"`
}

// TenantBookingStatus is the tenant's active occupancy, if any
type TenantBookingStatus struct {
	HasBooking    bool             `json:"has_booking"`
	ApartmentID   *uuid.UUID       `json:"apartment_id,omitempty"`
	PaymentID     *uuid.UUID       `json:"payment_id,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// VacateRequest is the body for POST /vacate
type VacateRequest struct {
	ApartmentID string `json:"apartment_id" binding:"required"`
	VacateDate  string `json:"vacate_date"`
}
