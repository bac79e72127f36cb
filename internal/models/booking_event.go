package models

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the booking events exchange
const (
	EventGroupBooked      = "group.booked"
	EventGroupCancelled   = "group.cancelled"
	EventGroupCreated     = "group.created"
	EventGroupReady       = "group.ready"
	EventPaymentCompleted = "payment.completed"
	EventApartmentVacated = "apartment.vacated"

	// EventPaymentRefundRequired is emitted when a gateway confirmed a
	// payment for an apartment another tenant had already taken
	EventPaymentRefundRequired = "payment.refund_required"
)

// BookingEvent is the JSON body of every published booking event
type BookingEvent struct {
	Type          string     `json:"type"`
	ApartmentID   uuid.UUID  `json:"apartment_id"`
	GroupID       *uuid.UUID `json:"group_id,omitempty"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
