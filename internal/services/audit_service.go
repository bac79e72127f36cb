package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aloy/roommate-booking/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Audit actions
const (
	AuditGroupCreated    = "group_created"
	AuditGroupJoined     = "group_joined"
	AuditGroupLeft       = "group_left"
	AuditGroupCancelled  = "group_cancelled"
	AuditGroupBooked     = "group_booked"
	AuditBookingRejected = "booking_rejected"
	AuditPaymentInitiate = "payment_initiated"
	AuditPaymentComplete = "payment_completed"
	AuditPaymentFailed   = "payment_failed"
	AuditVacated         = "apartment_vacated"
	AuditJoinRateLimited = "join_rate_limited"
)

// AuditService records booking events for later inspection
type AuditService struct {
	db      *sqlx.DB
	enabled bool
	logger  *logrus.Logger
}

// NewAuditService creates a new audit service. When disabled every call is a no-op.
func NewAuditService(db *sqlx.DB, enabled bool, logger *logrus.Logger) *AuditService {
	return &AuditService{
		db:      db,
		enabled: enabled,
		logger:  logger,
	}
}

// AuditEvent represents a booking event to be logged
type AuditEvent struct {
	UserID     *uuid.UUID             // nil for gateway callbacks
	Action     string                 // One of the Audit* constants
	EntityType string                 // group, payment, apartment
	EntityID   string                 // group id, transaction id or apartment id
	IPAddress  string                 // Client IP address
	UserAgent  string                 // Client user agent
	Details    map[string]interface{} // Additional details as JSONB
}

// Record writes the event. The request source and parsed device are
// derived from the user agent.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) error {
	if !s.enabled {
		return nil
	}

	details := event.Details
	if details == nil {
		details = make(map[string]interface{})
	}
	details["device_info"] = utils.ParseUserAgent(event.UserAgent)

	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO booking_audit_logs (user_id, action, entity_type, entity_id, source, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		event.UserID,
		event.Action,
		event.EntityType,
		event.EntityID,
		utils.RequestSource(event.UserAgent),
		event.IPAddress,
		event.UserAgent,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// SafeRecord records the event and logs, rather than returns, any failure
func (s *AuditService) SafeRecord(ctx context.Context, event AuditEvent) {
	if err := s.Record(ctx, event); err != nil {
		s.logger.WithError(err).WithField("action", event.Action).Error("Audit write failed")
	}
}
