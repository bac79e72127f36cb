package handlers

import (
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/aloy/roommate-booking/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// recordAudit writes an audit event for the current request without
// failing it. Client IP and user agent come from the request.
func recordAudit(c *gin.Context, audit *services.AuditService, userID *uuid.UUID, action, entityType, entityID string, details map[string]interface{}) {
	if audit == nil {
		return
	}
	audit.SafeRecord(c.Request.Context(), services.AuditEvent{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  utils.GetRealIP(c),
		UserAgent:  utils.GetUserAgent(c),
		Details:    details,
	})
}
