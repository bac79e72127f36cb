package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/aloy/roommate-booking/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RoommateGroupHandler handles roommate group formation and group booking
type RoommateGroupHandler struct {
	groupService *services.RoommateGroupService
	coordinator  *services.BookingCoordinatorService
	auditService *services.AuditService
	logger       *logrus.Logger
}

// NewRoommateGroupHandler creates a new RoommateGroupHandler
func NewRoommateGroupHandler(
	groupService *services.RoommateGroupService,
	coordinator *services.BookingCoordinatorService,
	auditService *services.AuditService,
	logger *logrus.Logger,
) *RoommateGroupHandler {
	return &RoommateGroupHandler{
		groupService: groupService,
		coordinator:  coordinator,
		auditService: auditService,
		logger:       logger,
	}
}

// ============================================================================
// CREATE GROUP - POST /api/v1/groups
// ============================================================================

// CreateGroup opens a new roommate group for an apartment
// @Summary Create roommate group
// @Description Creates a FORMING group with the caller as first member and returns its invite code
// @Tags Roommate Groups
// @Accept json
// @Produce json
// @Param request body models.CreateGroupRequest true "Apartment to group for"
// @Success 201 {object} models.RoommateGroup
// @Failure 400 {object} ErrorResponse "Invalid request or apartment does not allow groups"
// @Failure 404 {object} ErrorResponse "Apartment not found"
// @Failure 409 {object} ErrorResponse "Apartment booked or caller already in a group"
// @Security BearerAuth
// @Router /groups [post]
func (h *RoommateGroupHandler) CreateGroup(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	apartmentID, err := uuid.Parse(strings.TrimSpace(req.ApartmentID))
	if err != nil {
		respondBadRequest(c, "invalid apartment_id")
		return
	}

	group, err := h.groupService.CreateGroup(c.Request.Context(), apartmentID, tenantID)
	if err != nil {
		respondError(c, h.logger, "create_group", err)
		return
	}

	recordAudit(c, h.auditService, &tenantID, services.AuditGroupCreated, "group", group.ID.String(), map[string]interface{}{
		"apartment_id": apartmentID,
		"invite_code":  group.InviteCode,
	})

	c.JSON(http.StatusCreated, group)
}

// ============================================================================
// JOIN GROUP - POST /api/v1/groups/join
// ============================================================================

// JoinGroup adds the caller to the group behind an invite code
// @Summary Join roommate group
// @Tags Roommate Groups
// @Accept json
// @Produce json
// @Param request body models.JoinGroupRequest true "Invite code"
// @Success 200 {object} models.RoommateGroup
// @Failure 400 {object} ErrorResponse "Malformed invite code"
// @Failure 404 {object} ErrorResponse "Unknown invite code"
// @Failure 409 {object} ErrorResponse "Group full, not forming, or caller already in a group"
// @Failure 429 {object} map[string]interface{} "Too many join attempts"
// @Security BearerAuth
// @Router /groups/join [post]
func (h *RoommateGroupHandler) JoinGroup(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req models.JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	group, err := h.groupService.JoinGroup(c.Request.Context(), req.InviteCode, tenantID, utils.GetRealIP(c))
	if err != nil {
		var rateLimitErr *services.RateLimitError
		if errors.As(err, &rateLimitErr) {
			recordAudit(c, h.auditService, &tenantID, services.AuditJoinRateLimited, "group", "", map[string]interface{}{
				"limit_type":  rateLimitErr.Type,
				"retry_after": rateLimitErr.RetryAfter,
			})
		}
		respondError(c, h.logger, "join_group", err)
		return
	}

	recordAudit(c, h.auditService, &tenantID, services.AuditGroupJoined, "group", group.ID.String(), map[string]interface{}{
		"member_count": group.MemberCount(),
		"status":       group.Status,
	})

	c.JSON(http.StatusOK, group)
}

// LeaveGroup handles POST /api/v1/groups/:id/leave
func (h *RoommateGroupHandler) LeaveGroup(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	groupID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.groupService.LeaveGroup(c.Request.Context(), groupID, tenantID); err != nil {
		respondError(c, h.logger, "leave_group", err)
		return
	}

	recordAudit(c, h.auditService, &tenantID, services.AuditGroupLeft, "group", groupID.String(), nil)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "You have left the group",
	})
}

// CancelGroup handles POST /api/v1/groups/:id/cancel
func (h *RoommateGroupHandler) CancelGroup(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	groupID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	group, err := h.groupService.CancelGroup(c.Request.Context(), groupID, tenantID)
	if err != nil {
		respondError(c, h.logger, "cancel_group", err)
		return
	}

	recordAudit(c, h.auditService, &tenantID, services.AuditGroupCancelled, "group", groupID.String(), nil)

	c.JSON(http.StatusOK, group)
}

// ============================================================================
// BOOK APARTMENT - POST /api/v1/groups/:id/book
// ============================================================================

// BookApartment books the apartment for a READY group
// @Summary Book apartment as a group
// @Description Any member of a READY 4-member group may book. Competing groups are cancelled.
// @Tags Roommate Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} models.RoommateGroup
// @Failure 404 {object} ErrorResponse "Group not found"
// @Failure 409 {object} ErrorResponse "Group not ready or apartment already booked"
// @Security BearerAuth
// @Router /groups/{id}/book [post]
func (h *RoommateGroupHandler) BookApartment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	groupID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	group, err := h.coordinator.BookApartment(c.Request.Context(), groupID, tenantID)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyBooked) {
			recordAudit(c, h.auditService, &tenantID, services.AuditBookingRejected, "group", groupID.String(), map[string]interface{}{
				"reason": services.CancelReasonApartmentTaken,
			})
		}
		respondError(c, h.logger, "book_apartment", err)
		return
	}

	recordAudit(c, h.auditService, &tenantID, services.AuditGroupBooked, "group", groupID.String(), map[string]interface{}{
		"apartment_id": group.ApartmentID,
	})

	c.JSON(http.StatusOK, group)
}

// ============================================================================
// QUERIES
// ============================================================================

// GetGroup handles GET /api/v1/groups/:id
func (h *RoommateGroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	group, err := h.groupService.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		respondError(c, h.logger, "get_group", err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// GetGroupByInviteCode handles GET /api/v1/groups/invite/:code
func (h *RoommateGroupHandler) GetGroupByInviteCode(c *gin.Context) {
	group, err := h.groupService.GetGroupByInviteCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, "get_group_by_invite_code", err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// ListApartmentGroups handles GET /api/v1/apartments/:id/groups?status=FORMING,READY
func (h *RoommateGroupHandler) ListApartmentGroups(c *gin.Context) {
	apartmentID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var statuses []models.GroupStatus
	if raw := c.Query("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, valid := models.ParseGroupStatus(value)
			if !valid {
				respondBadRequest(c, "invalid status: "+value)
				return
			}
			statuses = append(statuses, status)
		}
	}

	groups, err := h.groupService.ListGroupsForApartment(c.Request.Context(), apartmentID, statuses...)
	if err != nil {
		respondError(c, h.logger, "list_apartment_groups", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetMyGroupStatus handles GET /api/v1/tenants/me/group-status
func (h *RoommateGroupHandler) GetMyGroupStatus(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	status, err := h.groupService.GetTenantGroupStatus(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, h.logger, "get_group_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
