package handlers

import (
	"net/http"
	"strings"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/aloy/roommate-booking/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// VacateHandler handles tenants moving out
type VacateHandler struct {
	vacateService *services.VacateService
	auditService  *services.AuditService
	logger        *logrus.Logger
}

// NewVacateHandler creates a new VacateHandler
func NewVacateHandler(vacateService *services.VacateService, auditService *services.AuditService, logger *logrus.Logger) *VacateHandler {
	return &VacateHandler{
		vacateService: vacateService,
		auditService:  auditService,
		logger:        logger,
	}
}

// Vacate ends the caller's occupancy of an apartment
// @Summary Vacate apartment
// @Description Marks the active payment VACATED and makes the apartment available from vacate_date (YYYY-MM-DD, defaults to today)
// @Tags Vacate
// @Accept json
// @Produce json
// @Param request body models.VacateRequest true "Apartment and vacate date"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse "Invalid apartment id"
// @Failure 404 {object} ErrorResponse "No active booking for this apartment"
// @Security BearerAuth
// @Router /vacate [post]
func (h *VacateHandler) Vacate(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req models.VacateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	apartmentID, err := uuid.Parse(strings.TrimSpace(req.ApartmentID))
	if err != nil {
		respondBadRequest(c, "invalid apartment_id")
		return
	}

	date, err := h.vacateService.Vacate(c.Request.Context(), tenantID, apartmentID, req.VacateDate)
	if err != nil {
		respondError(c, h.logger, "vacate", err)
		return
	}

	vacateDate := date.Format(validator.DateLayout)
	recordAudit(c, h.auditService, &tenantID, services.AuditVacated, "apartment", apartmentID.String(), map[string]interface{}{
		"vacate_date": vacateDate,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Apartment vacated",
		"apartment_id": apartmentID,
		"vacate_date":  vacateDate,
	})
}
