package handlers

import (
	"net/http"
	"strings"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PaymentHandler handles payment initiation, gateway confirmations and the
// browser redirect pages
type PaymentHandler struct {
	paymentService *services.PaymentService
	reconciler     *services.PaymentReconcilerService
	gateway        *services.GatewayService
	auditService   *services.AuditService
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	paymentService *services.PaymentService,
	reconciler *services.PaymentReconcilerService,
	gateway *services.GatewayService,
	auditService *services.AuditService,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		reconciler:     reconciler,
		gateway:        gateway,
		auditService:   auditService,
		logger:         logger,
	}
}

// ============================================================================
// INITIATE - POST /api/v1/payments/initiate
// ============================================================================

// InitiatePayment opens a PENDING payment and returns the redirect URL
// @Summary Initiate payment
// @Description Creates or reuses a PENDING payment for the caller and returns where to pay
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.InitiatePaymentRequest true "Payment request"
// @Success 200 {object} models.InitiatePaymentResponse
// @Failure 400 {object} ErrorResponse "Invalid amount or apartment id"
// @Failure 404 {object} ErrorResponse "Apartment not found"
// @Failure 409 {object} ErrorResponse "Apartment booked or payment already in progress"
// @Security BearerAuth
// @Router /payments/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	resp, err := h.paymentService.InitiatePayment(c.Request.Context(), tenantID, &req)
	if err != nil {
		respondError(c, h.logger, "initiate_payment", err)
		return
	}

	if !resp.Reused {
		recordAudit(c, h.auditService, &tenantID, services.AuditPaymentInitiate, "payment", resp.TransactionID, map[string]interface{}{
			"apartment_id": req.ApartmentID,
			"amount":       resp.Amount.StringFixed(2),
			"currency":     resp.Currency,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// GATEWAY CALLBACK - POST /api/v1/payments/callback (public)
// ============================================================================

// GatewayCallback receives the server-to-server confirmation. It always
// answers 200 so the gateway stops retrying; failures are logged.
func (h *PaymentHandler) GatewayCallback(c *gin.Context) {
	var cb services.GatewayCallback
	if err := c.ShouldBind(&cb); err != nil {
		h.logger.WithError(err).Warn("Unparseable gateway callback")
		h.acknowledge(c, false)
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"tran_id": cb.TransactionID,
		"status":  cb.Status,
	})

	if err := h.gateway.VerifyCallback(&cb); err != nil {
		log.WithError(err).Warn("Gateway callback rejected")
		h.acknowledge(c, false)
		return
	}

	ctx := c.Request.Context()
	if !h.gateway.IsPaymentSuccessful(&cb) {
		payment, err := h.paymentService.FailPayment(ctx, cb.TransactionID, "gateway_"+strings.ToLower(cb.Status))
		if err != nil {
			log.WithError(err).Error("Failed to record failed payment")
			h.acknowledge(c, false)
			return
		}
		if payment != nil {
			recordAudit(c, h.auditService, payment.TenantID, services.AuditPaymentFailed, "payment", payment.TransactionID, map[string]interface{}{
				"gateway_status": cb.Status,
			})
		}
		h.acknowledge(c, true)
		return
	}

	payment, outcome, err := h.reconciler.CompletePayment(ctx, cb.TransactionID)
	if err != nil {
		log.WithError(err).Error("Failed to complete payment from callback")
		h.acknowledge(c, false)
		return
	}
	if payment != nil && outcome == services.OutcomeCompleted {
		recordAudit(c, h.auditService, payment.TenantID, services.AuditPaymentComplete, "payment", payment.TransactionID, map[string]interface{}{
			"val_id": cb.ValidationID,
			"via":    "callback",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"acknowledged": true,
		"processed":    true,
		"outcome":      outcome,
	})
}

func (h *PaymentHandler) acknowledge(c *gin.Context, processed bool) {
	c.JSON(http.StatusOK, gin.H{
		"acknowledged": true,
		"processed":    processed,
	})
}

// ============================================================================
// REDIRECT PAGES - /api/v1/payments/success|fail|cancel (public)
// ============================================================================

// PaymentSuccess is where the tenant's browser lands after paying. It
// completes the payment too, since the callback may not have arrived yet.
// With a callback secret configured only a signed redirect completes; an
// unsigned one just reports the payment's current status.
func (h *PaymentHandler) PaymentSuccess(c *gin.Context) {
	transactionID := redirectTransactionID(c)

	if h.gateway.RequiresSignature() {
		var cb services.GatewayCallback
		if err := c.ShouldBind(&cb); err != nil || h.gateway.VerifyCallback(&cb) != nil || !h.gateway.IsPaymentSuccessful(&cb) {
			h.reportPaymentStatus(c, transactionID)
			return
		}
		transactionID = cb.TransactionID
	}

	payment, outcome, err := h.reconciler.CompletePayment(c.Request.Context(), transactionID)
	if err != nil {
		respondError(c, h.logger, "payment_success", err)
		return
	}
	if payment == nil {
		respondError(c, h.logger, "payment_success", models.ErrPaymentNotFound)
		return
	}

	if outcome == services.OutcomeCompleted {
		recordAudit(c, h.auditService, payment.TenantID, services.AuditPaymentComplete, "payment", payment.TransactionID, map[string]interface{}{
			"via": "redirect",
		})
	}

	switch outcome {
	case services.OutcomeCompleted, services.OutcomeAlreadyDone:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Payment completed",
			"outcome": outcome,
			"payment": payment,
		})
	case services.OutcomeRefundRequired:
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   models.ErrAlreadyBooked.Code,
			"message": "The apartment was booked by someone else before your payment arrived. Your payment will be refunded.",
			"outcome": outcome,
			"payment": payment,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Payment is no longer open",
			"outcome": outcome,
			"payment": payment,
		})
	}
}

// reportPaymentStatus answers a redirect that is not allowed to change state
func (h *PaymentHandler) reportPaymentStatus(c *gin.Context, transactionID string) {
	h.logger.WithField("tran_id", transactionID).Warn("Unsigned success redirect, reporting status only")

	payment, err := h.paymentService.GetPaymentByTransactionID(c.Request.Context(), transactionID)
	if err != nil {
		respondError(c, h.logger, "payment_success", err)
		return
	}

	completed := payment.Status == models.PaymentStatusCompleted
	message := "Payment is being confirmed"
	if completed {
		message = "Payment completed"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        completed,
		"message":        message,
		"transaction_id": payment.TransactionID,
		"status":         payment.Status,
	})
}

// PaymentFailed handles both the fail and the cancel redirect
func (h *PaymentHandler) PaymentFailed(c *gin.Context) {
	transactionID := redirectTransactionID(c)
	reason := "failed"
	if strings.HasSuffix(c.FullPath(), "/cancel") {
		reason = "cancelled"
	}

	payment, err := h.paymentService.FailPayment(c.Request.Context(), transactionID, reason)
	if err != nil {
		respondError(c, h.logger, "payment_"+reason, err)
		return
	}
	if payment == nil {
		respondError(c, h.logger, "payment_"+reason, models.ErrPaymentNotFound)
		return
	}

	if payment.Status == models.PaymentStatusCancelled {
		recordAudit(c, h.auditService, payment.TenantID, services.AuditPaymentFailed, "payment", payment.TransactionID, map[string]interface{}{
			"reason": reason,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        false,
		"message":        "Payment was " + reason,
		"transaction_id": payment.TransactionID,
		"status":         payment.Status,
	})
}

// GetMyBookingStatus handles GET /api/v1/tenants/me/booking-status
func (h *PaymentHandler) GetMyBookingStatus(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	status, err := h.paymentService.GetTenantBookingStatus(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, h.logger, "get_booking_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetPayment handles GET /api/v1/payments/transactions/:transaction_id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.GetPaymentByTransactionID(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		respondError(c, h.logger, "get_payment", err)
		return
	}
	if payment.TenantID == nil || *payment.TenantID != tenantID {
		respondError(c, h.logger, "get_payment", models.ErrPaymentNotFound)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// redirectTransactionID reads tran_id from the query string or a posted form
func redirectTransactionID(c *gin.Context) string {
	if id := c.Query("tran_id"); id != "" {
		return id
	}
	return c.PostForm("tran_id")
}
