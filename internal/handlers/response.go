package handlers

import (
	"errors"
	"net/http"

	"github.com/aloy/roommate-booking/internal/middleware"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusForKind maps a typed booking failure to its HTTP status
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes the response for a service error. Typed booking
// failures keep their code and message; anything else is logged and hidden
// behind a generic 500.
func respondError(c *gin.Context, logger *logrus.Logger, operation string, err error) {
	var rateLimitErr *services.RateLimitError
	if errors.As(err, &rateLimitErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "RATE_LIMIT_EXCEEDED",
			"message":     rateLimitErr.Message,
			"retry_after": rateLimitErr.RetryAfter,
			"type":        rateLimitErr.Type,
		})
		return
	}

	if be, ok := models.AsBookingError(err); ok {
		c.JSON(statusForKind(be.Kind), ErrorResponse{
			Error:   be.Code,
			Message: be.Message,
		})
		return
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"operation": operation,
		"path":      c.Request.URL.Path,
	}).Error("Request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: "Something went wrong, please try again",
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   models.ErrInvalidRequest.Code,
		Message: message,
	})
}

// tenantFromContext returns the authenticated user id, answering 401 when
// the auth middleware did not run
func tenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "UNAUTHORIZED",
			Message: "user not authenticated",
		})
		return uuid.Nil, false
	}
	return userCtx.UserID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondBadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
