package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTerminalState      = "TERMINAL_STATE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

// respondDomainError maps the domain error taxonomy onto HTTP statuses. The
// domain error's own code and details pass through so API consumers see the
// same vocabulary the logs use.
func respondDomainError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case apperrors.IsAlreadySigned(err):
		// Duplicate signature from the same attester is a no-op, not a failure
		status = http.StatusOK
	case apperrors.IsInvalidInput(err), apperrors.IsMalformedEvent(err):
		status = http.StatusBadRequest
	case apperrors.IsUnauthorized(err), apperrors.IsInvalidSignature(err), apperrors.IsUnknownAttester(err):
		status = http.StatusUnauthorized
	case apperrors.IsForbidden(err):
		status = http.StatusForbidden
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsConflict(err), apperrors.IsTerminalState(err):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimit):
		status = http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrServiceUnavailable), apperrors.IsConnectivity(err):
		status = http.StatusServiceUnavailable
	}

	code := apperrors.GetErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal causes stay in the logs, not in the response body
		code = ErrCodeInternalError
		message = "internal server error"
	}

	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: apperrors.GetErrorDetails(err),
	})
}

// respondBindingError turns gin binding and validator failures into a 400
// with per-field details
func respondBindingError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]interface{}, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "request validation failed", fields)
		return
	}
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload", nil)
}
