package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/validation"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   true,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: c.GetString(requestIDKey),
	})
}

func respondError(c *gin.Context, status int, apiErr *APIError) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     apiErr,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: c.GetString(requestIDKey),
	})
}

// errorStatus maps a service error to an HTTP status and a stable code.
func errorStatus(err error) (int, *APIError) {
	apiErr := &APIError{Message: err.Error()}

	var verr *validation.Error
	var credits *shared.InsufficientCreditsError
	switch {
	case errors.As(err, &verr):
		apiErr.Code, apiErr.Message, apiErr.Fields = "validation_failed", "invalid input", verr.Fields
		return http.StatusBadRequest, apiErr
	case errors.As(err, &credits):
		apiErr.Code = "insufficient_credits"
		apiErr.Details = map[string]any{"balance": credits.Balance, "required": credits.Required}
		return http.StatusPaymentRequired, apiErr
	case errors.Is(err, shared.ErrNeedsReconciliation):
		apiErr.Code, apiErr.Message = "needs_reconciliation", "the operation was only partially applied and has been flagged for repair"
		return http.StatusInternalServerError, apiErr
	case shared.IsValidation(err):
		apiErr.Code = "validation_failed"
		return http.StatusBadRequest, apiErr
	case shared.IsNotFound(err):
		apiErr.Code = "not_found"
		return http.StatusNotFound, apiErr
	case shared.IsAlreadyExists(err):
		apiErr.Code = "already_exists"
		return http.StatusConflict, apiErr
	case shared.IsForbidden(err):
		apiErr.Code = "forbidden"
		return http.StatusForbidden, apiErr
	case errors.Is(err, shared.ErrUnauthorized):
		apiErr.Code = "unauthorized"
		return http.StatusUnauthorized, apiErr
	case shared.IsBusinessRule(err):
		apiErr.Code = "business_rule"
		return http.StatusUnprocessableEntity, apiErr
	case shared.IsRetryable(err):
		apiErr.Code = "retryable"
		return http.StatusServiceUnavailable, apiErr
	default:
		apiErr.Code, apiErr.Message = "internal", "internal server error"
		return http.StatusInternalServerError, apiErr
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, apiErr := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("request_id", c.GetString(requestIDKey)),
			logger.String("route", c.FullPath()),
			logger.Err(err),
		)
	}
	respondError(c, status, apiErr)
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, http.StatusBadRequest, &APIError{Code: "bad_request", Message: msg})
}
