package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/gin-gonic/gin"
)

const (
	ErrorCodeValidation       = "validation_error"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeUnauthorized     = "unauthorized"
	ErrorCodeForbidden        = "forbidden"
	ErrorCodeUpstream         = "upstream_error"
	ErrorCodeMethodNotAllowed = "method_not_allowed"
	ErrorCodeInternal         = "internal_error"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// errorStatus maps a service error to its HTTP status and default code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrUnauthenticated),
		errors.Is(err, common.ErrInvalidKey),
		errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, ErrorCodeUnauthorized
	case errors.Is(err, common.ErrPermissionDenied):
		return http.StatusForbidden, ErrorCodeForbidden
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, ErrorCodeValidation
	case errors.Is(err, common.ErrLimitExceeded):
		return http.StatusBadRequest, "limit_exceeded"
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, ErrorCodeNotFound
	case errors.Is(err, common.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed
	case errors.Is(err, common.ErrUpstream):
		return http.StatusBadGateway, ErrorCodeUpstream
	default:
		return http.StatusInternalServerError, ErrorCodeInternal
	}
}

func JSONError(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, gin.H{
		"error": ErrorResponse{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func AbortJSONError(c *gin.Context, status int, code, message string, details any) {
	JSONError(c, status, code, message, details)
	c.Abort()
}

// abortWithError writes err in the error envelope. An APIError contributes
// its own code, message and details; internal errors never leak their text.
func (h *handlers) abortWithError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	var details any

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			code = apiErr.Code
		}
		if apiErr.Message != "" {
			message = apiErr.Message
		}
		details = apiErr.Details
	}

	if status == http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		message = "internal server error"
	}

	AbortJSONError(c, status, code, message, details)
}
