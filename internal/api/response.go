package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

const genericServerError = "internal server error"

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes. Only caller
// mistakes are 4xx; every core failure is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an error response. Validation messages are returned to
// the caller; server errors are logged and replaced by a generic body.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status := DomainErrorToHTTP(err)
	if status < http.StatusInternalServerError {
		JSON(w, status, ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
		return
	}

	logging.GetLogger(r.Context()).Error("request failed",
		zap.String("code", domain.ErrorCode(err)),
		zap.Error(err))
	telemetry.CaptureError(r.Context(), err)
	Error(w, status, genericServerError)
}
