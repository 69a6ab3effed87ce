// Package httpx provides HTTP response utilities shared by the handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/history"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/tfl"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Warnf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	RespondJSON(w, status, response)
}

// StatusFor maps a service error to its HTTP status: invalid requests are
// 400, an unreachable store or a loading cache is 503, anything else 500.
func StatusFor(err error) int {
	switch {
	case history.IsValidation(err):
		return http.StatusBadRequest
	case storage.IsUnavailable(err), errors.Is(err, tfl.ErrDetailsLoading):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError writes err with the status from StatusFor. Server
// errors are logged; their detail is not sent to the client.
func RespondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		zap.S().Errorf("Request failed: %v", err)
		RespondErrorString(w, status, "internal error")
		return
	}
	RespondError(w, status, err)
}
