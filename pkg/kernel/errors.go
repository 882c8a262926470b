package kernel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/manthysbr/pharmaflow/internal/auth"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/services"
)

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"job not found"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the error envelope of every non-2xx answer.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

// handleError maps service errors to HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		se *domain.SchemaError
		de *domain.DispatchError
	)
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, services.ErrQueueFull):
		return newAPIError(http.StatusServiceUnavailable, "queue_full", err.Error(), nil)
	case errors.Is(err, services.ErrSchedulerStopped):
		return newAPIError(http.StatusServiceUnavailable, "shutting_down", err.Error(), nil)
	case domain.IsNotFound(err):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, services.ErrNotRetryable):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &se):
		return newAPIError(http.StatusUnprocessableEntity, "schema_error", err.Error(), map[string]any{"schema": se.Schema})
	case errors.As(err, &de):
		return newAPIError(http.StatusBadGateway, "dispatch_error", err.Error(), map[string]any{"worker": de.Worker})
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTaskMismatch), errors.Is(err, auth.ErrNotConfigured):
		return newAPIError(http.StatusForbidden, "forbidden", "invalid worker token", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
