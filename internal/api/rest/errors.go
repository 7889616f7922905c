package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	domainerrors "github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/repository"
)

// errorBody is the envelope returned on every non-2xx response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain and repository errors onto HTTP status codes.
// Anything unclassified becomes a 500 with the detail withheld.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred"
	var details map[string]interface{}

	var appErr *domainerrors.AppError
	switch {
	case errors.As(err, &appErr):
		status = appErr.StatusCode
		code = appErr.Code
		message = appErr.Message
		details = appErr.Details
	case repository.IsNotFound(err):
		status, code, message = http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"
	case repository.IsDuplicateKeyViolation(err):
		status, code, message = http.StatusConflict, "CONFLICT", "Resource already exists"
	case repository.IsForeignKeyViolation(err):
		status, code, message = http.StatusConflict, "CONFLICT", "Resource is referenced by other records"
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}

	if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
		span.RecordError(err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeValidationError(w http.ResponseWriter, fields map[string]interface{}) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    "VALIDATION_FAILED",
		Message: "Request validation failed",
		Details: fields,
	}})
}
