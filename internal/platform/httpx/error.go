package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/requestctx"
)

// Error is the canonical error returned by every handler.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Fields     []string
}

type errorEnvelope struct {
	Error     string   `json:"error"`
	Message   string   `json:"message"`
	Status    int      `json:"status"`
	Fields    []string `json:"fields,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	TraceID   string   `json:"trace_id,omitempty"`
}

// NewError constructs an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithFields lists the request fields that failed validation.
func (e Error) WithFields(fields ...string) Error {
	e.Fields = append([]string(nil), fields...)
	return e
}

// WithRetryAfter sets the Retry-After header written with the error.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// Unauthorized is returned when credentials are missing or invalid.
func Unauthorized(message string) Error {
	return NewError("unauthenticated", message, http.StatusUnauthorized)
}

// Forbidden is returned when the caller lacks the required role or ownership.
func Forbidden(message string) Error {
	return NewError("forbidden", message, http.StatusForbidden)
}

// BadRequest is returned for malformed or invalid payloads.
func BadRequest(code, message string) Error {
	return NewError(code, message, http.StatusBadRequest)
}

// Internal hides the underlying failure behind a generic message.
func Internal() Error {
	return NewError("internal_error", "an unexpected error occurred", http.StatusInternalServerError)
}

// WriteError writes the error envelope, stamping request and trace identifiers from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if err.RetryAfter > 0 {
		seconds := int(err.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	WriteJSON(w, status, errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		Fields:    err.Fields,
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
	})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
