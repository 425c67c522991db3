package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

var (
	requestValidatorOnce sync.Once
	requestValidator     *validator.Validate
)

func sharedValidator() *validator.Validate {
	requestValidatorOnce.Do(func() {
		requestValidator = validator.New(validator.WithRequiredStructEnabled())
		requestValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return requestValidator
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeRequest reads a JSON body into dst and runs struct validation. The returned
// httpx.Error is ready to be written when ok is false.
func decodeRequest(r *http.Request, limit int64, dst any) (httpx.Error, bool) {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge), false
		}
		return httpx.BadRequest("invalid_request", err.Error()), false
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return httpx.BadRequest("invalid_json", fmt.Sprintf("invalid JSON payload: %v", err)), false
	}
	if err := sharedValidator().Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fieldPath(fe.Namespace()))
			}
			return httpx.BadRequest("validation_failed", "request failed validation").WithFields(fields...), false
		}
		return httpx.BadRequest("invalid_request", err.Error()), false
	}
	return httpx.Error{}, true
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.AccountID) == "" {
		httpx.WriteError(r.Context(), w, httpx.Unauthorized("authentication required"))
		return nil, false
	}
	return identity, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	if !identity.IsAdmin() {
		httpx.WriteError(r.Context(), w, httpx.Forbidden("admin role required"))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}
