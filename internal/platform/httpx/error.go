package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

// reserved envelope keys that details cannot overwrite.
var reservedKeys = map[string]struct{}{
	"error":      {},
	"message":    {},
	"status":     {},
	"request_id": {},
	"trace_id":   {},
}

// Error is the JSON error envelope returned by the storefront API:
// {"error": code, "message": ..., "status": ...} plus optional detail keys such as
// "productId" or "available" for stock failures.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs an Error. A zero status maps to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithDetails merges details into the envelope. Reserved keys are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithDetail sets a single detail key.
func (e Error) WithDetail(key string, value any) Error {
	return e.WithDetails(map[string]any{key: value})
}

func (e Error) payload(ctx context.Context) map[string]any {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		payload[k] = v
	}
	payload["error"] = e.Code
	payload["message"] = e.Message
	payload["status"] = status
	if id := clean(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	if id := clean(requestctx.TraceID(ctx), 64); id != "" {
		payload["trace_id"] = id
	}
	return payload
}

// WriteError renders err as JSON. Error bodies are never cached since they may describe
// stock levels at a point in time.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, status, err.payload(ctx))
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

func clean(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}
