package observability

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

const defaultStringLimit = 256

// sanitizeString drops control characters and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds a chi route pattern for use as a log field or span name.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// MaskEmail keeps the first character of the local part and the domain, e.g. "a***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + sanitizeString(email[at:], 128)
}

// orderIDParam returns the {orderId} URL parameter once chi has routed the request.
func orderIDParam(r *http.Request) string {
	if r == nil {
		return ""
	}
	return sanitizeString(strings.TrimSpace(chi.URLParam(r, "orderId")), 64)
}
