package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/auth"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// LocaleMiddleware negotiates the response language from Accept-Language.
func LocaleMiddleware(defaultLocale string) func(http.Handler) http.Handler {
	fallback := services.ResolveLocale(defaultLocale, "fr")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := services.ResolveLocale(r.Header.Get("Accept-Language"), fallback)
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
		})
	}
}

// requestLocale prefers an explicit Accept-Language, then the locale claim of the caller.
func requestLocale(r *http.Request) string {
	ctx := r.Context()
	if strings.TrimSpace(r.Header.Get("Accept-Language")) == "" {
		if identity, ok := auth.IdentityFromContext(ctx); ok && identity.Locale != "" {
			return services.ResolveLocale(identity.Locale, contextLocale(ctx))
		}
	}
	return contextLocale(ctx)
}

func contextLocale(ctx context.Context) string {
	if locale := requestctx.Locale(ctx); locale != "" {
		return locale
	}
	return "fr"
}
