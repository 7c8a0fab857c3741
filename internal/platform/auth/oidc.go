package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

// Logger receives structured auth events, matching the service logger signature.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// callerClaims are the claims Google puts in service account and IAP identity tokens.
type callerClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// ServiceIdentity is the service account calling an internal order endpoint.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// OIDCValidator guards /internal routes with Google-signed identity tokens.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	callers map[string]struct{}
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{cache: cache, logger: noopLogger}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCAllowedCallers restricts accepted tokens to the given service account emails,
// which must be verified. An empty list accepts any caller that passes issuer and audience
// checks.
func WithOIDCAllowedCallers(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				continue
			}
			if v.callers == nil {
				v.callers = make(map[string]struct{})
			}
			v.callers[email] = struct{}{}
		}
	}
}

// RequireOIDC rejects requests without a valid token for audience from one of issuers.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	trusted := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			trusted = append(trusted, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(status int, code, message, reason string, fields map[string]any) {
				if fields == nil {
					fields = map[string]any{}
				}
				fields["reason"] = reason
				fields["path"] = r.URL.Path
				v.logger(ctx, "auth.oidc.rejected", fields)
				respondAuthError(ctx, w, status, code, message)
			}

			if audience == "" || len(trusted) == 0 || v == nil || v.cache == nil {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured", "not_configured", nil)
				return
			}

			raw, source := extractOIDCToken(r)
			if raw == "" {
				reject(http.StatusUnauthorized, "unauthenticated", "oidc token missing", "token_missing", nil)
				return
			}

			claims := &callerClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					reject(http.StatusServiceUnavailable, "verification_unavailable", "oidc keys unavailable", "jwks_unavailable", map[string]any{"error": err.Error()})
					return
				}
				reject(http.StatusUnauthorized, "invalid_token", "oidc token verification failed", "token_invalid", map[string]any{"error": err.Error()})
				return
			}

			if !issuerTrusted(claims, trusted) {
				reject(http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch", "issuer_mismatch", map[string]any{"issuer": claims.Issuer})
				return
			}
			if !claims.VerifyAudience(audience, true) {
				reject(http.StatusUnauthorized, "invalid_token", "oidc audience mismatch", "audience_mismatch", map[string]any{"expected": audience, "source": source})
				return
			}

			email := strings.ToLower(strings.TrimSpace(claims.Email))
			if len(v.callers) > 0 {
				if _, ok := v.callers[email]; !ok || !claims.EmailVerified {
					reject(http.StatusForbidden, "forbidden", "caller is not allowed", "caller_not_allowed", map[string]any{"email": email})
					return
				}
			}

			identity := &ServiceIdentity{
				Subject:  claims.Subject,
				Email:    email,
				Issuer:   claims.Issuer,
				Audience: audience,
			}
			requestctx.Annotate(ctx, "principal", "service")
			requestctx.Annotate(ctx, "user_id", identity.Subject)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func issuerTrusted(claims *callerClaims, trusted []string) bool {
	for _, issuer := range trusted {
		if claims.VerifyIssuer(issuer, true) {
			return true
		}
	}
	return false
}

func extractOIDCToken(r *http.Request) (token string, source string) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		if bearer, ok := bearerToken(authz); ok {
			return bearer, "authorization"
		}
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}
