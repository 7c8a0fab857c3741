package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

const (
	roleClaim            = "role"
	localeClaim          = "locale"
	emailClaim           = "email"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into shopper and operator identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
	logger    Logger
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim reads roles from a custom claim other than "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each ID token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAuthLogger records rejected tokens.
func WithAuthLogger(logger Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every request.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:  verifier,
		roleClaim: roleClaim,
		timeout:   defaultVerifyTimeout,
		logger:    noopLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given, requires one of
// them. Tokens without a role claim belong to customers.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, status, code, message := a.authenticate(ctx, r.Header.Get("Authorization"))
			if identity != nil && len(required) > 0 && !identity.HasAnyRole(required...) {
				status, code, message = http.StatusForbidden, "insufficient_role", "identity does not have required role"
			}
			if status != 0 {
				fields := map[string]any{"reason": code, "path": r.URL.Path}
				if identity != nil {
					fields["user_id"] = identity.UID
				}
				a.log(ctx, "auth.firebase.rejected", fields)
				respondAuthError(ctx, w, status, code, message)
				return
			}

			requestctx.Annotate(ctx, "principal", identity.Kind())
			requestctx.Annotate(ctx, "user_id", identity.UID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// authenticate returns the identity, or a non-zero status describing the rejection.
func (a *Authenticator) authenticate(ctx context.Context, header string) (*Identity, int, string, string) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid"
	}
	if a == nil || a.verifier == nil {
		return nil, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable"
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
	if err == nil && (token == nil || strings.TrimSpace(token.UID) == "") {
		err = ErrTokenInvalid
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return nil, http.StatusUnauthorized, "token_expired", "firebase id token expired"
	case firebaseauth.IsIDTokenRevoked(err):
		return nil, http.StatusUnauthorized, "token_revoked", "firebase id token revoked"
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return nil, http.StatusUnauthorized, "invalid_token", "firebase id token invalid"
	default:
		return nil, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed"
	}

	identity := &Identity{
		UID:    token.UID,
		Email:  stringClaim(token.Claims, emailClaim),
		Locale: stringClaim(token.Claims, localeClaim),
		Roles:  claimRoles(token.Claims[a.roleClaim]),
		token:  token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity, 0, "", ""
}

func (a *Authenticator) log(ctx context.Context, event string, fields map[string]any) {
	if a != nil && a.logger != nil {
		a.logger(ctx, event, fields)
	}
}

// claimRoles accepts "admin", ["staff","admin"] or {"admin": true}.
func claimRoles(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				candidates = append(candidates, name)
			}
		}
	}

	roles := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
