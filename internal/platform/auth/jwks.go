package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSValidity      = 15 * time.Minute
	defaultJWKSFetchTimeout  = 5 * time.Second
	defaultJWKSUnknownKIDGap = 30 * time.Second
)

// JWKSCache holds the signing keys of the token issuer used by internal callers (Cloud
// Scheduler, Cloud Tasks, IAP). Keys are refetched when the document expires or when a
// token names an unknown kid, at most once per unknown-kid gap. Concurrent refreshes share
// one fetch.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	fetchTimeout  time.Duration
	fallbackTTL   time.Duration
	unknownKIDGap time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	expiry      time.Time
	lastFetched time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:           strings.TrimSpace(url),
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        noopLogger,
		now:           time.Now,
		fetchTimeout:  defaultJWKSFetchTimeout,
		fallbackTTL:   defaultJWKSValidity,
		unknownKIDGap: defaultJWKSUnknownKIDGap,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets a custom logger for JWKS operations.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSValidity sets how long keys are trusted when the response has no max-age.
func WithJWKSValidity(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fallbackTTL = d
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Keyfunc returns a jwt.Keyfunc restricted to RS256 tokens carrying a kid.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	key, found, expired, lastFetched := c.lookup(kid, now)
	if found && !expired {
		return key, nil
	}
	if !found && !expired && now.Sub(lastFetched) < c.unknownKIDGap {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, found, _, _ := c.lookup(kid, c.now()); found {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string, now time.Time) (key any, found, expired bool, lastFetched time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expired = len(c.keys) == 0 || !now.Before(c.expiry)
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, true, expired, c.lastFetched
	}
	return nil, false, expired, c.lastFetched
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.fallbackTTL
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}

	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.expiry = now.Add(validity)
	c.lastFetched = now
	c.mu.Unlock()

	c.logger(ctx, "auth.jwks.refreshed", map[string]any{"keys": len(keys), "validFor": validity.String()})
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
