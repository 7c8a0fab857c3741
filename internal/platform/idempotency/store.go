package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is how long a checkout response stays replayable.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates that a request has reserved the key but not yet persisted a response.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the response for the key has been stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means no existing reservation was found and the caller may continue processing.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a previous response was found and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is currently processing this key.
	ReservationStatePending
)

// Reservation encapsulates the result of reserving a key, including the stored record if available.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the stored state of one idempotency key. The same shape is written to Firestore
// documents and Redis values.
type Record struct {
	Key             string              `json:"key" firestore:"key"`
	Fingerprint     string              `json:"fingerprint" firestore:"fingerprint"`
	Status          Status              `json:"status" firestore:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty" firestore:"response_status"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty" firestore:"response_headers"`
	ResponseBody    []byte              `json:"responseBody,omitempty" firestore:"response_body"`
	CreatedAt       time.Time           `json:"createdAt" firestore:"created_at"`
	UpdatedAt       time.Time           `json:"updatedAt" firestore:"updated_at"`
	ExpiresAt       time.Time           `json:"expiresAt" firestore:"expires_at"`
}

// Expired reports whether the record may be replaced by a fresh reservation.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// reservation classifies a live record for a caller presenting fingerprint.
func (r Record) reservation(fingerprint string) (Reservation, error) {
	if r.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if r.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: r}, nil
	}
	return Reservation{State: ReservationStatePending, Record: r}, nil
}

// complete stores resp on the record and extends its lifetime.
func (r *Record) complete(resp Response, now time.Time, ttl time.Duration) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.Status = StatusCompleted
	r.ResponseStatus = resp.Status
	r.ResponseHeaders = sanitizeHeaders(resp.Headers)
	r.ResponseBody = nil
	if len(resp.Body) > 0 {
		r.ResponseBody = append([]byte(nil), resp.Body...)
	}
	r.UpdatedAt = now
	r.ExpiresAt = now.Add(ttl)
}

func newPendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Response represents the HTTP response that should be stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and responses. Keys arrive already scoped to the
// caller; a key reused with another fingerprint yields ErrFingerprintMismatch until it expires.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when an idempotency key is reused for a different checkout body.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// recordID hashes the scoped key so it is safe as a document id or Redis key suffix.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		filtered[canonical] = copied
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}

func headersFromRecord(values map[string][]string) http.Header {
	if len(values) == 0 {
		return http.Header{}
	}

	header := make(http.Header, len(values))
	for name, vals := range values {
		copied := make([]string, len(vals))
		copy(copied, vals)
		header[name] = copied
	}
	return header
}
