package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

var errBodyTooLarge = errors.New("idempotency: request body exceeds limit")

// Middleware guards order-creating requests so a retried checkout replays the first
// outcome instead of placing a second order.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := defaultMiddlewareConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		return &guard{store: store, cfg: cfg, next: next}
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

// attempt is one guarded request after its key has been validated.
type attempt struct {
	key         string
	scoped      string
	requester   string
	fingerprint string
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, guarded := g.cfg.methods[r.Method]; !guarded {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "" && g.cfg.optional:
		g.next.ServeHTTP(w, r)
		return
	case key == "":
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case len(key) > maxKeyLength:
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := bufferBody(r, g.cfg.maxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		respondError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body is too large")
		return
	}
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		return
	}

	who := requester(ctx)
	a := attempt{
		key:         key,
		scoped:      scopedKey(key, who),
		requester:   who,
		fingerprint: fingerprint(r.Method, r.URL.Path, who, body),
	}
	requestctx.Annotate(ctx, "idempotency_key", key)

	reservation, err := g.store.Reserve(ctx, a.scoped, a.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.rejectReservation(ctx, w, a, err)
		return
	}
	switch reservation.State {
	case ReservationStateNew:
	case ReservationStateCompleted:
		requestctx.Annotate(ctx, "idempotent_replay", "true")
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	default:
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unexpected idempotency state")
		return
	}

	buffered := newBufferedResponse()
	g.next.ServeHTTP(buffered, r)
	g.settle(ctx, w, a, buffered)
}

// settle records the handler outcome. Server failures free the key so the shopper can
// retry; anything else is stored and replayed on later attempts.
func (g *guard) settle(ctx context.Context, w http.ResponseWriter, a attempt, buffered *bufferedResponse) {
	if buffered.Status() >= http.StatusInternalServerError {
		g.release(ctx, a)
		g.flush(ctx, w, a, buffered)
		return
	}

	response := buffered.response()
	if err := g.store.SaveResponse(ctx, a.scoped, a.fingerprint, response, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.cfg.logger(ctx, "idempotency.save.failed", map[string]any{
			"key":       a.key,
			"requester": a.requester,
			"status":    response.Status,
			"error":     err.Error(),
		})
		g.release(ctx, a)
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(ctx, w, a, buffered)
}

func (g *guard) release(ctx context.Context, a attempt) {
	if err := g.store.Release(ctx, a.scoped, a.fingerprint); err != nil {
		g.cfg.logger(ctx, "idempotency.release.failed", map[string]any{"key": a.key, "error": err.Error()})
	}
}

func (g *guard) flush(ctx context.Context, w http.ResponseWriter, a attempt, buffered *bufferedResponse) {
	if err := buffered.flush(w); err != nil {
		g.cfg.logger(ctx, "idempotency.flush.failed", map[string]any{"key": a.key, "error": err.Error()})
	}
}

func (g *guard) rejectReservation(ctx context.Context, w http.ResponseWriter, a attempt, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.cfg.logger(ctx, "idempotency.store.failed", map[string]any{"key": a.key, "error": err.Error()})
	respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

// bufferBody reads at most limit bytes and rewinds r.Body for the handler.
func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, record Record) {
	header := headersFromRecord(record.ResponseHeaders)
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	_ = writeResponse(w, header, status, record.ResponseBody)
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
