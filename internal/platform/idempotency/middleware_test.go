package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

const checkoutBody = `{"items":[{"productId":"prod_gloves","quantity":2}],"paymentMethod":"cash"}`

func checkoutRequest(t *testing.T, handler http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_MissingHeader(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))

	handlerCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	})

	rr := checkoutRequest(t, middleware(next), "", checkoutBody)

	if handlerCalled {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_OptionalKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithOptionalKey(), WithClock(func() time.Time { return fixedTime }))

	var calls int
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		if rr := checkoutRequest(t, handler, "", checkoutBody); rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every keyless request to reach the handler, got %d", calls)
	}
}

func TestMiddleware_RejectsOversizedKey(t *testing.T) {
	middleware := Middleware(NewMemoryStore())
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for an oversized key")
	}))

	rr := checkoutRequest(t, handler, string(bytes.Repeat([]byte("k"), maxKeyLength+1)), checkoutBody)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_invalid")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_01"}`))
	}))

	rr1 := checkoutRequest(t, handler, "abc-123", checkoutBody)
	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if rr1.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", rr1.Code)
	}

	rr2 := checkoutRequest(t, handler, "abc-123", checkoutBody)
	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if body := rr2.Body.String(); body != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), body)
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"uid-awa", "uid-moussa"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(checkoutBody))
		req.Header.Set("Idempotency-Key", "shared-key")
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201 for %s, got %d", uid, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected one handler call per caller, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	if rr := checkoutRequest(t, handler, "same-key", checkoutBody); rr.Code != http.StatusCreated {
		t.Fatalf("expected first request success, got %d", rr.Code)
	}

	rr2 := checkoutRequest(t, handler, "same-key", `{"items":[{"productId":"prod_gloves","quantity":5}]}`)
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	clock := fixedTime
	middleware := Middleware(store, WithClock(func() time.Time { return clock }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", bytes.NewBufferString(checkoutBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "pending-key")

	who := requester(req.Context())
	if who != guestRequester {
		t.Fatalf("expected guest requester, got %q", who)
	}
	fp := fingerprint(http.MethodPost, "/api/v1/orders/guest", who, []byte(checkoutBody))
	scoped := scopedKey("pending-key", who)
	if _, err := store.Reserve(req.Context(), scoped, fp, clock, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorFreesKeyForRetry(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if rr := checkoutRequest(t, handler, "retry-key", checkoutBody); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected first attempt to fail, got %d", rr.Code)
	}
	rr := checkoutRequest(t, handler, "retry-key", checkoutBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected retry to reach the handler, got %d", rr.Code)
	}
	if rr.Header().Get(replayHeaderName) != "" {
		t.Fatalf("retry must not be a replay")
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestMiddleware_ClientErrorIsReplayed(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))

	checkoutRequest(t, handler, "oos-key", checkoutBody)
	rr := checkoutRequest(t, handler, "oos-key", checkoutBody)
	if rr.Code != http.StatusConflict || calls != 1 {
		t.Fatalf("expected replayed 409 with one call, got %d after %d calls", rr.Code, calls)
	}
}

func TestMiddleware_ReplaysReorderedCheckoutBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	checkoutRequest(t, handler, "reorder-key", checkoutBody)
	reordered := `{ "paymentMethod": "cash", "items": [ {"quantity": 2, "productId": "prod_gloves"} ] }`
	rr := checkoutRequest(t, handler, "reorder-key", reordered)
	if rr.Code != http.StatusCreated || rr.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 201, got %d replay=%q", rr.Code, rr.Header().Get(replayHeaderName))
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}

	changed := `{"items":[{"productId":"prod_gloves","quantity":3}],"paymentMethod":"cash"}`
	rr = checkoutRequest(t, handler, "reorder-key", changed)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict for a different cart, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithMaxBodyBytes(16))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for an oversized body")
	}))

	rr := checkoutRequest(t, handler, "big-key", checkoutBody)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "payload_too_large")
}

func TestMiddleware_SaveFailureRollsBackReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}
	middleware := Middleware(store, WithLogger(logger), WithClock(func() time.Time { return fixedTime }))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	rr := checkoutRequest(t, middleware(next), "fail-key", checkoutBody)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
	if len(events) != 1 || events[0] != "idempotency.save.failed" {
		t.Fatalf("expected save failure event, got %v", events)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew, Record: Record{}}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
