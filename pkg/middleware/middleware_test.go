package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/clock"
	"slotkeeper/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not an error envelope: %q", rec.Body.String())
	}
	return body.Error.Code
}

func TestContentTypeValidation(t *testing.T) {
	h := ContentTypeValidation(logger.Discard())(okHandler())

	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantStatus  int
	}{
		{"json post", http.MethodPost, `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"form post", http.MethodPost, `a=b`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"missing header", http.MethodPost, `{}`, "", http.StatusUnsupportedMediaType},
		{"bodyless patch", http.MethodPatch, "", "", http.StatusOK},
		{"get", http.MethodGet, "", "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/bookings", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus != http.StatusOK && errorCode(t, rec) != "UNSUPPORTED_MEDIA_TYPE" {
				t.Errorf("unexpected body %s", rec.Body.String())
			}
		})
	}
}

func TestMaxRequestSize(t *testing.T) {
	h := MaxRequestSize(8)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"long body"}`)))
	if rec.Code != http.StatusRequestEntityTooLarge || errorCode(t, rec) != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected 413, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewVerifier("test-secret", time.Hour, clock.System{})
	token, err := verifier.Issue(auth.Identity{ID: "user-1", IsAdmin: true})
	if err != nil {
		t.Fatal(err)
	}

	var seen auth.Identity
	h := Authenticate(verifier, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen.ID != "user-1" || !seen.IsAdmin {
		t.Fatalf("expected identity user-1/admin, got %d %+v", rec.Code, seen)
	}

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "AUTH_ERROR" {
			t.Errorf("%q: expected 401 AUTH_ERROR, got %d %s", header, rec.Code, rec.Body.String())
		}
	}
}

func TestCallerRateLimiter_SlidingWindow(t *testing.T) {
	limiter := NewCallerRateLimiter(2, time.Minute, nil, logger.Discard())
	defer limiter.Stop()

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("user:a"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, retry := limiter.Allow("user:a")
	if ok || retry != time.Minute {
		t.Fatalf("expected rejection with 1m retry, got %v %v", ok, retry)
	}
	if ok, _ := limiter.Allow("user:b"); !ok {
		t.Error("other callers have their own window")
	}

	current = current.Add(time.Minute)
	if ok, _ := limiter.Allow("user:a"); !ok {
		t.Error("window should have slid")
	}
}

func TestCallerRateLimit_Middleware(t *testing.T) {
	limiter := NewCallerRateLimiter(1, time.Minute, nil, logger.Discard())
	defer limiter.Stop()
	h := CallerRateLimit(limiter)(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: "user-1"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestIdempotency_ReplaysPerCaller(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	var calls atomic.Int32
	h := Idempotency(store, "", logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"n":%d}`, n)
	}))

	send := func(caller, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(`{}`))
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: caller}))
		if key != "" {
			req.Header.Set(DefaultIdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("user-1", "k1")
	replay := send("user-1", "k1")
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
	if replay.Code != http.StatusCreated || replay.Body.String() != first.Body.String() {
		t.Errorf("replay differs: %d %q vs %q", replay.Code, replay.Body.String(), first.Body.String())
	}
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}

	send("user-2", "k1")
	if calls.Load() != 2 {
		t.Error("keys must be scoped by caller")
	}
	send("user-1", "")
	if calls.Load() != 3 {
		t.Error("requests without a key are never cached")
	}
}

func TestIdempotency_SkipsErrors(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	h := Idempotency(store, "", logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
	req.Header.Set(DefaultIdempotencyHeader, "k")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if _, found, _ := store.Get(context.Background(), scopedIdempotencyKey(req, DefaultIdempotencyHeader)); found {
		t.Error("error responses must not be cached")
	}
}

func idempotentPost(ctx context.Context, h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(`{}`)).WithContext(ctx)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: "user-1"}))
	req.Header.Set(DefaultIdempotencyHeader, key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ConcurrentDuplicateReplaysFirst(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h := Idempotency(store, "", logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprint(w, `{"data":{"id":"b-1"}}`)
	}))

	var (
		wg            sync.WaitGroup
		first, second *httptest.ResponseRecorder
		ctx           = context.Background()
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		first = idempotentPost(ctx, h, "k1")
	}()
	<-entered
	go func() {
		defer wg.Done()
		second = idempotentPost(ctx, h, "k1")
	}()
	time.Sleep(4 * idempotencyPollInterval)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("duplicate got %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker on the duplicate")
	}
}

func TestIdempotency_WaiterRunsWhenHolderFails(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h := Idempotency(store, "", logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	var (
		wg     sync.WaitGroup
		second *httptest.ResponseRecorder
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		idempotentPost(context.Background(), h, "k1")
	}()
	<-entered
	go func() {
		defer wg.Done()
		second = idempotentPost(context.Background(), h, "k1")
	}()
	time.Sleep(4 * idempotencyPollInterval)
	close(release)
	wg.Wait()

	if calls.Load() != 2 || second.Code != http.StatusCreated {
		t.Fatalf("expected the waiter to run after a failed holder, calls=%d code=%d", calls.Load(), second.Code)
	}
}

func TestIdempotency_WaiterGivesUpWithRequestContext(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	var calls atomic.Int32
	h := Idempotency(store, "", logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))

	held := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
	held = held.WithContext(auth.WithIdentity(held.Context(), auth.Identity{ID: "user-1"}))
	held.Header.Set(DefaultIdempotencyHeader, "k1")
	if ok, _ := store.Reserve(context.Background(), scopedIdempotencyKey(held, DefaultIdempotencyHeader), time.Minute); !ok {
		t.Fatal("reserve failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	rec := idempotentPost(ctx, h, "k1")

	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "LOCK_TIMEOUT" {
		t.Fatalf("expected 503 LOCK_TIMEOUT, got %d %s", rec.Code, rec.Body.String())
	}
	if calls.Load() != 0 {
		t.Error("handler must not run while the key is held")
	}
}

func TestInMemoryIdempotencyStore_Reserve(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()
	ctx := context.Background()

	if ok, _ := store.Reserve(ctx, "k", time.Minute); !ok {
		t.Fatal("first reservation must succeed")
	}
	if ok, _ := store.Reserve(ctx, "k", time.Minute); ok {
		t.Fatal("held key must not be reserved twice")
	}
	_ = store.Release(ctx, "k")
	if ok, _ := store.Reserve(ctx, "k", time.Minute); !ok {
		t.Fatal("released key must be reservable")
	}
	_ = store.Release(ctx, "k")

	if ok, _ := store.Reserve(ctx, "expired", -time.Second); !ok {
		t.Fatal("reservation failed")
	}
	if ok, _ := store.Reserve(ctx, "expired", time.Minute); !ok {
		t.Error("expired reservation must not block")
	}

	_ = store.Set(ctx, "done", &CachedResponse{StatusCode: http.StatusCreated})
	if ok, _ := store.Reserve(ctx, "done", time.Minute); ok {
		t.Error("stored response must not be reserved")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "INTERNAL_ERROR" {
		t.Fatalf("expected 500 INTERNAL_ERROR, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("panic value must not leak to clients")
	}
}

func TestRequestTimeout(t *testing.T) {
	h := RequestTimeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "REQUEST_TIMEOUT" {
		t.Fatalf("expected 503 REQUEST_TIMEOUT, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequestLogging_PropagatesRequestID(t *testing.T) {
	var seen string
	h := RequestLogging(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Errorf("expected request id to propagate, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}
}
