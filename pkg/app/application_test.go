package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slotkeeper/internal/bookings/events"
	"slotkeeper/internal/bookings/handler"
	"slotkeeper/internal/bookings/repository"
	"slotkeeper/internal/bookings/service"
	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/client"
	"slotkeeper/pkg/clock"
	"slotkeeper/pkg/config"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"
)

const testSecret = "application-test-secret"

func newTestApplication(t *testing.T) (*Application, string) {
	t.Helper()

	cfg := config.FromEnv("bookings-test")
	cfg.StoreDriver = config.StoreMemory
	cfg.JWTSecret = testSecret
	cfg.Log = logger.Discard()
	cfg.Client = client.NewClient()

	clk := clock.NewManual(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore(time.Second)
	if err := store.CreateResource(context.Background(), &model.Resource{ID: "room-1", Name: "Room", OwnerID: "owner", CreatedAt: clk.Now()}); err != nil {
		t.Fatalf("seed resource: %v", err)
	}

	svc := service.NewBookingService(store, events.Nop(), clk, cfg.Log, service.Options{})
	verifier := auth.NewVerifier(testSecret, time.Hour, clk)

	a := NewApplication(cfg)
	a.SetApp(handler.NewBookingHandler(svc, cfg.Log), handler.NewHealthHandler(store, cfg.Log), verifier, nil)
	t.Cleanup(func() {
		a.idempotencyStore.Stop()
		a.rateLimiter.Stop()
	})

	token, err := verifier.Issue(auth.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return a, token
}

func TestApplication_HealthSkipsAuth(t *testing.T) {
	a, _ := newTestApplication(t)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, body = %s", path, rec.Code, rec.Body)
		}
	}
}

func TestApplication_APIRequiresAuth(t *testing.T) {
	a, _ := newTestApplication(t)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"AUTH_ERROR"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestApplication_CreateWithIdempotencyKey(t *testing.T) {
	a, token := newTestApplication(t)
	body := `{"resource_id":"room-1","start_at":"2026-03-02T09:00:00Z","end_at":"2026-03-02T10:00:00Z"}`

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "create-1")
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: status = %d, body = %s", first.Code, first.Body)
	}
	if first.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on response")
	}

	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("replayed create: status = %d, body = %s", second.Code, second.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replayed response")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body, second.Body)
	}
}

func TestApplication_RejectsNonJSONBody(t *testing.T) {
	a, token := newTestApplication(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader("resource_id=room-1"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}
