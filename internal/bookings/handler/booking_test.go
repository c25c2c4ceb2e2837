package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slotkeeper/internal/bookings/repository"
	"slotkeeper/internal/bookings/service"
	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/clock"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"

	"github.com/julienschmidt/httprouter"
)

var testNow = time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type bookingBody struct {
	Data model.Booking `json:"data"`
}

type listBody struct {
	Data       []model.Booking `json:"data"`
	Count      int64           `json:"count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

func newTestRouter(t *testing.T) *httprouter.Router {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	if err := store.CreateResource(context.Background(), &model.Resource{ID: "room-1", Name: "Room 1", CreatedAt: testNow}); err != nil {
		t.Fatal(err)
	}
	svc := service.NewBookingService(store, nil, clock.NewManual(testNow), logger.Discard(), service.Options{})

	router := httprouter.New()
	NewBookingHandler(svc, logger.Discard()).RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, target, body string, caller *auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestBookingHandler_CreateCancelFlow(t *testing.T) {
	router := newTestRouter(t)
	owner := &auth.Identity{ID: "user-1"}
	stranger := &auth.Identity{ID: "user-2"}

	rec := do(router, http.MethodPost, "/api/v1/bookings",
		`{"resource_id":"room-1","start_at":"2026-02-09T10:00:00Z","end_at":"2026-02-09T11:00:00Z"}`, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[bookingBody](t, rec).Data
	if created.Status != model.BookingStatusActive || created.UserID != "user-1" || created.ID == "" {
		t.Fatalf("unexpected booking %+v", created)
	}

	rec = do(router, http.MethodPost, "/api/v1/bookings",
		`{"resource_id":"room-1","start_at":"2026-02-09T10:30:00Z","end_at":"2026-02-09T11:30:00Z"}`, stranger)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error.Code != "BUSINESS_RULE_VIOLATION" {
		t.Errorf("unexpected error %+v", body.Error)
	}

	rec = do(router, http.MethodPatch, "/api/v1/bookings/"+created.ID+"/cancel", "", stranger)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = do(router, http.MethodPatch, "/api/v1/bookings/"+created.ID+"/cancel", "", owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cancelled := decode[bookingBody](t, rec).Data; cancelled.Status != model.BookingStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("unexpected cancelled booking %+v", cancelled)
	}

	rec = do(router, http.MethodGet, "/api/v1/bookings/"+created.ID, "", owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(router, http.MethodPatch, "/api/v1/bookings/"+created.ID+"/cancel", "", owner)
	if body := decode[errorBody](t, rec); rec.Code != http.StatusBadRequest || body.Error.Message != "Booking is already cancelled." {
		t.Errorf("expected already cancelled, got %d %+v", rec.Code, body.Error)
	}
}

func TestBookingHandler_CreateErrors(t *testing.T) {
	router := newTestRouter(t)
	caller := &auth.Identity{ID: "user-1"}

	tests := []struct {
		name       string
		body       string
		caller     *auth.Identity
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "no identity",
			body:       `{}`,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH_ERROR",
		},
		{
			name:       "malformed json",
			body:       `{"resource_id":`,
			caller:     caller,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantMsg:    "Invalid request body",
		},
		{
			name:       "bad datetime",
			body:       `{"resource_id":"room-1","start_at":"tomorrow","end_at":"2026-02-09T11:00:00Z"}`,
			caller:     caller,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantMsg:    "Invalid datetime format",
		},
		{
			name:       "too short",
			body:       `{"resource_id":"room-1","start_at":"2026-02-09T10:00:00Z","end_at":"2026-02-09T10:10:00Z"}`,
			caller:     caller,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantMsg:    "Booking duration is too short",
		},
		{
			name:       "unknown resource",
			body:       `{"resource_id":"room-9","start_at":"2026-02-09T10:00:00Z","end_at":"2026-02-09T11:00:00Z"}`,
			caller:     caller,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantMsg:    "Resource not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/api/v1/bookings", tt.body, tt.caller)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			body := decode[errorBody](t, rec)
			if body.Error.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, body.Error.Code)
			}
			if tt.wantMsg != "" && body.Error.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, body.Error.Message)
			}
		})
	}
}

func TestBookingHandler_GetUnknown(t *testing.T) {
	router := newTestRouter(t)
	rec := do(router, http.MethodGet, "/api/v1/bookings/not-a-uuid", "", &auth.Identity{ID: "user-1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error.Message != "Booking not found" {
		t.Errorf("unexpected message %q", body.Error.Message)
	}
}

type mockBookingService struct {
	service.BookingService
	listFunc func(ctx context.Context, q *model.BookingQuery, limit int, offset int64) ([]*model.Booking, int64, error)
}

func (m *mockBookingService) List(ctx context.Context, q *model.BookingQuery, limit int, offset int64) ([]*model.Booking, int64, error) {
	return m.listFunc(ctx, q, limit, offset)
}

func TestBookingHandler_ListParameters(t *testing.T) {
	var (
		gotQuery  *model.BookingQuery
		gotLimit  int
		gotOffset int64
		called    bool
	)
	mock := &mockBookingService{
		listFunc: func(_ context.Context, q *model.BookingQuery, limit int, offset int64) ([]*model.Booking, int64, error) {
			called = true
			gotQuery, gotLimit, gotOffset = q, limit, offset
			return []*model.Booking{{ID: "b-1"}}, 21, nil
		},
	}
	router := httprouter.New()
	NewBookingHandler(mock, logger.Discard()).RegisterRoutes(router)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantMsg    string
	}{
		{"defaults", "", http.StatusOK, ""},
		{"page not integer", "page=x", http.StatusBadRequest, "page and page_size must be integers"},
		{"page zero", "page=0", http.StatusBadRequest, "page must be >= 1"},
		{"page size too big", "page_size=51", http.StatusBadRequest, "page_size must be between 1 and 50"},
		{"bad date", "date_from=soon", http.StatusBadRequest, "Invalid datetime format"},
		{"offset overflows", "page=200000000000000000&page_size=50", http.StatusBadRequest, "page is out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			rec := do(router, http.MethodGet, "/api/v1/bookings?"+tt.query, "", &auth.Identity{ID: "u"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantMsg != "" {
				if body := decode[errorBody](t, rec); body.Error.Message != tt.wantMsg {
					t.Errorf("expected %q, got %q", tt.wantMsg, body.Error.Message)
				}
				if called {
					t.Error("service must not be called on invalid parameters")
				}
			}
		})
	}

	rec := do(router, http.MethodGet,
		"/api/v1/bookings?resource=room-1&status=active&date_from=2026-02-09T00:00:00Z&date_to=2026-02-10T00:00:00Z&page=3&page_size=5",
		"", &auth.Identity{ID: "u"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotQuery.ResourceID != "room-1" || gotQuery.Status != "active" || gotQuery.DateFrom == nil || gotQuery.DateTo == nil {
		t.Errorf("unexpected query %+v", gotQuery)
	}
	if gotLimit != 5 || gotOffset != 10 {
		t.Errorf("expected limit 5 offset 10, got %d %d", gotLimit, gotOffset)
	}

	body := decode[listBody](t, rec)
	if body.Count != 21 || body.Page != 3 || body.PageSize != 5 || body.TotalPages != 5 || len(body.Data) != 1 {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func TestBookingHandler_ListHugePageAgainstMemoryStore(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodGet, "/api/v1/bookings?page=200000000000000000&page_size=50", "", &auth.Identity{ID: "u"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[errorBody](t, rec); body.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("unexpected error %+v", body.Error)
	}

	rec = do(router, http.MethodGet, "/api/v1/bookings?page=1000&page_size=50", "", &auth.Identity{ID: "u"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a page past the end, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[listBody](t, rec); len(body.Data) != 0 || body.Count != 0 {
		t.Errorf("expected an empty page, got %+v", body)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{"health", "/health", errors.New("down"), http.StatusOK},
		{"ready", "/ready", nil, http.StatusOK},
		{"not ready", "/ready", errors.New("down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := httprouter.New()
			NewHealthHandler(fakePinger{err: tt.err}, logger.Discard()).RegisterRoutes(router)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
