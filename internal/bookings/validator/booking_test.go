package validator

import (
	"strings"
	"testing"
	"time"

	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"
)

func newValidator() *BookingValidator {
	return NewBookingValidator(logger.Discard(), 15*time.Minute)
}

func ptr(t time.Time) *time.Time { return &t }

func TestValidateCreate(t *testing.T) {
	v := newValidator()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		req        model.CreateBookingRequest
		wantFields []string
	}{
		{
			name: "valid",
			req:  model.CreateBookingRequest{ResourceID: "0b6c2a4e-7f2d-4a51-9a3c-1d2e3f405060", StartAt: ptr(start), EndAt: ptr(start.Add(time.Hour))},
		},
		{
			name:       "missing everything",
			req:        model.CreateBookingRequest{},
			wantFields: []string{"resource_id", "start_at", "end_at"},
		},
		{
			name:       "resource id with spaces",
			req:        model.CreateBookingRequest{ResourceID: "room 1", StartAt: ptr(start), EndAt: ptr(start)},
			wantFields: []string{"resource_id"},
		},
		{
			name:       "resource id too long",
			req:        model.CreateBookingRequest{ResourceID: strings.Repeat("a", 65), StartAt: ptr(start), EndAt: ptr(start)},
			wantFields: []string{"resource_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCreate(&tt.req)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr := apperrors.AsAppError(err)
			if appErr.Code != apperrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			for _, f := range tt.wantFields {
				if _, ok := appErr.Details[f]; !ok {
					t.Errorf("expected detail for %q, got %v", f, appErr.Details)
				}
			}
		})
	}
}

func TestValidateInterval(t *testing.T) {
	v := newValidator()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)

	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		wantMsg string
	}{
		{"equal bounds", start, start, MsgStartAfterEnd},
		{"reversed", start, start.Add(-time.Hour), MsgStartAfterEnd},
		{"ten minutes", start, start.Add(10 * time.Minute), MsgDurationTooShort},
		{"fifteen minutes accepted", start, start.Add(15 * time.Minute), ""},
		{"just under fifteen", start, start.Add(15*time.Minute - time.Millisecond), MsgDurationTooShort},
		{"past", now.Add(-time.Hour), now, MsgStartInPast},
		{"starts exactly now", now, now.Add(time.Hour), ""},
		{"reversed and past reports order first", now.Add(-time.Hour), now.Add(-2 * time.Hour), MsgStartAfterEnd},
		{"short and past reports duration first", now.Add(-time.Hour), now.Add(-55 * time.Minute), MsgDurationTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInterval(tt.start, tt.end, now)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr := apperrors.AsAppError(err)
			if appErr.Code != apperrors.CodeValidation {
				t.Fatalf("expected %s, got %s", apperrors.CodeValidation, appErr.Code)
			}
			if appErr.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, appErr.Message)
			}
		})
	}
}

func TestValidateInterval_MinimumDetail(t *testing.T) {
	v := newValidator()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appErr := apperrors.AsAppError(v.ValidateInterval(start, start.Add(5*time.Minute), start))
	if appErr.Details["min_duration_minutes"] != 15 {
		t.Errorf("expected min_duration_minutes=15, got %v", appErr.Details)
	}
}

func TestValidateQuery(t *testing.T) {
	v := newValidator()
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		query   model.BookingQuery
		wantMsg string
	}{
		{"empty", model.BookingQuery{}, ""},
		{"active", model.BookingQuery{Status: "active"}, ""},
		{"cancelled", model.BookingQuery{Status: "cancelled"}, ""},
		{"bad status", model.BookingQuery{Status: "pending"}, MsgInvalidStatus},
		{"uppercase status", model.BookingQuery{Status: "ACTIVE"}, MsgInvalidStatus},
		{"equal dates", model.BookingQuery{DateFrom: ptr(from), DateTo: ptr(from)}, ""},
		{"reversed dates", model.BookingQuery{DateFrom: ptr(from.Add(time.Hour)), DateTo: ptr(from)}, MsgDateOrder},
		{"reversed dates win over status", model.BookingQuery{DateFrom: ptr(from.Add(time.Hour)), DateTo: ptr(from), Status: "x"}, MsgDateOrder},
		{"bad resource", model.BookingQuery{ResourceID: "a b"}, MsgInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateQuery(&tt.query)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr := apperrors.AsAppError(err)
			if appErr.Code != apperrors.CodeValidation || appErr.Message != tt.wantMsg {
				t.Fatalf("expected %s %q, got %v", apperrors.CodeValidation, tt.wantMsg, err)
			}
		})
	}
}

func TestValidateQuery_StatusDetails(t *testing.T) {
	v := newValidator()
	appErr := apperrors.AsAppError(v.ValidateQuery(&model.BookingQuery{Status: "done"}))
	if appErr.Details["status"] != "active|cancelled" {
		t.Errorf("unexpected details %v", appErr.Details)
	}
}
