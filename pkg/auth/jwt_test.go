package auth

import (
	"testing"
	"time"

	"slotkeeper/pkg/clock"
	apperrors "slotkeeper/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifier_RoundTrip(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	v := NewVerifier("secret", time.Hour, clk)

	token, err := v.Issue(Identity{ID: "user-1", IsAdmin: true})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := v.VerifyHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("VerifyHeader() error = %v", err)
	}
	if id.ID != "user-1" || !id.IsAdmin {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestVerifier_Failures(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	v := NewVerifier("secret", time.Hour, clk)
	other := NewVerifier("other-secret", time.Hour, clk)

	valid, _ := v.Issue(Identity{ID: "user-1"})
	foreign, _ := other.Issue(Identity{ID: "user-1"})
	noSub, _ := v.Issue(Identity{})

	expiredClock := clock.NewManual(clk.Now().Add(-2 * time.Hour))
	expired, _ := NewVerifier("secret", time.Hour, expiredClock).Issue(Identity{ID: "user-1"})

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", MsgMissingCredentials},
		{"wrong scheme", "Token " + valid, MsgInvalidHeader},
		{"bearer without token", "Bearer", MsgInvalidHeader},
		{"extra parts", "Bearer a b", MsgInvalidHeader},
		{"bad signature", "Bearer " + foreign, MsgInvalidToken},
		{"garbage", "Bearer not-a-jwt", MsgInvalidToken},
		{"expired", "Bearer " + expired, MsgTokenExpired},
		{"missing sub", "Bearer " + noSub, MsgMissingSubject},
		{"alg none", "Bearer " + noneAlg, MsgInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyHeader(tt.header)
			if err == nil {
				t.Fatalf("expected error")
			}
			appErr := apperrors.AsAppError(err)
			if appErr.Code != apperrors.CodeAuth {
				t.Errorf("expected code %s, got %s", apperrors.CodeAuth, appErr.Code)
			}
			if appErr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, appErr.Message)
			}
		})
	}
}

func TestIdentity_CanActOnBehalfOf(t *testing.T) {
	tests := []struct {
		name  string
		id    Identity
		owner string
		want  bool
	}{
		{"owner", Identity{ID: "u1"}, "u1", true},
		{"stranger", Identity{ID: "u2"}, "u1", false},
		{"admin", Identity{ID: "admin", IsAdmin: true}, "u1", true},
		{"anonymous", Identity{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.CanActOnBehalfOf(tt.owner); got != tt.want {
				t.Errorf("CanActOnBehalfOf() = %v, want %v", got, tt.want)
			}
		})
	}
}
