package model

import (
	"testing"
	"time"
)

func TestParseResourceFlag(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		want    Resource
		wantErr bool
	}{
		{name: "valid", raw: "room-1:Board Room:user-7", want: Resource{ID: "room-1", Name: "Board Room", OwnerID: "user-7", CreatedAt: now}},
		{name: "trims fields", raw: " room-2 : Lab : u1 ", want: Resource{ID: "room-2", Name: "Lab", OwnerID: "u1", CreatedAt: now}},
		{name: "owner keeps colons", raw: "r:n:team:a", want: Resource{ID: "r", Name: "n", OwnerID: "team:a", CreatedAt: now}},
		{name: "too few fields", raw: "room-1:Board Room", wantErr: true},
		{name: "empty name", raw: "room-1::u1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResourceFlag(tt.raw, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestResourceFlags_Set(t *testing.T) {
	var flags ResourceFlags
	_ = flags.Set("a:b:c")
	_ = flags.Set("d:e:f")
	if flags.String() != "a:b:c,d:e:f" {
		t.Errorf("String() = %q", flags.String())
	}
}
