package model

import (
	"fmt"
	"strings"
	"time"
)

// Resource is a bookable room or piece of equipment. Bookings reference it
// by id; its lifecycle is owned elsewhere.
type Resource struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	OwnerID     string    `json:"owner_id" bson:"owner_id"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	LockVersion int64     `json:"-" bson:"lock_version"`
}

// ParseResourceFlag reads "id:name:owner", the form used by seeding flags.
func ParseResourceFlag(raw string, createdAt time.Time) (*Resource, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("resource %q must look like id:name:owner", raw)
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, fmt.Errorf("resource %q has an empty field", raw)
		}
	}
	return &Resource{
		ID:        parts[0],
		Name:      parts[1],
		OwnerID:   parts[2],
		CreatedAt: createdAt.UTC(),
	}, nil
}

// ResourceFlags collects repeated -seed-resource flags.
type ResourceFlags []string

func (r *ResourceFlags) String() string { return strings.Join(*r, ",") }

func (r *ResourceFlags) Set(v string) error {
	*r = append(*r, v)
	return nil
}
