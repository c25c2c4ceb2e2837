package auth

import "context"

// Identity is the authenticated caller of a booking operation.
type Identity struct {
	ID      string
	IsAdmin bool
}

// CanActOnBehalfOf reports whether the caller may mutate a record owned by ownerID.
func (i Identity) CanActOnBehalfOf(ownerID string) bool {
	return i.IsAdmin || (i.ID != "" && i.ID == ownerID)
}

type contextKey string

const identityKey contextKey = "caller_identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
