package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys
type contextKey string

const identityContextKey contextKey = "identity"

// Identity is what the session guard established about a request.
type Identity struct {
	UserID         string
	Role           string
	SessionVersion int64
	DeviceKey      string
	CSRFToken      string // token the client must echo next
	Rotated        bool   // tokens were reissued while guarding this request
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the guarded identity or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// GetIdentity extracts the identity from the request context
func GetIdentity(r *http.Request) *Identity {
	return IdentityFromContext(r.Context())
}
