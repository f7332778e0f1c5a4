package shared

import (
	"context"

	"github.com/meridian-lms/meridian-lms/internal/capability"
)

// Identity is the verified caller attached to a request after the gateway
// admits it. Role is the role at token issuance, not the persisted role.
type Identity struct {
	SubjectID string
	Role      capability.Role
}

type identityContextKey struct{}

// ContextWithIdentity stores the verified identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the verified identity from context. The second
// return is false on requests that never passed the gateway.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
