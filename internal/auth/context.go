// ABOUTME: Authentication context for tracking agent identity through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Identity holds the authenticated agent information extracted from a request.
// This is populated by the auth middleware and can be retrieved from context
// in handlers.
type Identity struct {
	AgentID int64
	Role    store.AgentRole
}

// IsSuperAdmin returns true if the agent carries the super_admin role.
func (i *Identity) IsSuperAdmin() bool {
	return i.Role == store.RoleSuperAdmin
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
