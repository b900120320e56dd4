// Package ctxutil provides shared context key accessors for the
// authenticated principal.
//
// The surrounding application authenticates requests (sessions, API keys —
// out of scope here) and attaches a Principal before invoking the pipeline;
// pipeline packages read it back without depending on the auth layer.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/model"
)

// Principal identifies the authenticated caller and their tenant role.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     model.Role
}

type contextKey string

const keyPrincipal contextKey = "principal"

// WithPrincipal returns a new context carrying the given principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFromContext extracts the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(Principal)
	return p, ok
}

// TenantIDFromContext extracts the tenant id, or uuid.Nil when absent.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.TenantID
	}
	return uuid.Nil
}
