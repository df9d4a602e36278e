package auth

import "context"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
}

type identityContextKey struct{}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity set by the authenticator, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

// UserIDFromContext returns the authenticated user id, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.UserID
	}
	return ""
}
