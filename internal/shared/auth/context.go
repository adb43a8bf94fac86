package auth

import "context"

type ctxKey struct{}

// WithIdentity stores the authenticated identity on a request context so
// components below the HTTP layer (the blob token provider in particular)
// can recover it.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity, or "".
func IdentityFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
