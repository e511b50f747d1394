package auth

import "context"

type claimsContextKey struct{}

// ContextWithClaims attaches verified claims to ctx. Only the HTTP and gRPC
// edges use this; services receive claims as an explicit argument.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return c
}
