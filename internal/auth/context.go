package auth

import "context"

type claimsContextKey struct{}

// SetClaimsContext stores the requester claims on the context for
// downstream consumers.
func SetClaimsContext(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// GetClaimsFromContext retrieves the requester claims from the context.
func GetClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}
