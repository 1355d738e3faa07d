package auth

import "context"

// Principal is the authenticated caller resolved from a JWT.
type Principal struct {
	ID      uint
	IsAdmin bool
	ClassID *uint
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
