// Package correlation carries a request's correlation ID through context.Context
// so that work started outside the HTTP layer can be traced back to its request.
package correlation

import "context"

// Header is the HTTP header that carries the ID between services.
const Header = "X-Correlation-ID"

type contextKey struct{}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the ID stored in ctx, or "" when there is none.
func From(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}
