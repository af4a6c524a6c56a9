// Package logctx carries the author/details log scope on a context.Context.
//
// A scope is entered by deriving a context with With; leaving the scope is
// simply going back to the parent context, which restores the outer values.
package logctx

import "context"

// Scope is the contextual metadata attached to records emitted under it.
type Scope struct {
	Author  string
	Details string
}

type scopeKey struct{}

// With returns a child context carrying s. Both fields are replaced:
// an empty Details clears details inherited from an outer scope.
func With(ctx context.Context, s Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// From returns the innermost scope on ctx, or the zero Scope.
func From(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
