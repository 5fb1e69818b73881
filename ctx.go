package principal

import "context"

var principalCtxKey = &contextKey{"principal"}
var embedCtxKey = &contextKey{"embed"}

type contextKey struct {
	name string
}

// WithContext sets the Principal in the given context.
func WithContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// FromContext finds the Principal in the context.
func FromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok
}

// WithEmbedContext sets the EmbedState in the given context.
func WithEmbedContext(ctx context.Context, state EmbedState) context.Context {
	return context.WithValue(ctx, embedCtxKey, state)
}

// EmbedFromContext finds the EmbedState in the context.
func EmbedFromContext(ctx context.Context) (EmbedState, bool) {
	raw, ok := ctx.Value(embedCtxKey).(EmbedState)
	return raw, ok
}
