package model

import "context"

type principalKey struct{}
type requestContextKey struct{}

// RequestContext carries per-request identifiers threaded through logging
// and responses.
type RequestContext struct {
	SubjectID     string
	CorrelationID string
	TraceID       string
}

// WithRequestContext attaches request identifiers to the context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom extracts the request context, or nil when none is set.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}

// WithPrincipal attaches the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal from the context, or returns nil for
// anonymous callers.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
