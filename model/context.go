package model

import "context"

// RequestContext carries caller identity and tracing information for the
// lifetime of a request. Authentication is handled upstream; UserID is taken
// as asserted by the caller. It is immutable after construction.
type RequestContext struct {
	UserID        string
	CorrelationID string
	TraceID       string
	SpanID        string
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// UserIDFrom returns the caller's user id, or "" when the context carries no
// RequestContext.
func UserIDFrom(ctx context.Context) string {
	if rctx := RequestContextFrom(ctx); rctx != nil {
		return rctx.UserID
	}
	return ""
}
