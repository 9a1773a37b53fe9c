// Package requestctx carries per-request metadata below the HTTP layer, so domain code can
// stamp audit rows and logs without importing net/http.
package requestctx

import "context"

type Meta struct {
	RequestID string
	ClientIP  string
}

type metaKey struct{}

func With(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// From returns the zero Meta outside a request, e.g. for CLI runs.
func From(ctx context.Context) Meta {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	return meta
}

func RequestID(ctx context.Context) string {
	return From(ctx).RequestID
}
