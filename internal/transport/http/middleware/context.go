package middleware

import (
	"context"

	"q360/internal/requestctx"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

func GetRequestID(ctx context.Context) string {
	return requestctx.RequestID(ctx)
}
