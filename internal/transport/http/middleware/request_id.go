package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"q360/internal/requestctx"
	"q360/internal/transport/http/shared"
)

const maxRequestIDLength = 128

// RequestID reuses a well-formed inbound X-Request-ID and otherwise mints a uuid. The client
// IP is resolved once here and travels with the id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := requestctx.With(r.Context(), requestctx.Meta{RequestID: reqID, ClientIP: shared.ClientIP(r)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
