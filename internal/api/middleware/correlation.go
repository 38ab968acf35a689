package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const ctxKeyCorrelation contextKey = "correlation_id"

// HeaderCorrelationID is echoed back on every response.
const HeaderCorrelationID = "X-Correlation-ID"

// Correlation attaches a correlation id to every request. The inbound
// X-Correlation-ID or X-Request-ID header is honored when present;
// otherwise a fresh UUID is minted. The id is echoed in the response so
// clients can join logs across systems.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(HeaderCorrelationID, id)
		ctx := context.WithValue(r.Context(), ctxKeyCorrelation, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the request's correlation id, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyCorrelation).(string); ok {
		return id
	}
	return ""
}
