package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	// Google front ends send TRACE_ID/SPAN_ID;o=OPTIONS.
	cloudTraceHeader = "X-Cloud-Trace-Context"
	maxRequestIDLen  = 128
)

// RequestID tags the request with the caller's X-Request-Id, the Cloud
// Trace id when only that is present, or a fresh UUID. The id is echoed on
// the response and added to the request logger.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestIDFrom(r)
			w.Header().Set(requestIDHeader, id)
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); usableRequestID(id) {
		return id
	}
	trace, _, _ := strings.Cut(r.Header.Get(cloudTraceHeader), "/")
	if trace = strings.TrimSpace(trace); usableRequestID(trace) {
		return trace
	}
	return uuid.NewString()
}

// usableRequestID accepts printable ASCII without spaces so ids are safe to
// echo in headers and logs.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
