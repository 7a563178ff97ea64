package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/scribe/backend/internal/logging"
)

// RequestLogger writes one access log line per request through the service
// logger. It must run after chi's RequestID middleware to pick up the id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logging.New(r.Context()).WithFields(map[string]any{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  status,
				"bytes":   ww.BytesWritten(),
				"remote":  r.RemoteAddr,
				"latency": time.Since(start).String(),
			})
			if status >= http.StatusInternalServerError {
				entry.Warnf("request completed with server error")
				return
			}
			entry.Infof("request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}
