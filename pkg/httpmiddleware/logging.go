package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Logger puts a request-scoped child of lg into the context, so handlers
// and everything below them log through zctx.From, and writes one entry per
// completed request. Must run after RequestID.
func Logger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLg := lg.With(zap.String("request_id", RequestIDFromContext(r.Context())))
			ctx := zctx.Base(r.Context(), reqLg)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := zap.DebugLevel
			switch {
			case status >= 500:
				level = zap.ErrorLevel
			case status >= 400:
				level = zap.InfoLevel
			}
			reqLg.Check(level, "Request").Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
