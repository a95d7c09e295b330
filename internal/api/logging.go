package api

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs one line per request once the handler has returned.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stats := httpsnoop.CaptureMetrics(next, w, r)

			level := slog.LevelInfo
			if stats.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", stats.Code),
				slog.Duration("duration", stats.Duration),
				slog.Int64("bytes", stats.Written),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
