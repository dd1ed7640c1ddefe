package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mind-engage/groundschool/pkg/logger"
)

// RequestLogger writes one line per request through log.
func RequestLogger(log logger.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info(fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				"status", status,
				"latency", time.Since(start),
				"client_ip", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
				"bytes", ww.BytesWritten(),
			)
		})
	}
}
