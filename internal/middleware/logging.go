// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"govtoken/internal/domain"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
)

// LoggingMiddleware records request logs and latency metrics.
type LoggingMiddleware struct {
	logger  logger.Logger
	metrics *metrics.Collector
}

// NewLoggingMiddleware constructs a LoggingMiddleware. collector may be nil.
func NewLoggingMiddleware(log logger.Logger, collector *metrics.Collector) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log, metrics: collector}
}

// Log wraps handlers with structured request/response logging.
func (m *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		slot := &callerSlot{}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), ctxCallerSlotKey, slot)))
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if m.metrics != nil {
			m.metrics.RecordRequest(r.Method, route, wrapped.statusCode, elapsed)
		}

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      wrapped.statusCode,
			"duration_ms": elapsed.Milliseconds(),
			"ip":          r.RemoteAddr,
			"request_id":  RequestIDFromContext(r.Context()),
		}
		if caller, ok := CallerFromContext(r.Context()); ok {
			fields["caller"] = caller.Hex()
		} else if slot.set {
			fields["caller"] = slot.addr.Hex()
		}
		m.logger.Info("HTTP Request", fields)
	})
}

// callerSlot lets authentication further down the chain report the caller
// back to the request log.
type callerSlot struct {
	addr domain.Address
	set  bool
}

const ctxCallerSlotKey contextKey = "caller_slot"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
