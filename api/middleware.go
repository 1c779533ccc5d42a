package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/invoice-service/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

// corsMiddleware allows the configured origin with credentials and answers
// preflight requests directly
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := h.config.CORSOrigin
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware logs every request and records HTTP metrics under the
// matched route template
func (h *Handler) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		defer func() {
			if rec := recover(); rec != nil {
				logging.LogError("api", "accessLogMiddleware", "panic serving request", map[string]string{
					"path": r.URL.Path,
				}, fmt.Errorf("%v", rec))
				if !recorder.wroteHeader {
					h.sendError(recorder, http.StatusInternalServerError, "internal server error")
				}
			}

			duration := time.Since(start)
			h.deps.Metrics.ObserveHTTP(r.Method, routeTemplate(r), recorder.statusCode, duration)

			entry := logging.GetLogger().WithFields(logrus.Fields{
				"request_id":  requestIDFromContext(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.statusCode,
				"duration_ms": float64(duration.Microseconds()) / 1000.0,
				"bytes":       recorder.bytesWritten,
				"remote_addr": r.RemoteAddr,
			})
			switch {
			case recorder.statusCode >= 500:
				entry.Error("http_request")
			case recorder.statusCode >= 400:
				entry.Warn("http_request")
			default:
				entry.Info("http_request")
			}
		}()

		next.ServeHTTP(recorder, r)
	})
}

// routeTemplate keeps metric label cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = statusCode
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
