// Package debug serves the loopback operational surface: Prometheus
// metrics and health/status probes.
package debug

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Status is the snapshot reported by /statusz.
type Status struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user"`
}

// StatusFunc produces the current engine status.
type StatusFunc func() Status

// NewRouter creates the debug router.
func NewRouter(logger zerolog.Logger, status StatusFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":    "ok",
			"connected": status().Connected,
		})
	})

	r.Get("/statusz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, status())
	})

	return r
}

// NewServer wraps the router in an http.Server bound to addr.
func NewServer(addr string, logger zerolog.Logger, status StatusFunc) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(logger, status),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger returns a request logging middleware using zerolog.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
