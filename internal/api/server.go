// Package api exposes the gateway over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
	"github.com/SimplyPrint/card-gateway/internal/service"
	"github.com/SimplyPrint/card-gateway/internal/settings"
)

// shutdownDelay lets the shutdown acknowledgement reach the client before the
// listener closes.
const shutdownDelay = 250 * time.Millisecond

// Options wires a Server. Dispatcher is required; everything else is optional
// and the matching routes answer 503 when it is missing.
type Options struct {
	Dispatcher *gateway.Dispatcher
	Settings   *settings.Store
	Service    service.Service
	Hub        *WSHub

	// Registry receives HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry

	// Shutdown is called shortly after a shutdown request is acknowledged.
	Shutdown func()
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	dispatcher *gateway.Dispatcher
	settings   *settings.Store
	service    service.Service
	hub        *WSHub
	shutdown   func()
	metrics    *httpMetrics
	registry   *prometheus.Registry
	router     chi.Router
}

// NewServer builds the router. A hub is created when none is supplied; the
// caller still owns running it.
func NewServer(opts Options) *Server {
	s := &Server{
		dispatcher: opts.Dispatcher,
		settings:   opts.Settings,
		service:    opts.Service,
		hub:        opts.Hub,
		shutdown:   opts.Shutdown,
		registry:   opts.Registry,
	}
	if s.hub == nil {
		s.hub = NewWSHub()
	}
	if opts.Registry != nil {
		s.metrics = newHTTPMetrics(opts.Registry)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub the server registers clients with.
func (s *Server) Hub() *WSHub {
	return s.hub
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware, recoveryMiddleware, s.requestLogger)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/readers", s.handleListReaders)
		r.Get("/uid", s.handleReadUID)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Get("/lite/info", s.handleLiteInfo)
		r.Post("/lite/apdu", s.handleRawAPDU)
		r.Get("/type4/info", s.handleType4Info)
		r.Post("/type4/read", s.handleType4Read)
		r.Post("/type4/write", s.handleType4Write)
		r.Delete("/log", s.handleClearLog)
		r.Post("/shutdown", s.handleShutdown)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/health", s.handleHealth)
		r.Get("/logs", s.handleLogs)
		r.Delete("/logs", s.handleClearLogs)
		r.Get("/crashes", s.handleCrashes)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleUpdateSettings)
		r.Get("/autostart", s.handleAutostartStatus)
		r.Post("/autostart", s.handleEnableAutostart)
		r.Delete("/autostart", s.handleDisableAutostart)
		r.Post("/shutdown", s.handleShutdown)
		r.Get("/ws", s.handleWebSocket)
	})

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}
	return r
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			where := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

			logging.CapturePanic(rec, stack, where)
			logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", where, rec), map[string]any{
				"panic":  fmt.Sprintf("%v", rec),
				"stack":  string(stack),
				"method": r.Method,
				"path":   r.URL.Path,
			})

			crashFile, err := logging.WriteCrashLog(rec, stack)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
				crashFile = ""
			}

			respondJSON(w, http.StatusInternalServerError, map[string]any{
				"success":   false,
				"error":     "internal server error",
				"crashFile": crashFile,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request, levelled by status, and feeds the
// HTTP metrics when they are enabled.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		s.metrics.observe(r.Method, route, status, elapsed)

		data := map[string]any{
			"method":   r.Method,
			"path":     route,
			"status":   status,
			"duration": elapsed.String(),
			"bytes":    ww.BytesWritten(),
			"remote":   r.RemoteAddr,
		}
		switch {
		case status >= 500:
			logging.Error(logging.CatHTTP, "http_request", data)
		case status >= 400:
			logging.Warn(logging.CatHTTP, "http_request", data)
		default:
			logging.Debug(logging.CatHTTP, "http_request", data)
		}
	})
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "card_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "card_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) observe(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // header already sent
}

func unavailable(w http.ResponseWriter, what string) {
	respondJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": what + " not available",
	})
}
