// Package ops serves the operational endpoints on a listener separate from
// the public API: liveness, readiness, Prometheus metrics and a status
// snapshot. Keeping them off the public port means probes and scrapes never
// compete with (or leak through) the tenant-facing surface.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/cache"
)

// Probe checks one dependency for readiness.
type Probe func(ctx context.Context) error

// probeTimeout bounds each readiness check so a wedged dependency cannot
// stall the kubelet.
const probeTimeout = 2 * time.Second

// Config configures the ops listener.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns default ops listener configuration.
func DefaultConfig() Config {
	return Config{
		Port:         9100,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "dev",
	}
}

// Deps carries what the endpoints report on. Any field may be nil; the
// corresponding endpoint degrades instead of failing.
type Deps struct {
	// Metrics serves GET /metrics, usually the Prometheus scrape handler.
	Metrics http.Handler
	// CacheStats feeds the statusz cache section.
	CacheStats func() cache.Stats
	// ConfigSnapshot feeds the statusz config section. It must already be
	// redacted.
	ConfigSnapshot func() map[string]interface{}
	// Probes run on every readyz request, keyed by dependency name.
	Probes map[string]Probe
}

// Server is the ops HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	deps       Deps
	ready      atomic.Bool
	startTime  time.Time
}

// New creates the ops server. It reports ready until SetReady says otherwise.
func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		deps:      deps,
		startTime: time.Now(),
	}
	s.ready.Store(true)
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.readyzHandler).Methods("GET")
	s.router.HandleFunc("/statusz", s.statuszHandler).Methods("GET")
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods("GET")
	}
}

// Start starts the ops listener.
func (s *Server) Start() error {
	s.logger.Info("Starting ops server", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the ops listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetReady flips readiness. Shutdown sets it false first so load balancers
// stop routing before the listeners close.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// healthzHandler answers liveness. It checks nothing beyond the process
// being able to serve; dependency health belongs to readyz.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "draining"})
		return
	}

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(s.deps.Probes))}
	code := http.StatusOK

	names := make([]string, 0, len(s.deps.Probes))
	for name := range s.deps.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := s.deps.Probes[name](ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, code, resp)
}

type statusResponse struct {
	Version   string                 `json:"version"`
	StartedAt time.Time              `json:"started_at"`
	Uptime    string                 `json:"uptime"`
	Ready     bool                   `json:"ready"`
	Cache     *cacheStatus           `json:"cache,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

type cacheStatus struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (s *Server) statuszHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:   s.config.Version,
		StartedAt: s.startTime.UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Ready:     s.ready.Load(),
	}
	if s.deps.CacheStats != nil {
		stats := s.deps.CacheStats()
		resp.Cache = &cacheStatus{
			Size:    stats.Size,
			Hits:    stats.Hits,
			Misses:  stats.Misses,
			HitRate: stats.HitRate,
		}
	}
	if s.deps.ConfigSnapshot != nil {
		resp.Config = s.deps.ConfigSnapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// loggingMiddleware logs ops requests at debug; probes fire every few
// seconds and would drown the service log at info.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("Ops request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
