// Package rest serves the public HTTP API: the decision endpoints and the
// administrative CRUD surface for roles, permissions, policies, resources,
// user assignments and cross-tenant grants.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/internal/service"
)

// Config holds the REST server settings.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	CORSOrigins  []string
	Auth         config.AuthConfig
	Version      string
}

// DefaultConfig returns the default REST server configuration.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// Server is the public HTTP API server.
type Server struct {
	engine     *engine.Engine
	services   *service.Services
	guard      *guard
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
}

// New creates a REST server with all routes registered.
func New(eng *engine.Engine, services *service.Services, cfg Config, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if services == nil {
		return nil, fmt.Errorf("services are required")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth is enabled without a jwt secret")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   eng,
		services: services,
		guard:    newGuard(eng, cfg.Auth, logger),
		logger:   logger,
		config:   cfg,
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(s.logging(), s.recovery())
	if s.config.EnableCORS {
		router.Use(s.cors())
	}

	v1 := router.Group("/api/v1")
	v1.Use(s.guard.authenticate())

	NewDecisionHandler(s.engine, s.logger).RegisterRoutes(v1)
	NewRoleHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)
	NewPermissionHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)
	NewPolicyHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)
	NewResourceHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)
	NewUserRoleHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)
	NewCrossTenantHandler(s.services, s.guard, s.logger).RegisterRoutes(v1)

	return router
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("auth_enabled", s.config.Auth.Enabled),
		zap.Bool("cors_enabled", s.config.EnableCORS))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP dispatches directly to the router. It exists for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// logging records one line per request after the handler runs.
func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

// recovery converts handler panics into a 500 envelope.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Handler panic",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					Error:   "internal",
					Message: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// cors answers preflight requests and echoes allowed origins.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-IP")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.config.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
