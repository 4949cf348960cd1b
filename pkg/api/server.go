package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"runwrap/pkg/api/middleware"
	"runwrap/pkg/models"
	"runwrap/pkg/scheduler"
	"runwrap/pkg/storage"
)

// Server is the daemon's HTTP surface: health, metrics, run history
// and manual triggers for the configured jobs.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	jobs  map[string]models.JobSpec
	store storage.RunStore
	logs  storage.LogStore
	sched *scheduler.Core
}

// Config holds API server configuration.
type Config struct {
	Port      string
	APIKey    string
	Jobs      []models.JobSpec
	Store     storage.RunStore
	Logs      storage.LogStore
	Scheduler *scheduler.Core
	Logger    *zap.Logger
}

// NewServer creates the API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(requestLogger(log))
	router.Use(middleware.BodySizeLimit(1 << 20)) // 1MB body limit

	jobs := make(map[string]models.JobSpec, len(cfg.Jobs))
	for _, spec := range cfg.Jobs {
		jobs[spec.Name] = spec
	}

	s := &Server{
		router: router,
		log:    log,
		jobs:   jobs,
		store:  cfg.Store,
		logs:   cfg.Logs,
		sched:  cfg.Scheduler,
	}

	s.registerRoutes(cfg.APIKey)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(apiKey string) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", s.listJobs)
			jobs.POST("/:name/trigger", middleware.RequireAPIKey(apiKey), s.triggerJob)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/logs", s.getRunLogs)
		}
	}
}

// requestLogger logs HTTP requests through zap.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		)
	}
}

// healthCheck returns server health status.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"jobs":      len(s.jobs),
		"timestamp": time.Now().UTC(),
	})
}
