package api

import (
	"context"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/config"
	"example.com/damdoh/services/traceability/handlers"
	"example.com/damdoh/services/traceability/metrics"
	"example.com/damdoh/services/traceability/search"
	"example.com/damdoh/services/traceability/tracing"
)

// Server is the HTTP server for the traceability API
type Server struct {
	cfg          config.Config
	router       *gin.Engine
	httpServer   *http.Server
	batchHandler *handlers.BatchHandler
	searchClient *search.Client
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
}

// NewServer creates a new API server. searchClient may be nil when search is
// not configured; the search endpoint then reports unavailable.
func NewServer(cfg config.Config, batchHandler *handlers.BatchHandler, searchClient *search.Client, collector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		cfg:          cfg,
		router:       gin.New(),
		batchHandler: batchHandler,
		searchClient: searchClient,
		metrics:      collector,
		tracer:       tracer,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware())
	}

	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
	s.router.Use(TracingMiddleware(s.tracer))
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.router.GET("/healthz", s.getHealth)

	// VTI ledger surface
	s.router.POST("/vti", s.postVti)
	s.router.GET("/vti", s.getVti)

	// API v1 group
	v1 := s.router.Group("/api/v1")

	batchRoutes := v1.Group("/batches")
	{
		batchRoutes.GET("", s.listBatches)
		batchRoutes.GET("/:id", s.getBatch)
		batchRoutes.GET("/:id/history", s.getBatchHistory)
	}

	v1.GET("/search", s.searchBatches)
	v1.GET("/metrics", s.getMetrics)
}

// getMetrics returns the in-process metrics snapshot
func (s *Server) getMetrics(c *gin.Context) {
	s.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, s.metrics.GetAllMetrics())
}

// getHealth returns the aggregated health status
func (s *Server) getHealth(c *gin.Context) {
	checks := s.metrics.GetHealthChecks()

	healthy := true
	for _, ok := range checks {
		if !ok {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"healthy": healthy,
		"details": checks,
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPServerAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTPServerTimeout,
		WriteTimeout: s.cfg.HTTPServerTimeout,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}
