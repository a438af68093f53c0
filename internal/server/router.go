package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/config"
	"github.com/artemis/flowmod/internal/coordinator"
	"github.com/artemis/flowmod/internal/observability"
	"github.com/artemis/flowmod/internal/topology"
)

// Server exposes the coordinator's read-only diagnostics surface: health,
// metrics, and a JSON view of modifications and the execution graph,
// plus a websocket feed of modification lifecycle events.
type Server struct {
	config   *config.Config
	logger   *observability.Logger
	health   *observability.HealthChecker
	registry *coordinator.Registry
	graph    *topology.Graph
	trigger  *coordinator.Trigger
	hub      *Hub
	router   *gin.Engine
}

// NewServer creates the coordinator's diagnostics HTTP server.
func NewServer(
	cfg *config.Config,
	registry *coordinator.Registry,
	graph *topology.Graph,
	healthChecker *observability.HealthChecker,
	logger *observability.Logger,
) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		health:   healthChecker,
		registry: registry,
		graph:    graph,
		hub:      NewHub(logger),
	}

	s.setupRouter()
	return s
}

// SetTrigger wires the trigger engine so the admin mutation routes can
// drive it. Left unset, those routes answer 503; a coordinator running
// only as a passive diagnostics mirror never needs to call this.
func (s *Server) SetTrigger(trigger *coordinator.Trigger) {
	s.trigger = trigger
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/health", s.health.HealthHandler())
	r.GET("/ready", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/modifications", s.ListModifications)
		api.GET("/modifications/:id", s.GetModification)
		api.GET("/vertices", s.ListVertices)
		api.GET("/status", s.Status)

		api.POST("/modify/pause", s.PauseAll)
		api.POST("/modify/pause-vertex", s.PauseVertex)
		api.POST("/modify/migrate", s.MigrateAllFrom)
	}

	r.GET("/ws", s.HandleWebSocket)

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "flowmod coordinator diagnostics API running.")
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready" {
			c.Next()
			return
		}

		c.Next()

		s.logger.InfoRedacted("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// corsMiddleware handles CORS
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("starting HTTP server", zap.String("addr", s.config.HTTPAddr))

	if err := s.router.Run(s.config.HTTPAddr); err != nil {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping HTTP server")
	s.hub.Stop()
	return nil
}

// BroadcastEvent publishes a modification lifecycle event to every
// connected diagnostic client.
func (s *Server) BroadcastEvent(eventType string, data interface{}) {
	s.hub.BroadcastEvent(eventType, data)
}

// Emit implements coordinator.EventSink, so a *Server can be installed
// directly via Registry.SetEventSink.
func (s *Server) Emit(eventType string, payload any) {
	s.hub.BroadcastEvent(eventType, payload)
}

// GetRouter returns the gin router for direct route registration.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
