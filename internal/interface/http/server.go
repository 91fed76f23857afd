// Package http exposes the engine's commands and queries as a JSON API.
//
// Routes are grouped by caller: /admin for project catalog management,
// /supervisor for global badges and /api for point ingestion, self-reports
// and read models.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/alem-hub/skillforge/internal/application/command"
	"github.com/alem-hub/skillforge/internal/application/eventhandler"
	"github.com/alem-hub/skillforge/internal/application/query"
	"github.com/alem-hub/skillforge/internal/interface/http/handlers"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// AllowedOrigins for CORS; a single "*" allows all.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int
	RateLimitBurst     int

	// Tracing adds otelgin spans named after ServiceName.
	Tracing     bool
	ServiceName string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 600,
		RateLimitBurst:     50,
		ServiceName:        "skillforge",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands
	Catalog           *command.CatalogHandler
	SubmitPointEvent  *command.SubmitPointEventHandler
	SubmitSelfReport  *command.SubmitSelfReportHandler
	ResolveSelfReport *command.ResolveSelfReportHandler

	// Queries
	GetUserProgress        *query.GetUserProgressHandler
	GetUserBadges          *query.GetUserBadgesHandler
	GetDependencyStatus    *query.GetDependencyStatusHandler
	GetPointHistory        *query.GetPointHistoryHandler
	ListPendingSelfReports *query.ListPendingSelfReportsHandler

	// Achievements is optional; without it the feed is always empty.
	Achievements *eventhandler.OnAchievementHandler

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.Named("http")

	s.router = gin.New()
	s.router.HandleMethodNotAllowed = true
	s.useMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// useMiddleware installs the chain. Recovery runs first so it sees every panic;
// the request id is assigned before anything logs.
func (s *Server) useMiddleware() {
	s.router.Use(handlers.Recovery(s.logger))
	s.router.Use(handlers.RequestID(s.logger))
	s.router.Use(handlers.AccessLog(s.logger))
	s.router.Use(handlers.CORS(s.config.AllowedOrigins))
	if s.config.Tracing {
		s.router.Use(otelgin.Middleware(s.config.ServiceName))
	}
	if s.config.RateLimitPerMinute > 0 {
		s.router.Use(handlers.NewRateLimiter(s.config.RateLimitPerMinute, s.config.RateLimitBurst).Middleware())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// Admin: project catalog
	// ─────────────────────────────────────────────────────────────────────────
	admin := s.router.Group("/admin/projects/:projectID")
	admin.PUT("", s.handleDefineProject)
	admin.PUT("/levels", s.handleSetProjectLevels)
	admin.PUT("/subjects/:subjectID", s.handleDefineSubject)
	admin.PUT("/subjects/:subjectID/levels", s.handleSetSubjectLevels)
	admin.PUT("/subjects/:subjectID/skills/:skillID", s.handleDefineSkill)
	admin.POST("/dependencies", s.handleDefineDependency)
	admin.PUT("/badges/:badgeID", s.handleDefineBadge)
	admin.POST("/badges/:badgeID/skills", s.handleAssignSkillToBadge)
	admin.POST("/badges/:badgeID/levels", s.handleAssignLevelToBadge)

	// ─────────────────────────────────────────────────────────────────────────
	// Supervisor: global badges (no projectID in the path)
	// ─────────────────────────────────────────────────────────────────────────
	supervisor := s.router.Group("/supervisor/badges/:badgeID")
	supervisor.PUT("", s.handleDefineBadge)
	supervisor.POST("/skills", s.handleAssignSkillToBadge)
	supervisor.POST("/levels", s.handleAssignLevelToBadge)

	// ─────────────────────────────────────────────────────────────────────────
	// API: ingestion, self-reports, read models
	// ─────────────────────────────────────────────────────────────────────────
	api := s.router.Group("/api")
	api.POST("/projects/:projectID/skills/:skillID/events", s.handleSubmitPointEvent)
	api.POST("/projects/:projectID/skills/:skillID/self-reports", s.handleSubmitSelfReport)
	api.GET("/self-reports/pending", s.handleListPendingSelfReports)
	api.POST("/self-reports/:requestID/resolve", s.handleResolveSelfReport)

	user := api.Group("/users/:userID")
	user.GET("/badges", s.handleGetUserBadges)
	user.GET("/achievements", s.handleGetRecentAchievements)
	user.GET("/projects/:projectID/progress", s.handleGetUserProgress)
	user.GET("/projects/:projectID/history", s.handleGetPointHistory)
	user.GET("/projects/:projectID/skills/:skillID/dependencies", s.handleGetDependencyStatus)

	s.router.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, "not_found", "The requested resource was not found")
	})
	s.router.NoMethod(func(c *gin.Context) {
		writeJSONError(c, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
