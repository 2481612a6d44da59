// Package web serves the podcast generator page, its JSON API and the
// application shell (session context, global player, notifications).
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/auth"
	"github.com/book-expert/podcast-service/internal/notify"
	"github.com/book-expert/podcast-service/internal/player"
	"github.com/book-expert/podcast-service/internal/records"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	allOrigins  = "*"
	corsMaxAge  = 12 * time.Hour
	healthPath  = "/health"
	uploadsPath = "/api/uploads/"

	// Audio elements cannot send bearer tokens; storage ids are unguessable.
	objectDownloads = "GET /api/storage/"

	accessLogFormat = "%s %s -> %d (%s)"
)

// HealthChecker is a dependency that can report whether it is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config configures the HTTP server.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Dependencies are the components the server routes to.
type Dependencies struct {
	Sessions      *Sessions
	Storage       *storage.Service
	Records       *records.Service
	Players       *player.Registry
	Hub           *notify.Hub
	Authenticator auth.Authenticator
	Generator     HealthChecker
}

// Server is the HTTP entry point of the service.
type Server struct {
	cfg    Config
	deps   Dependencies
	router *gin.Engine
	log    *logger.Logger
}

// NewServer builds the router with every route and middleware installed.
func NewServer(cfg Config, deps Dependencies, log *logger.Logger) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	router := gin.New()
	router.SetHTMLTemplate(page)
	router.Use(gin.Recovery(), requestLogger(log), cors.New(corsConfig(cfg.AllowedOrigins)))
	router.Use(auth.Middleware(deps.Authenticator, log, healthPath, uploadsPath, objectDownloads))

	server := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
		log:    log,
	}
	server.routes()

	return server, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		s.log.System("HTTP server listening on %s", s.cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func (s *Server) routes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET(healthPath, s.handleHealth)
	s.router.GET("/ws/notifications", s.handleNotifications)

	api := s.router.Group("/api")
	api.GET("/voices", s.handleVoices)

	generator := api.Group("/podcast")
	generator.POST("/generate", s.handleGenerate)
	generator.GET("/state", s.handleState)
	generator.POST("/duration", s.handleDuration)
	generator.POST("/reset", s.handleReset)

	api.GET("/player", s.handleGetPlayer)
	api.PUT("/player", s.handleSetPlayer)
	api.DELETE("/player", s.handleClearPlayer)

	api.POST("/podcasts", s.handleCreatePodcast)
	api.GET("/podcasts", s.handleListPodcasts)
	api.GET("/podcasts/:id", s.handleGetPodcast)
	api.DELETE("/podcasts/:id", s.handleDeletePodcast)

	s.deps.Storage.RegisterRoutes(s.router)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.MaxAge = corsMaxAge

	if len(origins) == 0 || slices.Contains(origins, allOrigins) {
		cfg.AllowAllOrigins = true

		return cfg
	}

	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true

	return cfg
}

// OriginChecker returns the websocket origin policy matching the CORS policy.
// Requests without an Origin header and same-host requests are always allowed.
func OriginChecker(origins []string) func(r *http.Request) bool {
	allowAll := len(origins) == 0 || slices.Contains(origins, allOrigins)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}

		parsed, err := url.Parse(origin)
		if err == nil && strings.EqualFold(parsed.Host, r.Host) {
			return true
		}

		return slices.Contains(origins, origin)
	}
}

// requestLogger writes one access log line per request.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()

		switch {
		case status >= http.StatusInternalServerError:
			log.Error(accessLogFormat, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		case status >= http.StatusBadRequest:
			log.Warn(accessLogFormat, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		default:
			log.Info(accessLogFormat, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}
