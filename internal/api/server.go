// Package api exposes the agent control surface: REST endpoints for
// lifecycle commands and status, and websocket streams that send a full
// snapshot before deltas.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Controller is the agent lifecycle surface the server drives.
type Controller interface {
	Start() error
	Stop() error
	Pause() error
	Resume() error
	EmergencyStop() error
	Status() interface{}
}

// Config contains server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the REST and websocket front end.
type Server struct {
	router     *gin.Engine
	controller Controller
	addr       string
	server     *http.Server

	// Streams, one hub each.
	Events    *Hub
	Positions *Hub
	Decisions *Hub
}

// NewServer creates the server and its stream hubs. Snapshot functions may
// be nil for streams without meaningful full state.
func NewServer(cfg Config, controller Controller, positionsSnapshot, decisionsSnapshot SnapshotFunc) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:     router,
		controller: controller,
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Events:     NewHub("events", func() interface{} { return controller.Status() }),
		Positions:  NewHub("positions", positionsSnapshot),
		Decisions:  NewHub("decisions", decisionsSnapshot),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		control := v1.Group("/control")
		{
			control.POST("/start", s.command("start", func() error { return s.controller.Start() }))
			control.POST("/stop", s.command("stop", func() error { return s.controller.Stop() }))
			control.POST("/pause", s.command("pause", func() error { return s.controller.Pause() }))
			control.POST("/resume", s.command("resume", func() error { return s.controller.Resume() }))
			control.POST("/emergency-stop", s.command("emergency_stop", func() error { return s.controller.EmergencyStop() }))
		}
	}

	s.router.GET("/ws/events", gin.WrapF(s.Events.serveWS))
	s.router.GET("/ws/positions", gin.WrapF(s.Positions.serveWS))
	s.router.GET("/ws/decisions", gin.WrapF(s.Decisions.serveWS))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) command(name string, fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("command", name).Msg("Control command failed")
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "command": name})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "command": name})
	}
}

// Start runs the hub loops and the HTTP server; it blocks until shutdown.
func (s *Server) Start() error {
	go s.Events.Run()
	go s.Positions.Run()
	go s.Decisions.Run()

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start API server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("stop API server: %w", err)
		}
	}
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// LoggerMiddleware logs every request with latency and status.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}
