// Package http serves the session API, health, and metrics endpoints.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/application"
	"github.com/skiff-ai/skiff/internal/infrastructure/monitoring"
	"github.com/skiff-ai/skiff/internal/interfaces/http/handlers"
)

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(cfg Config, manager *application.Manager, monitor *monitoring.Monitor, logger *zap.Logger) *Server {
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	sessionHandler := handlers.NewSessionHandler(manager, logger)
	setupRoutes(router, sessionHandler, monitor)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, sessionHandler *handlers.SessionHandler, monitor *monitoring.Monitor) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if monitor != nil {
		router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))
		router.GET("/debug/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, monitor.Stats())
		})
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sessions", sessionHandler.List)
		v1.GET("/sessions/:id", sessionHandler.State)
		v1.POST("/sessions/:id/messages", sessionHandler.Enqueue)
		v1.POST("/sessions/:id/continue", sessionHandler.Continue)
		v1.DELETE("/sessions/:id/queue/:lane/:itemID", sessionHandler.Cancel)
		v1.GET("/sessions/:id/events", sessionHandler.Events)
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
