// Package httpapi exposes flight upload, chat and session management over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/service"
)

type Options struct {
	CORSOrigins    []string
	MaxUploadBytes int64
	Provider       string
	Model          string
}

// Server is the HTTP boundary over the flight and agent services.
type Server struct {
	flights *service.FlightService
	agent   *service.Agent
	store   *service.SessionStore
	opts    Options
	router  *gin.Engine
}

func NewServer(flights *service.FlightService, agent *service.Agent, store *service.SessionStore, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		flights: flights,
		agent:   agent,
		store:   store,
		opts:    opts,
		router:  router,
	}

	router.GET("/", s.handleIndex)

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/session", s.handleCreateSession)
		api.POST("/upload", s.handleUpload)
		api.POST("/chat", s.handleChat)
		api.GET("/session/:id", s.handleSessionInfo)
		api.GET("/session/:id/history", s.handleHistory)
		api.POST("/session/:id/reset", s.handleReset)
		api.DELETE("/session/:id", s.handleDelete)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
