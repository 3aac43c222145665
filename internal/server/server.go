// Package server wires the gin engine around the filter pipeline and
// manages the HTTP listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/observability"
)

// Server is the gateway HTTP server. All business paths flow through the
// NoRoute handler; only the operational endpoints are registered as gin
// routes.
type Server struct {
	httpServer *http.Server
	logger     observability.Logger
}

// New creates the server. handler is the filter pipeline; middleware runs
// in front of it for every request.
func New(cfg config.ServerConfig, handler http.Handler, logger observability.Logger, middleware ...gin.HandlerFunc) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware...)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Every merchant-facing path is dynamic; the pipeline owns them all.
	engine.NoRoute(gin.WrapH(handler))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout.Duration(),
			WriteTimeout: cfg.WriteTimeout.Duration(),
			IdleTimeout:  cfg.IdleTimeout.Duration(),
		},
		logger: logger,
	}
}

// Start runs the listener until Stop is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		observability.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.httpServer.Shutdown(ctx)
}
