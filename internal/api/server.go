package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/api/handlers"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/api/middleware"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/tracing"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	orders *workflow.DOWorkflow,
	lines *workflow.BOPWorkflow,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{config: cfg}

	router := server.setupRouter(orders, lines, collector, tracer)
	server.router = router

	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter(
	orders *workflow.DOWorkflow,
	lines *workflow.BOPWorkflow,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	if app := tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}

	handlers.NewDeliveryOrderHandler(orders, collector).RegisterRoutes(router)
	handlers.NewBOPLineHandler(lines, collector).RegisterRoutes(router)
	handlers.NewMetricsHandler(collector).RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
