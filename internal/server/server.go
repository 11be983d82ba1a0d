package server

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/analytics"
	"github.com/nulzo/uniapi/internal/auth"
	"github.com/nulzo/uniapi/internal/config"
	"github.com/nulzo/uniapi/internal/gateway"
	"github.com/nulzo/uniapi/internal/server/admin"
	"github.com/nulzo/uniapi/internal/server/middleware"
	v1 "github.com/nulzo/uniapi/internal/server/v1"
	"github.com/nulzo/uniapi/internal/server/validator"
	"go.uber.org/zap"
)

// Catalog is the provider configuration as the HTTP layer sees it.
type Catalog interface {
	v1.ProviderCatalog
	admin.Catalog
}

// Dependencies are the collaborators the HTTP layer is built on.
type Dependencies struct {
	Gateway   gateway.Service
	Catalog   Catalog
	Analytics analytics.Service
	Store     v1.Pinger
	Gate      *auth.Gate
	Sessions  *auth.Sessions
}

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	deps    Dependencies
	limiter *middleware.RateLimiter
}

func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.InitValidator()

	engine := gin.New()
	engine.SetHTMLTemplate(admin.Templates())

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(cfg.Tracing.ServiceName, "/health", "/ready"))
	}
	engine.Use(middleware.Logger(logger, "/health", "/ready"))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		deps:    deps,
		limiter: middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger),
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run performs background housekeeping until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.Run(ctx, time.Minute, 10*time.Minute)
}
