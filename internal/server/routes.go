package server

import (
	"github.com/nulzo/uniapi/internal/server/admin"
	"github.com/nulzo/uniapi/internal/server/middleware"
	v1 "github.com/nulzo/uniapi/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.deps.Store)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)

	// OpenAI-compatible surface
	api := s.router.Group("/v1")
	api.Use(middleware.RequireAPIKey(s.deps.Gate))
	api.Use(s.limiter.Middleware())
	{
		chatHandler := v1.NewChatHandler(s.deps.Gateway, s.logger)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelHandler := v1.NewModelHandler(s.deps.Gateway)
		api.GET("/models", modelHandler.ListModels)
	}

	// Admin pages
	adminHandler := admin.NewHandler(s.deps.Catalog, s.deps.Gate, s.deps.Sessions, s.logger)
	s.router.GET("/", adminHandler.Root)
	s.router.GET(admin.LoginPath, adminHandler.LoginPage)
	s.router.POST(admin.AdminPath, adminHandler.Login)
	s.router.POST("/logout", adminHandler.Logout)

	pages := s.router.Group(admin.AdminPath)
	pages.Use(middleware.RequireAdmin(s.deps.Gate, s.deps.Sessions, admin.LoginPath))
	{
		pages.GET("", adminHandler.Dashboard)
		pages.POST("/providers", adminHandler.AddProvider)
		pages.POST("/providers/:id/delete", adminHandler.DeleteProvider)
	}

	// Admin JSON API
	manage := s.router.Group("/api")
	manage.Use(middleware.RequireAdmin(s.deps.Gate, s.deps.Sessions, ""))
	{
		providerHandler := v1.NewProviderHandler(s.deps.Catalog)
		manage.GET("/providers", providerHandler.List)
		manage.GET("/providers/:id", providerHandler.Get)
		manage.POST("/providers", providerHandler.Create)
		manage.PUT("/providers/:id", providerHandler.Update)
		manage.DELETE("/providers/:id", providerHandler.Delete)

		analyticsHandler := v1.NewAnalyticsHandler(s.deps.Analytics)
		manage.GET("/usage", analyticsHandler.GetUsage)
		manage.GET("/usage/recent", analyticsHandler.GetRecent)
	}
}
