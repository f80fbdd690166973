package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"filehub/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())
	e.Use(Metrics())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	files := e.Group("/api/files")

	// Upload (rate-limited)
	files.POST("", handler.HandleUpload, uploadLimiter.Middleware())

	// Listing, search & accounting
	files.GET("", handler.HandleList)
	files.GET("/search", handler.HandleList)
	files.GET("/stats", handler.HandleStats)

	// Single file
	files.GET("/:id", handler.HandleInfo)
	files.GET("/:id/download", handler.HandleDownload)
	files.DELETE("/:id", handler.HandleDelete)

	return e
}
