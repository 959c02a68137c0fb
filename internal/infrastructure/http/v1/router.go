// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"docchat/internal/infrastructure/http/v1/handlers"
	"docchat/internal/infrastructure/http/v1/middleware"
	"docchat/pkg/logger"
)

// RouterConfig holds the router's dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// Identity resolves bearer tokens to users.
	Identity middleware.IdentityResolver

	// Policies and Limiter drive per-route rate limiting.
	Policies interface {
		middleware.PolicyResolver
		handlers.PolicyResolver
	}
	Limiter middleware.Counter

	Health *handlers.HealthHandler
	Tasks  handlers.TaskStatusReader

	// Debug switches gin to debug mode.
	Debug bool
}

// NewRouter creates the gin engine. Every API request runs identity
// resolution, then rate limiting; resource access is checked by the
// services behind the handlers.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	router := gin.New()

	// Recovery runs inside ErrorHandler so a recovered panic is rendered.
	router.Use(middleware.Trace(cfg.Logger))
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	if cfg.Health != nil {
		health := router.Group("/health")
		{
			health.GET("/live", cfg.Health.Live)
			health.GET("/ready", cfg.Health.Ready)
			health.GET("/info", cfg.Health.Info)
		}
	}

	base := handlers.NewBaseHandler()
	api := router.Group("/api/v1")

	public := api.Group("")
	public.Use(middleware.OptionalAuth(cfg.Identity))
	public.Use(middleware.RateLimit(cfg.Policies, cfg.Limiter))
	if cfg.Tasks != nil {
		public.GET("/tasks/:id", handlers.NewTaskHandler(base, cfg.Tasks).Get)
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(cfg.Identity))
	protected.Use(middleware.RateLimit(cfg.Policies, cfg.Limiter))
	protected.GET("/me", handlers.NewMeHandler(base, cfg.Policies).Get)

	return router
}
