package router

import (
	"github.com/orbitpanel/backend/internal/infrastructure/auth"
	"github.com/orbitpanel/backend/internal/infrastructure/config"
	"github.com/orbitpanel/backend/internal/infrastructure/logger"
	"github.com/orbitpanel/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// PublicRouteRegistrar registers routes that skip authentication
type PublicRouteRegistrar interface {
	RegisterPublicRoutes(rg *gin.RouterGroup)
}

// Router assembles the gin engine with the panel middleware stack
type Router struct {
	engine     *gin.Engine
	apiVersion string
	public     []PublicRouteRegistrar
	protected  []RouteRegistrar
}

// New creates a router with the standard middleware chain: request IDs,
// request logging, panic recovery, CORS and tracing.
func New(cfg *config.Config, log *zap.Logger) *Router {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(cfg.App.Name))
	}

	if len(cfg.HTTP.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.HTTP.TrustedProxies)
	}

	return &Router{
		engine:     engine,
		apiVersion: "v1",
	}
}

// Public adds registrars whose routes skip authentication
func (r *Router) Public(registrars ...PublicRouteRegistrar) *Router {
	r.public = append(r.public, registrars...)
	return r
}

// Protected adds registrars whose routes require a valid access token
func (r *Router) Protected(registrars ...RouteRegistrar) *Router {
	r.protected = append(r.protected, registrars...)
	return r
}

// Setup wires all registered routes and returns the engine
func (r *Router) Setup(jwtService *auth.JWTService, log *zap.Logger) *gin.Engine {
	api := r.engine.Group("/api/" + r.apiVersion)

	for _, registrar := range r.public {
		registrar.RegisterPublicRoutes(api)
	}

	authenticated := api.Group("", middleware.JWTAuth(jwtService, log))
	for _, registrar := range r.protected {
		registrar.RegisterRoutes(authenticated)
	}

	return r.engine
}
