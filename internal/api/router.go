package api

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/api/handler"
	"github.com/99minutos/estimate-sync/internal/api/middleware"
	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	JWTSecret  string
	Identities ports.IdentityService
	Session    handler.SessionStore
	Sync       ports.SyncService
	References ports.ReferenceService
	Cache      handler.CacheAdmin
	Hub        *handler.NotificationHub
	Checks     map[string]handler.Pinger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.Metrics())
	e.Use(middleware.RequestLogger(log))

	// --- Handlers ---
	sessionHandler := handler.NewSessionHandler(deps.Identities, deps.Session, deps.Sync)
	estimateHandler := handler.NewEstimateHandler(deps.Sync, deps.References)
	referenceHandler := handler.NewReferenceHandler(deps.References)
	cacheHandler := handler.NewCacheHandler(deps.Cache)
	notificationHandler := handler.NewNotificationHandler(deps.Hub)

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// --- Session activation: the token in the body is the credential ---
	v1 := e.Group("/v1")
	v1.PUT("/session", sessionHandler.Start)

	// --- Session-bound routes ---
	scoped := v1.Group("", middleware.Auth(deps.JWTSecret), middleware.Session(deps.Session.Current))

	scoped.GET("/session", sessionHandler.Get)
	scoped.DELETE("/session", sessionHandler.End)

	scoped.GET("/estimates", estimateHandler.List)
	scoped.POST("/estimates/refresh", estimateHandler.Refresh)
	scoped.GET("/estimates/summary", estimateHandler.Summary)

	scoped.GET("/territories", referenceHandler.Territories)
	scoped.GET("/pricing-templates", referenceHandler.PricingTemplates)
	scoped.GET("/materials/:material/waste", referenceHandler.Waste)

	scoped.GET("/notifications", notificationHandler.Recent)
	scoped.GET("/notifications/ws", notificationHandler.Stream)

	admin := scoped.Group("/cache", middleware.RBAC(domain.RoleAdmin, domain.RoleManager))
	admin.GET("/stats", cacheHandler.Stats)
	admin.DELETE("", cacheHandler.Clear)

	return e
}
