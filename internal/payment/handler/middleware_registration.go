package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// MiddlewareConfig holds middleware configuration
type MiddlewareConfig struct {
	EnableLogging bool
	EnableTracing bool
	EnableMetrics bool
	Secrets       Secrets
}

// DefaultMiddlewareConfig returns default middleware configuration
func DefaultMiddlewareConfig(secrets Secrets) MiddlewareConfig {
	return MiddlewareConfig{
		EnableLogging: true,
		EnableTracing: true,
		EnableMetrics: true,
		Secrets:       secrets,
	}
}

// RegisterMiddlewares registers all middlewares to the router
func RegisterMiddlewares(router *mux.Router, config MiddlewareConfig) {
	// Tracing first so logs carry the trace id
	if config.EnableTracing {
		router.Use(func(next http.Handler) http.Handler {
			return TracingMiddleware("http-request", next)
		})
	}

	if config.EnableLogging {
		router.Use(LoggingMiddleware)
	}

	if config.EnableMetrics {
		router.Use(MetricsMiddleware)
	}
}

// GetAuthMiddleware returns the auth middleware with the JWT secret
func (config MiddlewareConfig) GetAuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return AuthMiddleware(config.Secrets.JWT)
}

// GetAdminMiddleware returns the admin middleware with the JWT secret
func (config MiddlewareConfig) GetAdminMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return AdminMiddleware(config.Secrets.JWT)
}

// GetRenewalMiddleware returns the shared-secret middleware for the renewal trigger
func (config MiddlewareConfig) GetRenewalMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return SharedSecretMiddleware(config.Secrets.Renewal)
}
