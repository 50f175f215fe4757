package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/streamvoice/internal/auth"
	"github.com/satriahrh/streamvoice/internal/metrics"
	"github.com/satriahrh/streamvoice/internal/websocket"
)

// ServiceName is reported by the health check
const ServiceName = "streamvoice"

const principalKey = "principal"

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, authn *auth.Authenticator, m *metrics.Metrics, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: ServiceName,
		})
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	requirePrincipal := principalMiddleware(authn, logger)

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.GET("/whoami", whoAmI, requirePrincipal)

	// WebSocket endpoint for audio streaming
	e.GET("/intent", func(c echo.Context) error {
		return hub.HandleWebSocket(c, principalOf(c))
	}, requirePrincipal)
}

func whoAmI(c echo.Context) error {
	return c.JSON(http.StatusOK, WhoAmIResponse{Principal: principalOf(c)})
}

func principalOf(c echo.Context) string {
	if principal, ok := c.Get(principalKey).(string); ok && principal != "" {
		return principal
	}
	return auth.AnonymousPrincipal
}

// principalMiddleware resolves the caller from a JWT in the Authorization
// header or the access_token query parameter. Browsers cannot set headers on
// a WebSocket upgrade, hence the query parameter. With authentication
// disabled every caller is anonymous.
func principalMiddleware(authn *auth.Authenticator, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !authn.Enabled() {
				c.Set(principalKey, auth.AnonymousPrincipal)
				return next(c)
			}

			token := bearerToken(c.Request())
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header or access_token parameter",
				})
			}

			claims, err := authn.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token",
					zap.String("path", c.Path()),
					zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(principalKey, claims.Principal)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}
