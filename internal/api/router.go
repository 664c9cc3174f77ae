package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/services"
)

// RouterDeps holds the handlers mounted by NewRouter.
type RouterDeps struct {
	Webhooks   *services.WebhookService
	Access     *services.AccessService
	Audit      *services.AuditService
	Monitoring *services.MonitoringService
	APIKey     string
	RateLimit  float64
	Burst      int
	Logger     *zap.Logger

	// PasswordReset is nil when credentials live in an external identity
	// provider.
	PasswordReset *services.PasswordResetService
}

var disallowedWebhookMethods = []string{
	http.MethodGet,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
}

// NewRouter builds the HTTP surface.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery(deps.Logger))
	router.Use(Logger(deps.Logger))
	router.Use(CORS())

	router.GET("/health", deps.Monitoring.HandleHealthCheck)
	router.GET("/health/detailed", deps.Monitoring.HandleDetailedHealth)
	router.GET("/metrics", deps.Monitoring.HandleMetrics)

	apiV1 := router.Group("/api/v1")
	{
		webhooks := apiV1.Group("/webhooks")
		webhooks.Use(RateLimit(deps.RateLimit, deps.Burst))
		{
			routes := map[string]gin.HandlerFunc{
				"/kirvano": deps.Webhooks.HandleProviderWebhook,
				"/payment": deps.Webhooks.HandleCanonicalWebhook,
				"/stripe":  deps.Webhooks.HandleStripeWebhook,
			}
			for path, handler := range routes {
				webhooks.POST(path, handler)
				for _, method := range disallowedWebhookMethods {
					webhooks.Handle(method, path, deps.Webhooks.HandleMethodNotAllowed)
				}
			}
		}

		if deps.PasswordReset != nil {
			auth := apiV1.Group("/auth")
			auth.Use(RateLimit(deps.RateLimit, deps.Burst))
			auth.POST("/reset-password", deps.PasswordReset.HandleResetPassword)
		}

		operator := apiV1.Group("")
		operator.Use(RequireAPIKey(deps.APIKey))
		{
			operator.GET("/access", deps.Access.HandleGetAccess)
			operator.GET("/audit/webhooks", deps.Audit.HandleListWebhookEvents)
		}
	}

	return router
}
