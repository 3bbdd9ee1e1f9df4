package routes

import (
	"net/http"
	"time"

	"tavolo/handlers"
	"tavolo/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterWebhookRoutes registers the WhatsApp Cloud API webhook endpoints.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/webhook/whatsapp", hb.VerifyWebhookHandler)
	r.POST("/webhook/whatsapp", hb.InboundWebhookHandler)
}

// RegisterAPIRoutes registers the per-tenant REST surface.
func RegisterAPIRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/:tenant")
	{
		api.Use(middleware.TenantResolver(hb.TenantRepo))
		api.GET("/availability/check", hb.CheckAvailabilityHandler)
		api.GET("/availability/slots", hb.FreeSlotsHandler)
		api.GET("/reservations", hb.ListReservationsHandler)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Hi, I'm Tavolo"})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterWebhookRoutes(r, hb)
	RegisterAPIRoutes(r, hb)
	RegisterHealthRoute(r)
}
