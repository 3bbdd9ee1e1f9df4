package handlers

import (
	tenantRepoPkg "tavolo/database/repository/tenant"

	"github.com/gin-gonic/gin"
)

// HandlerBundle aggregates every route handler plus the repositories the
// route middleware needs.
type HandlerBundle struct {
	TenantRepo tenantRepoPkg.TenantRepository

	// Webhook endpoints
	VerifyWebhookHandler  gin.HandlerFunc
	InboundWebhookHandler gin.HandlerFunc

	// Availability endpoints
	CheckAvailabilityHandler gin.HandlerFunc
	FreeSlotsHandler         gin.HandlerFunc

	// Reservation endpoints
	ListReservationsHandler gin.HandlerFunc
}
