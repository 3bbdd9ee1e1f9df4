// File: handlers/availability.go
package handlers

import (
	"net/http"
	"strconv"
	"time"

	reservationRepo "tavolo/database/repository/reservation"
	"tavolo/middleware"
	"tavolo/models"
	"tavolo/services/availability"
	"tavolo/utils"

	"github.com/gin-gonic/gin"
)

// AvailabilityHandler serves the read-only REST surface used by dashboards
// and the restaurant's own site widgets.
type AvailabilityHandler struct {
	Engine       *availability.DefaultAvailabilityEngine
	Reservations reservationRepo.ReservationRepository
	Location     *time.Location
}

func NewAvailabilityHandler(engine *availability.DefaultAvailabilityEngine, reservations reservationRepo.ReservationRepository, loc *time.Location) *AvailabilityHandler {
	return &AvailabilityHandler{Engine: engine, Reservations: reservations, Location: loc}
}

func tenantFromContext(c *gin.Context) *models.Tenant {
	v, ok := c.Get(middleware.TenantContextKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*models.Tenant)
	return tenant
}

// CheckHandler validates one (date, time, people) triple.
// GET /api/:tenant/availability/check?date=2026-09-01&time=20:30&people=4
func (h *AvailabilityHandler) CheckHandler(c *gin.Context) {
	tenant := tenantFromContext(c)
	if tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	date := c.Query("date")
	hhmm := c.Query("time")
	people, err := strconv.Atoi(c.Query("people"))
	if date == "" || hhmm == "" || err != nil || people < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date, time and people are required"})
		return
	}

	result, err := h.Engine.Check(c.Request.Context(), tenant, date, hhmm, people, true)
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "availability check failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// FreeSlotsHandler lists bookable start times for a day.
// GET /api/:tenant/availability/slots?date=2026-09-01&people=4&limit=10
func (h *AvailabilityHandler) FreeSlotsHandler(c *gin.Context) {
	tenant := tenantFromContext(c)
	if tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	date := c.Query("date")
	people, err := strconv.Atoi(c.Query("people"))
	if date == "" || err != nil || people < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date and people are required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 50 {
		limit = 10
	}

	slots, err := h.Engine.ListFreeSlots(c.Request.Context(), tenant, date, people, limit)
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "failed to list free slots", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "people": people, "slots": slots})
}

// ListReservationsHandler returns a customer's upcoming reservations.
// GET /api/:tenant/reservations?phone=393331234567
func (h *AvailabilityHandler) ListReservationsHandler(c *gin.Context) {
	tenant := tenantFromContext(c)
	if tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	phone := c.Query("phone")
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	reservations, err := h.Reservations.ListUpcoming(c.Request.Context(), tenant.ID, phone, time.Now())
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to list reservations", err.Error())
		return
	}

	summaries := make([]models.ReservationSummary, 0, len(reservations))
	for _, r := range reservations {
		start := r.StartAt.In(h.Location)
		summaries = append(summaries, models.ReservationSummary{
			ID:     r.ID,
			Date:   utils.ToIsoDate(r.StartAt, h.Location),
			Time:   start.Format("15:04"),
			People: r.People,
			Name:   r.CustomerName,
			Status: r.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"reservations": summaries})
}
