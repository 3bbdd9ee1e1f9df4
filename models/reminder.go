package models

// ReminderPayload is the asynq task payload for a pre-reservation reminder.
type ReminderPayload struct {
	TenantID      string `json:"tenantId"`
	ReservationID string `json:"reservationId"`
	Phone         string `json:"phone"`
	SlotHuman     string `json:"slotHuman"` // e.g. "24/12/2026 alle 20:30"
}
