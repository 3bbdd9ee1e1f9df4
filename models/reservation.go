package models

import "time"

// Reservation statuses. Reservations are never physically deleted; a cancel
// flips the status.
const (
	ReservationPending   = "pending"
	ReservationConfirmed = "confirmed"
	ReservationCancelled = "cancelled"
)

// Reservation represents one table hold for a customer.
type Reservation struct {
	ID            string    `bson:"id" json:"id"`                         // Unique reservation identifier (UUID)
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`           // Owning restaurant
	CustomerPhone string    `bson:"customer_phone" json:"customer_phone"` // E.164 sender
	CustomerName  string    `bson:"customer_name" json:"customer_name"`
	People        int       `bson:"people" json:"people"`   // Party size (covers)
	StartAt       time.Time `bson:"start_at" json:"start_at"`
	EndAt         time.Time `bson:"end_at" json:"end_at"` // StartAt + table duration
	Status        string    `bson:"status" json:"status"`
	Notes         string    `bson:"notes,omitempty" json:"notes,omitempty"`
	Source        string    `bson:"source" json:"source"`                             // originating channel, e.g. "whatsapp"
	MessageID     string    `bson:"message_id,omitempty" json:"message_id,omitempty"` // inbound message that confirmed it
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// ReservationSummary is the compact shape used in lists and NLU context.
type ReservationSummary struct {
	ID     string `json:"id"`
	Date   string `json:"date"` // YYYY-MM-DD
	Time   string `json:"time"` // HH:MM
	People int    `json:"people"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
