package models

// PendingBooking is a proposed reservation awaiting the customer's "confermo".
type PendingBooking struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM
	People    int    `json:"people"`
	Name      string `json:"name"`
	Notes     string `json:"notes,omitempty"`
	ExpiresAt int64  `json:"expiresAt"` // epoch ms
}

// PendingCancel references a reservation awaiting cancel confirmation.
type PendingCancel struct {
	ReservationID string `json:"reservationId"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// PendingModify carries replacement fields awaiting modify confirmation.
type PendingModify struct {
	ReservationID string `json:"reservationId"`
	Date          string `json:"date,omitempty"`
	Time          string `json:"time,omitempty"`
	People        int    `json:"people,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// Draft accumulates partially collected booking fields across turns.
type Draft struct {
	Date   string `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
	People int    `json:"people,omitempty"`
	Name   string `json:"name,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// HistoryItem is one dialogue turn kept as context for the NLU and reply
// collaborators.
type HistoryItem struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
	TS   int64  `json:"ts"` // epoch ms
}

// SessionData is the per-(tenant, phone) conversation state. At most one
// pending slot is populated at a time; the store's setters clear the others.
type SessionData struct {
	PendingBooking *PendingBooking `json:"pendingBooking,omitempty"`
	PendingCancel  *PendingCancel  `json:"pendingCancel,omitempty"`
	PendingModify  *PendingModify  `json:"pendingModify,omitempty"`
	Draft          *Draft          `json:"draft,omitempty"`
	History        []HistoryItem   `json:"history,omitempty"`
	LastOutboundAt int64           `json:"lastOutboundAt,omitempty"` // epoch ms, outbound dedupe
}

// ConversationState is the tagged state derived from session contents.
type ConversationState int

const (
	StateIdle ConversationState = iota
	StateAwaitingBookingConfirm
	StateAwaitingCancelConfirm
	StateAwaitingModifyConfirm
	StateCollectingFields
)

func (s ConversationState) String() string {
	switch s {
	case StateAwaitingBookingConfirm:
		return "awaiting_booking_confirm"
	case StateAwaitingCancelConfirm:
		return "awaiting_cancel_confirm"
	case StateAwaitingModifyConfirm:
		return "awaiting_modify_confirm"
	case StateCollectingFields:
		return "collecting_fields"
	default:
		return "idle"
	}
}
