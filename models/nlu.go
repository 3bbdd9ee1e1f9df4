package models

// NLU intents.
const (
	IntentBookingCreate = "booking.create"
	IntentBookingModify = "booking.modify"
	IntentBookingCancel = "booking.cancel"
	IntentBookingList   = "booking.list"
	IntentInfoHours     = "info.hours"
	IntentInfoMenu      = "info.menu"
	IntentInfoAddress   = "info.address"
	IntentGreeting      = "greeting"
	IntentSmalltalk     = "smalltalk"
	IntentUnknown       = "unknown"
)

// Next actions returned by the NLU collaborator.
const (
	ActionAskClarification  = "ask_clarification"
	ActionCheckAvailability = "check_availability"
	ActionSendInfo          = "send_info"
	ActionListShow          = "list_show"
	ActionNone              = "none"
	ActionUnknown           = "unknown"
)

// NLUFields are the structured fields extracted from one message.
type NLUFields struct {
	Date          string `json:"date,omitempty"` // YYYY-MM-DD or a relative token
	Time          string `json:"time,omitempty"` // HH:MM
	People        int    `json:"people,omitempty"`
	Name          string `json:"name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// NLUResult is the parsed interpretation of one inbound message.
type NLUResult struct {
	Intent        string    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Fields        NLUFields `json:"fields"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	Reply         string    `json:"reply,omitempty"` // suggested reply text, optional
	NextAction    string    `json:"next_action"`
}

// NLUContext is the dialogue context handed to the NLU collaborator.
type NLUContext struct {
	TenantName         string
	Phone              string
	History            []HistoryItem
	ActiveReservations []ReservationSummary
	Locale             string
	Timezone           string
}
