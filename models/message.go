package models

import "time"

// InboundMessage is one normalized message lifted out of a webhook payload.
// Interactive button/list replies are reduced to their text equivalent before
// reaching the orchestrator; audio messages carry the media id to transcribe.
type InboundMessage struct {
	Provider  string // e.g. "whatsapp"
	MessageID string
	From      string // customer phone, E.164
	Text      string
	AudioID   string // set for voice notes, empty otherwise
	Timestamp time.Time
}

// ProcessedMessage is the idempotency record: one row per accepted inbound
// message, guarded by a unique (tenant_id, provider, message_id) index.
type ProcessedMessage struct {
	TenantID    string    `bson:"tenant_id" json:"tenant_id"`
	Provider    string    `bson:"provider" json:"provider"`
	MessageID   string    `bson:"message_id" json:"message_id"`
	ProcessedAt time.Time `bson:"processed_at" json:"processed_at"`
}
