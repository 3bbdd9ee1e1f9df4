package models

import "time"

// TenantRules are the immutable booking rules of one restaurant.
// Opening hour ranges are "HH:MM-HH:MM"; end values past 24:00 are legal for
// ranges crossing midnight.
type TenantRules struct {
	SlotMinutes   int                 `bson:"slot_minutes" json:"slot_minutes"`     // booking grid granularity
	TableDuration int                 `bson:"table_duration" json:"table_duration"` // minutes a reservation occupies
	Capacity      int                 `bson:"capacity" json:"capacity"`             // max simultaneous covers
	OpeningHours  map[string][]string `bson:"opening_hours" json:"opening_hours"`   // weekday key ("mon".."sun") -> ordered ranges
}

// Tenant is one restaurant account, with its own rules and messaging credentials.
type Tenant struct {
	ID               string      `bson:"id" json:"id"`
	Slug             string      `bson:"slug" json:"slug"`
	Name             string      `bson:"name" json:"name"`
	WhatsAppPhoneID  string      `bson:"whatsapp_phone_id" json:"whatsapp_phone_id"`
	WhatsAppToken    string      `bson:"whatsapp_token" json:"-"`
	Rules            TenantRules `bson:"rules" json:"rules"`
	Address          string      `bson:"address,omitempty" json:"address,omitempty"`
	MenuURL          string      `bson:"menu_url,omitempty" json:"menu_url,omitempty"`
	CreatedAt        time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `bson:"updated_at" json:"updated_at"`
}
