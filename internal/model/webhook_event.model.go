package model

import "time"

// Webhook types and statuses reported by the provider that the reconciler
// acts on. Anything else is logged but leaves the attempt untouched.
const (
	WebhookTypeDelivery = "delivery"
	WebhookTypeRead     = "read"

	WebhookStatusDelivered = "delivered"
	WebhookStatusRead      = "read"
)

// WebhookEvent records one inbound provider callback. Append-only: rows are
// never mutated except to set processed/processed_at/processing_error once.
type WebhookEvent struct {
	ID        int64    `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	AttemptID *int64   `json:"attempt_id" db:"attempt_id" gorm:"column:attempt_id;index"`
	Attempt   *Attempt `json:"-"                          gorm:"foreignKey:AttemptID;references:ID;constraint:OnDelete:SET NULL"`

	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id" gorm:"column:provider_message_id;not null;index"`
	WebhookType       string `json:"webhook_type"        db:"webhook_type"        gorm:"column:webhook_type;not null"`
	Status            string `json:"status"              db:"status"              gorm:"column:status;not null"`
	RawPayload        []byte `json:"raw_payload"         db:"raw_payload"         gorm:"column:raw_payload"`

	Processed       bool       `json:"processed"        db:"processed"        gorm:"column:processed;not null;default:false;index"`
	ProcessingError string     `json:"processing_error" db:"processing_error" gorm:"column:processing_error"`
	ReceivedAt      time.Time  `json:"received_at"      db:"received_at"      gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time `json:"processed_at"     db:"processed_at"     gorm:"column:processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
