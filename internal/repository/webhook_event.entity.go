package repository

import (
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
)

type WebhookEventEntity struct {
	ID                int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	AttemptID         *int64     `db:"attempt_id"          gorm:"column:attempt_id;index"`
	WebhookType       string     `db:"webhook_type"        gorm:"column:webhook_type;not null"`
	Status            string     `db:"status"              gorm:"column:status;not null"`
	ProviderMessageID string     `db:"provider_message_id" gorm:"column:provider_message_id;index"`
	RawPayload        []byte     `db:"raw_payload"         gorm:"column:raw_payload"`
	Processed         bool       `db:"processed"           gorm:"column:processed;not null;default:false;index"`
	ProcessingError   string     `db:"processing_error"    gorm:"column:processing_error"`
	ReceivedAt        time.Time  `db:"received_at"         gorm:"column:received_at;autoCreateTime;index"`
	ProcessedAt       *time.Time `db:"processed_at"        gorm:"column:processed_at"`
}

func (WebhookEventEntity) TableName() string {
	return "webhook_events"
}

func toWebhookEventEntity(m *model.WebhookEvent) *WebhookEventEntity {
	if m == nil {
		return nil
	}
	return &WebhookEventEntity{
		ID:                m.ID,
		AttemptID:         m.AttemptID,
		WebhookType:       m.WebhookType,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		RawPayload:        m.RawPayload,
		Processed:         m.Processed,
		ProcessingError:   m.ProcessingError,
		ReceivedAt:        m.ReceivedAt,
		ProcessedAt:       m.ProcessedAt,
	}
}

func toWebhookEventModel(e *WebhookEventEntity) *model.WebhookEvent {
	if e == nil {
		return nil
	}
	return &model.WebhookEvent{
		ID:                e.ID,
		AttemptID:         e.AttemptID,
		WebhookType:       e.WebhookType,
		Status:            e.Status,
		ProviderMessageID: e.ProviderMessageID,
		RawPayload:        e.RawPayload,
		Processed:         e.Processed,
		ProcessingError:   e.ProcessingError,
		ReceivedAt:        e.ReceivedAt,
		ProcessedAt:       e.ProcessedAt,
	}
}

func toWebhookEventModels(entities []*WebhookEventEntity) []*model.WebhookEvent {
	if entities == nil {
		return nil
	}
	models := make([]*model.WebhookEvent, len(entities))
	for i, e := range entities {
		models[i] = toWebhookEventModel(e)
	}
	return models
}
