package repository

import (
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
)

type AttemptEntity struct {
	ID          int64  `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID *int64 `db:"recipient_id" gorm:"column:recipient_id;index"`
	Phone       string `db:"phone"        gorm:"column:phone;not null;index:idx_attempts_phone_created"`

	MessageType string `db:"message_type" gorm:"column:message_type;not null;default:notification;index"`
	Category    string `db:"category"     gorm:"column:category"`
	Priority    int    `db:"priority"     gorm:"column:priority;not null;default:3;index:idx_attempts_status_priority_created,priority:2"`

	Title   string `db:"title"   gorm:"column:title"`
	Message string `db:"message" gorm:"column:message;not null"`

	Status       string `db:"status"        gorm:"column:status;not null;default:pending;index:idx_attempts_status_created;index:idx_attempts_status_priority_created,priority:1"`
	AttemptCount int    `db:"attempt_count" gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts  int    `db:"max_attempts"  gorm:"column:max_attempts;not null;default:3"`

	CreatedAt      time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime;index:idx_attempts_status_created,priority:2;index:idx_attempts_phone_created,priority:2;index:idx_attempts_status_priority_created,priority:3"`
	FirstAttemptAt *time.Time `db:"first_attempt_at" gorm:"column:first_attempt_at"`
	LastAttemptAt  *time.Time `db:"last_attempt_at"  gorm:"column:last_attempt_at"`
	NextRetryAt    *time.Time `db:"next_retry_at"    gorm:"column:next_retry_at;index"`
	SentAt         *time.Time `db:"sent_at"          gorm:"column:sent_at"`
	DeliveredAt    *time.Time `db:"delivered_at"     gorm:"column:delivered_at"`

	ProviderMessageID *string `db:"provider_message_id" gorm:"column:provider_message_id;uniqueIndex"`
	ProviderResponse  []byte  `db:"provider_response"   gorm:"column:provider_response"`

	ErrorMessage string `db:"error_message" gorm:"column:error_message"`
	ErrorCode    string `db:"error_code"    gorm:"column:error_code"`

	RetryDelaySeconds  int  `db:"retry_delay_seconds" gorm:"column:retry_delay_seconds;not null;default:300"`
	ExponentialBackoff bool `db:"exponential_backoff" gorm:"column:exponential_backoff;not null;default:true"`

	SenderRole     string `db:"sender_role"     gorm:"column:sender_role"`
	RegionOverride string `db:"region_override" gorm:"column:region_override"`
	ContextData    []byte `db:"context_data"    gorm:"column:context_data"`
}

func (AttemptEntity) TableName() string {
	return "whatsapp_attempts"
}

func toAttemptEntity(m *model.Attempt) *AttemptEntity {
	if m == nil {
		return nil
	}
	return &AttemptEntity{
		ID:                 m.ID,
		RecipientID:        m.RecipientID,
		Phone:              m.Phone,
		MessageType:        string(m.MessageType),
		Category:           m.Category,
		Priority:           m.Priority,
		Title:              m.Title,
		Message:            m.Message,
		Status:             string(m.Status),
		AttemptCount:       m.AttemptCount,
		MaxAttempts:        m.MaxAttempts,
		CreatedAt:          m.CreatedAt,
		FirstAttemptAt:     m.FirstAttemptAt,
		LastAttemptAt:      m.LastAttemptAt,
		NextRetryAt:        m.NextRetryAt,
		SentAt:             m.SentAt,
		DeliveredAt:        m.DeliveredAt,
		ProviderMessageID:  m.ProviderMessageID,
		ProviderResponse:   m.ProviderResponse,
		ErrorMessage:       m.ErrorMessage,
		ErrorCode:          m.ErrorCode,
		RetryDelaySeconds:  m.RetryDelaySeconds,
		ExponentialBackoff: m.ExponentialBackoff,
		SenderRole:         m.SenderRole,
		RegionOverride:     m.RegionOverride,
		ContextData:        m.ContextData,
	}
}

func toAttemptModel(e *AttemptEntity) *model.Attempt {
	if e == nil {
		return nil
	}
	return &model.Attempt{
		ID:                 e.ID,
		RecipientID:        e.RecipientID,
		Phone:              e.Phone,
		MessageType:        model.MessageType(e.MessageType),
		Category:           e.Category,
		Priority:           e.Priority,
		Title:              e.Title,
		Message:            e.Message,
		Status:             model.AttemptStatus(e.Status),
		AttemptCount:       e.AttemptCount,
		MaxAttempts:        e.MaxAttempts,
		CreatedAt:          e.CreatedAt,
		FirstAttemptAt:     e.FirstAttemptAt,
		LastAttemptAt:      e.LastAttemptAt,
		NextRetryAt:        e.NextRetryAt,
		SentAt:             e.SentAt,
		DeliveredAt:        e.DeliveredAt,
		ProviderMessageID:  e.ProviderMessageID,
		ProviderResponse:   e.ProviderResponse,
		ErrorMessage:       e.ErrorMessage,
		ErrorCode:          e.ErrorCode,
		RetryDelaySeconds:  e.RetryDelaySeconds,
		ExponentialBackoff: e.ExponentialBackoff,
		SenderRole:         e.SenderRole,
		RegionOverride:     e.RegionOverride,
		ContextData:        e.ContextData,
	}
}

func toAttemptModels(entities []*AttemptEntity) []*model.Attempt {
	if entities == nil {
		return nil
	}
	models := make([]*model.Attempt, len(entities))
	for i, e := range entities {
		models[i] = toAttemptModel(e)
	}
	return models
}
