package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

// ErrWebhookEventNotFound is returned when a webhook event does not exist.
var ErrWebhookEventNotFound = errors.New("webhook event not found")

type WebhookEventRepository struct {
	*pg.DB
}

func NewWebhookEventRepository(db *pg.DB) *WebhookEventRepository {
	return &WebhookEventRepository{
		db,
	}
}

// Create persists an inbound callback before any reconciliation happens, so
// the raw payload survives even when processing fails.
func (r *WebhookEventRepository) Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error) {
	entity := toWebhookEventEntity(e)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toWebhookEventModel(entity), nil
}

func (r *WebhookEventRepository) Get(ctx context.Context, id int64) (*model.WebhookEvent, error) {
	var entity WebhookEventEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return toWebhookEventModel(&entity), nil
}

// MarkProcessed finalizes an event after reconciliation. A non-empty
// processingError records why the event could not be applied; the event still
// counts as processed so it is not retried.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, attemptID *int64, processingError string) error {
	now := time.Now()

	res := r.Write(ctx).WithContext(ctx).
		Model(&WebhookEventEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_id":       attemptID,
			"processed":        true,
			"processing_error": processingError,
			"processed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWebhookEventNotFound
	}
	return nil
}

// ListByAttempt returns the callbacks recorded for one attempt, oldest first.
func (r *WebhookEventRepository) ListByAttempt(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error) {
	var entities []*WebhookEventEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("received_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toWebhookEventModels(entities), nil
}

// ListUnprocessed returns events that never completed reconciliation, oldest
// first, for inspection or replay.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var entities []*WebhookEventEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("processed = ?", false).
		Order("received_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toWebhookEventModels(entities), nil
}
