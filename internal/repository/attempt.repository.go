package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when an attempt does not exist.
	ErrNotFound = errors.New("attempt not found")
	// ErrNotClaimable is returned when an attempt could not be claimed for
	// sending: not in a retryable status, budget exhausted, or another
	// worker claimed it first.
	ErrNotClaimable = errors.New("attempt not claimable for send")
	// ErrNotCancellable is returned when an attempt is not in a cancellable
	// status (only pending and failed_retry can be cancelled).
	ErrNotCancellable = errors.New("attempt not cancellable")
	// ErrNotRetryable is returned when a retry-now is requested for an
	// attempt that is not waiting in failed_retry.
	ErrNotRetryable = errors.New("attempt not awaiting retry")
)

var retryableStatuses = []string{
	string(model.AttemptStatusPending),
	string(model.AttemptStatusFailed),
	string(model.AttemptStatusFailedRetry),
}

var terminalStatuses = []string{
	string(model.AttemptStatusSent),
	string(model.AttemptStatusDelivered),
	string(model.AttemptStatusRead),
	string(model.AttemptStatusFailedFinal),
	string(model.AttemptStatusCancelled),
}

type AttemptRepository struct {
	*pg.DB
}

func NewAttemptRepository(db *pg.DB) *AttemptRepository {
	return &AttemptRepository{
		db,
	}
}

func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	entity := toAttemptEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAttemptModel(entity), nil
}

func (r *AttemptRepository) Get(ctx context.Context, id int64) (*model.Attempt, error) {
	var entity AttemptEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toAttemptModel(&entity), nil
}

func (r *AttemptRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Attempt, error) {
	var entity AttemptEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toAttemptModel(&entity), nil
}

func (r *AttemptRepository) List(ctx context.Context, f model.AttemptFilter) ([]*model.Attempt, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&AttemptEntity{})

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Phone != nil && *f.Phone != "" {
		q = q.Where("phone = ?", *f.Phone)
	}
	if f.MessageType != nil {
		q = q.Where("message_type = ?", string(*f.MessageType))
	}
	if f.Category != nil && *f.Category != "" {
		q = q.Where("category = ?", *f.Category)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*AttemptEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toAttemptModels(entities), total, nil
}

// ListDueRetries returns the attempts the scheduler should pick up now,
// highest priority and longest-overdue first, capped at limit.
func (r *AttemptRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	var entities []*AttemptEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ?", string(model.AttemptStatusFailedRetry)).
		Where("next_retry_at <= ?", now).
		Where("attempt_count < max_attempts").
		Order("priority ASC, next_retry_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toAttemptModels(entities), nil
}

// ClaimForSend atomically moves an attempt to sending, increments its
// counter and clears its retry timer. Exactly one concurrent caller per
// record succeeds; losers get ErrNotClaimable. The returned record reflects
// the post-claim state.
func (r *AttemptRepository) ClaimForSend(ctx context.Context, id int64) (*model.Attempt, error) {
	now := time.Now()

	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status IN ?", retryableStatuses).
		Where("attempt_count < max_attempts").
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Updates(map[string]interface{}{
			"status":           string(model.AttemptStatusSending),
			"attempt_count":    gorm.Expr("attempt_count + 1"),
			"first_attempt_at": gorm.Expr("COALESCE(first_attempt_at, ?)", now),
			"last_attempt_at":  now,
			"next_retry_at":    nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotClaimable
	}

	return r.get(ctx, id)
}

// MarkSent records a successful send. Only valid from sending, so a crashed
// or concurrent path cannot overwrite a webhook-driven state.
func (r *AttemptRepository) MarkSent(ctx context.Context, id int64, providerMessageID string, providerResponse []byte) (*model.Attempt, error) {
	now := time.Now()

	updates := map[string]interface{}{
		"status":            string(model.AttemptStatusSent),
		"sent_at":           now,
		"next_retry_at":     nil,
		"provider_response": providerResponse,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status = ?", string(model.AttemptStatusSending)).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.get(ctx, id)
}

// MarkFailedRetry schedules another try after the computed backoff.
func (r *AttemptRepository) MarkFailedRetry(ctx context.Context, id int64, errorMessage, errorCode string, nextRetryAt time.Time) (*model.Attempt, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status = ?", string(model.AttemptStatusSending)).
		Updates(map[string]interface{}{
			"status":        string(model.AttemptStatusFailedRetry),
			"error_message": errorMessage,
			"error_code":    errorCode,
			"next_retry_at": nextRetryAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.get(ctx, id)
}

// MarkFailedFinal ends the retry lifecycle: no further sends.
func (r *AttemptRepository) MarkFailedFinal(ctx context.Context, id int64, errorMessage, errorCode string) (*model.Attempt, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status = ?", string(model.AttemptStatusSending)).
		Updates(map[string]interface{}{
			"status":        string(model.AttemptStatusFailedFinal),
			"error_message": errorMessage,
			"error_code":    errorCode,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.get(ctx, id)
}

// MarkDelivered upgrades a sent attempt on a provider delivery callback.
// Reapplying it to an already delivered or read record is a no-op, so
// duplicate webhooks are safe.
func (r *AttemptRepository) MarkDelivered(ctx context.Context, providerMessageID string) (*model.Attempt, error) {
	now := time.Now()

	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("provider_message_id = ?", providerMessageID).
		Where("status = ?", string(model.AttemptStatusSent)).
		Updates(map[string]interface{}{
			"status":       string(model.AttemptStatusDelivered),
			"delivered_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Either unknown id or already past "sent"; let the caller decide.
		return r.GetByProviderMessageID(ctx, providerMessageID)
	}
	return r.GetByProviderMessageID(ctx, providerMessageID)
}

// MarkRead upgrades an attempt on a provider read receipt.
func (r *AttemptRepository) MarkRead(ctx context.Context, providerMessageID string) (*model.Attempt, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("provider_message_id = ?", providerMessageID).
		Where("status IN ?", []string{string(model.AttemptStatusSent), string(model.AttemptStatusDelivered)}).
		Update("status", string(model.AttemptStatusRead))
	if res.Error != nil {
		return nil, res.Error
	}
	return r.GetByProviderMessageID(ctx, providerMessageID)
}

// Cancel stops an attempt before its next send. Only pending and failed_retry
// records can be cancelled; a record mid-flight in sending is rejected.
func (r *AttemptRepository) Cancel(ctx context.Context, id int64) (*model.Attempt, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status IN ?", []string{string(model.AttemptStatusPending), string(model.AttemptStatusFailedRetry)}).
		Updates(map[string]interface{}{
			"status":        string(model.AttemptStatusCancelled),
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotCancellable
	}
	return r.get(ctx, id)
}

// CancelFilter selects pending/failed_retry attempts for bulk cancellation.
type CancelFilter struct {
	RecipientID *int64
	Phone       *string
	Category    *string
}

func (r *AttemptRepository) CancelWhere(ctx context.Context, f CancelFilter) (int64, error) {
	q := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("status IN ?", []string{string(model.AttemptStatusPending), string(model.AttemptStatusFailedRetry)})

	if f.RecipientID != nil {
		q = q.Where("recipient_id = ?", *f.RecipientID)
	}
	if f.Phone != nil && *f.Phone != "" {
		q = q.Where("phone = ?", *f.Phone)
	}
	if f.Category != nil && *f.Category != "" {
		q = q.Where("category = ?", *f.Category)
	}

	res := q.Updates(map[string]interface{}{
		"status":        string(model.AttemptStatusCancelled),
		"next_retry_at": nil,
	})
	return res.RowsAffected, res.Error
}

// MakeDueNow moves a failed_retry attempt's schedule to the present so the
// next scheduler run (or an immediate send) picks it up.
func (r *AttemptRepository) MakeDueNow(ctx context.Context, id int64) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("id = ?", id).
		Where("status = ?", string(model.AttemptStatusFailedRetry)).
		Update("next_retry_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.get(ctx, id); err != nil {
			return err
		}
		return ErrNotRetryable
	}
	return nil
}

// StatsSummary aggregates per-status counts for records created since the
// cutoff. Read-only; safe to run concurrently with the scheduler.
func (r *AttemptRepository) StatsSummary(ctx context.Context, since time.Time) (*model.StatsSummary, error) {
	row := struct {
		Total       int64
		Pending     int64
		Sending     int64
		Sent        int64
		Delivered   int64
		Read        int64
		FailedRetry int64
		FailedFinal int64
		Cancelled   int64
		AvgAttempts float64
	}{}

	err := r.Read(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Select(`
            COUNT(*)                                                     AS total,
            SUM(CASE WHEN status = 'pending'      THEN 1 ELSE 0 END)     AS pending,
            SUM(CASE WHEN status = 'sending'      THEN 1 ELSE 0 END)     AS sending,
            SUM(CASE WHEN status = 'sent'         THEN 1 ELSE 0 END)     AS sent,
            SUM(CASE WHEN status = 'delivered'    THEN 1 ELSE 0 END)     AS delivered,
            SUM(CASE WHEN status = 'read'         THEN 1 ELSE 0 END)     AS read,
            SUM(CASE WHEN status = 'failed_retry' THEN 1 ELSE 0 END)     AS failed_retry,
            SUM(CASE WHEN status = 'failed_final' THEN 1 ELSE 0 END)     AS failed_final,
            SUM(CASE WHEN status = 'cancelled'    THEN 1 ELSE 0 END)     AS cancelled,
            COALESCE(AVG(attempt_count), 0)                              AS avg_attempts
        `).
		Where("created_at >= ?", since).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	summary := &model.StatsSummary{
		Since: since,
		Counts: model.StatusCounts{
			Total:       row.Total,
			Pending:     row.Pending,
			Sending:     row.Sending,
			Sent:        row.Sent,
			Delivered:   row.Delivered,
			Read:        row.Read,
			FailedRetry: row.FailedRetry,
			FailedFinal: row.FailedFinal,
			Cancelled:   row.Cancelled,
		},
		AvgAttempts: row.AvgAttempts,
	}
	summary.ComputeRates()
	return summary, nil
}

// TypeBreakdown returns per-message-type totals for records created since the
// cutoff, most frequent type first.
func (r *AttemptRepository) TypeBreakdown(ctx context.Context, since time.Time) ([]model.TypeStats, error) {
	var rows []struct {
		MessageType string
		Count       int64
		SentCount   int64
		FailedCount int64
	}

	err := r.Read(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Select(`
            message_type,
            COUNT(*)                                                              AS count,
            SUM(CASE WHEN status IN ('sent', 'delivered', 'read') THEN 1 ELSE 0 END) AS sent_count,
            SUM(CASE WHEN status = 'failed_final' THEN 1 ELSE 0 END)              AS failed_count
        `).
		Where("created_at >= ?", since).
		Group("message_type").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make([]model.TypeStats, len(rows))
	for i, r := range rows {
		stats[i] = model.TypeStats{
			MessageType: model.MessageType(r.MessageType),
			Count:       r.Count,
			SentCount:   r.SentCount,
			FailedCount: r.FailedCount,
		}
	}
	return stats, nil
}

// PurgeTerminalOlderThan deletes terminal records created before the cutoff.
// Non-terminal records are never touched regardless of age: a stuck pending
// record is a bug signal, not garbage.
func (r *AttemptRepository) PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("status IN ?", terminalStatuses).
		Where("created_at < ?", cutoff).
		Delete(&AttemptEntity{})
	return res.RowsAffected, res.Error
}

func (r *AttemptRepository) get(ctx context.Context, id int64) (*model.Attempt, error) {
	var entity AttemptEntity
	err := r.Write(ctx).WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toAttemptModel(&entity), nil
}
