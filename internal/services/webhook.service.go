package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/tsaircargo/whatsapp-gateway/pkg/prom"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id int64, attemptID *int64, processingError string) error
	ListByAttempt(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}

// AttemptReconciler is the slice of the attempt store the webhook path needs.
type AttemptReconciler interface {
	MarkDelivered(ctx context.Context, providerMessageID string) (*model.Attempt, error)
	MarkRead(ctx context.Context, providerMessageID string) (*model.Attempt, error)
}

// ProviderWebhook is the payload WaChap posts on delivery status changes.
type ProviderWebhook struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Phone     string          `json:"phone"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (w ProviderWebhook) providerMessageID() string {
	if w.MessageID != "" {
		return w.MessageID
	}
	return w.ID
}

type WebhookService struct {
	eventRepo   WebhookEventRepository
	attemptRepo AttemptReconciler
}

func NewWebhookService(eventRepo WebhookEventRepository, attemptRepo AttemptReconciler) *WebhookService {
	return &WebhookService{
		eventRepo:   eventRepo,
		attemptRepo: attemptRepo,
	}
}

// Process records an inbound provider callback and reconciles the matching
// attempt. The event is persisted before anything else so no callback is ever
// lost; reconciliation failures are recorded on the event, never returned to
// the provider.
func (s *WebhookService) Process(ctx context.Context, payload ProviderWebhook, raw []byte) (*model.WebhookEvent, error) {
	event, err := s.eventRepo.Create(ctx, &model.WebhookEvent{
		ProviderMessageID: payload.providerMessageID(),
		WebhookType:       payload.Type,
		Status:            payload.Status,
		RawPayload:        raw,
	})
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}

	attemptID, procErr := s.reconcile(ctx, payload)

	procMsg := ""
	if procErr != nil {
		procMsg = procErr.Error()
		prom.IncWebhookEvent("unmatched")
	} else if attemptID != nil {
		prom.IncWebhookEvent("reconciled")
	} else {
		prom.IncWebhookEvent("ignored")
	}
	if err := s.eventRepo.MarkProcessed(ctx, event.ID, attemptID, procMsg); err != nil {
		logger.Error("failed to finalize webhook event", "event_id", event.ID, "error", err)
	}

	event.AttemptID = attemptID
	event.Processed = true
	event.ProcessingError = procMsg
	now := time.Now()
	event.ProcessedAt = &now

	return event, nil
}

func (s *WebhookService) reconcile(ctx context.Context, payload ProviderWebhook) (*int64, error) {
	providerMessageID := payload.providerMessageID()
	if providerMessageID == "" {
		return nil, errors.New("webhook carries no message id")
	}

	webhookType := strings.ToLower(strings.TrimSpace(payload.Type))
	status := strings.ToLower(strings.TrimSpace(payload.Status))

	var (
		att *model.Attempt
		err error
	)
	switch {
	case webhookType == model.WebhookTypeDelivery && status == model.WebhookStatusDelivered:
		att, err = s.attemptRepo.MarkDelivered(ctx, providerMessageID)
	case webhookType == model.WebhookTypeRead && status == model.WebhookStatusRead:
		att, err = s.attemptRepo.MarkRead(ctx, providerMessageID)
	default:
		logger.Info("unhandled webhook combination",
			"webhook_type", payload.Type,
			"status", payload.Status,
			"provider_message_id", providerMessageID)
		return nil, nil
	}

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("webhook matched no attempt", "provider_message_id", providerMessageID)
			return nil, fmt.Errorf("no attempt with provider_message_id %s", providerMessageID)
		}
		return nil, err
	}

	logger.Info("webhook reconciled",
		"attempt_id", att.ID,
		"status", string(att.Status),
		"provider_message_id", providerMessageID)

	return &att.ID, nil
}

// History returns the callbacks recorded for one attempt.
func (s *WebhookService) History(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error) {
	return s.eventRepo.ListByAttempt(ctx, attemptID)
}

// Unprocessed lists events whose reconciliation never completed.
func (s *WebhookService) Unprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	return s.eventRepo.ListUnprocessed(ctx, limit)
}
