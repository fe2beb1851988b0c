package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/tsaircargo/whatsapp-gateway/internal/gateways"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/tsaircargo/whatsapp-gateway/pkg/prom"
)

var (
	ErrNotFound       = errors.New("attempt not found")
	ErrNotCancellable = errors.New("attempt is not cancellable")
	ErrNotRetryable   = errors.New("attempt is not awaiting retry")
	ErrNoRecipient    = errors.New("no phone number and no recipient")
)

type AttemptRepository interface {
	Create(ctx context.Context, a *model.Attempt) (*model.Attempt, error)
	Get(ctx context.Context, id int64) (*model.Attempt, error)
	List(ctx context.Context, f model.AttemptFilter) ([]*model.Attempt, int64, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Attempt, error)
	ClaimForSend(ctx context.Context, id int64) (*model.Attempt, error)
	MarkSent(ctx context.Context, id int64, providerMessageID string, providerResponse []byte) (*model.Attempt, error)
	MarkFailedRetry(ctx context.Context, id int64, errorMessage, errorCode string, nextRetryAt time.Time) (*model.Attempt, error)
	MarkFailedFinal(ctx context.Context, id int64, errorMessage, errorCode string) (*model.Attempt, error)
	Cancel(ctx context.Context, id int64) (*model.Attempt, error)
	CancelWhere(ctx context.Context, f repository.CancelFilter) (int64, error)
	MakeDueNow(ctx context.Context, id int64) error
	StatsSummary(ctx context.Context, since time.Time) (*model.StatsSummary, error)
	TypeBreakdown(ctx context.Context, since time.Time) ([]model.TypeStats, error)
	PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type RecipientRepository interface {
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

// Sender is the provider client used to push one message out.
type Sender interface {
	Send(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error)
}

// RetryPolicy holds the defaults applied when a create request does not set
// its own retry knobs.
type RetryPolicy struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	ExponentialBackoff bool
}

// RedirectPolicy reroutes every message to a fixed number on non-production
// environments. The original recipient is named inside the message body.
type RedirectPolicy struct {
	Phone string
}

func (p RedirectPolicy) enabled() bool { return p.Phone != "" }

type AttemptService struct {
	attemptRepo   AttemptRepository
	recipientRepo RecipientRepository
	sender        Sender
	policy        RetryPolicy
	redirect      RedirectPolicy
}

func NewAttemptService(attemptRepo AttemptRepository, recipientRepo RecipientRepository, sender Sender, policy RetryPolicy, redirect RedirectPolicy) *AttemptService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = model.DefaultMaxAttempts
	}
	if policy.MaxAttempts > model.MaxAttemptsCeiling {
		policy.MaxAttempts = model.MaxAttemptsCeiling
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = model.DefaultRetryDelaySeconds * time.Second
	}
	return &AttemptService{
		attemptRepo:   attemptRepo,
		recipientRepo: recipientRepo,
		sender:        sender,
		policy:        policy,
		redirect:      redirect,
	}
}

// Create records a new attempt. Unless req.SendNow is explicitly false the
// first delivery is tried synchronously; a provider failure still returns the
// persisted record so the scheduler can pick it up later.
func (s *AttemptService) Create(ctx context.Context, req model.AttemptCreateRequest) (*model.Attempt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	phone := strings.TrimSpace(req.Phone)
	senderRole := req.SenderRole

	if req.RecipientID != nil {
		recipient, err := s.recipientRepo.Get(ctx, *req.RecipientID)
		if err != nil {
			if errors.Is(err, repository.ErrRecipientNotFound) {
				return nil, ErrNoRecipient
			}
			return nil, fmt.Errorf("resolve recipient: %w", err)
		}
		if phone == "" {
			phone = recipient.Phone
		}
	}
	if phone == "" {
		return nil, ErrNoRecipient
	}

	formatted, err := gateway.FormatPhone(phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidPhone, phone)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.policy.MaxAttempts
	}

	retryDelay := req.RetryDelaySeconds
	if retryDelay <= 0 {
		retryDelay = int(s.policy.BaseDelay / time.Second)
	}

	exponential := s.policy.ExponentialBackoff
	if req.ExponentialBackoff != nil {
		exponential = *req.ExponentialBackoff
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = model.MessageTypeNotification
	}

	priority := req.Priority
	if priority == 0 {
		priority = model.DefaultPriority
	}

	att := &model.Attempt{
		RecipientID:        req.RecipientID,
		Phone:              formatted,
		MessageType:        messageType,
		Category:           req.Category,
		Priority:           priority,
		Title:              req.Title,
		Message:            strings.TrimSpace(req.Message),
		Status:             model.AttemptStatusPending,
		MaxAttempts:        maxAttempts,
		RetryDelaySeconds:  retryDelay,
		ExponentialBackoff: exponential,
		SenderRole:         senderRole,
		RegionOverride:     req.RegionOverride,
		ContextData:        req.ContextData,
	}

	created, err := s.attemptRepo.Create(ctx, att)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	logger.Info("attempt created",
		"attempt_id", created.ID,
		"phone", created.Phone,
		"message_type", string(created.MessageType),
		"priority", created.Priority)

	if req.SendNow != nil && !*req.SendNow {
		return created, nil
	}

	delivered, err := s.Deliver(ctx, created.ID)
	if err != nil {
		// The record exists either way; surface its current state.
		if current, getErr := s.attemptRepo.Get(ctx, created.ID); getErr == nil {
			return current, nil
		}
		return created, nil
	}
	return delivered, nil
}

// Deliver claims the attempt, pushes it to the provider and persists the
// outcome. Losing the claim is not an error a caller can act on beyond
// skipping the record, so it surfaces as ErrNotClaimable.
func (s *AttemptService) Deliver(ctx context.Context, id int64) (*model.Attempt, error) {
	att, err := s.attemptRepo.ClaimForSend(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	phone, message := att.Phone, att.Message
	if s.redirect.enabled() {
		message = fmt.Sprintf("[ORIG: %s] %s", att.Phone, message)
		phone = s.redirect.Phone
	}

	start := time.Now()
	resp, sendErr := s.sender.Send(ctx, &gateway.SendRequest{
		Phone:          phone,
		Message:        message,
		SenderRole:     att.SenderRole,
		RegionOverride: att.RegionOverride,
	})
	if sendErr == nil {
		prom.IncAttemptSend("sent")
		prom.ObserveSendDuration(string(resp.Region), time.Since(start).Seconds())
		sent, err := s.attemptRepo.MarkSent(ctx, att.ID, resp.ProviderMessageID, resp.RawBody)
		if err != nil {
			return nil, fmt.Errorf("mark sent: %w", err)
		}
		logger.Info("attempt sent",
			"attempt_id", att.ID,
			"attempt_count", att.AttemptCount,
			"provider_message_id", resp.ProviderMessageID)
		return sent, nil
	}

	errCode := "send_failed"
	var se *gateway.SendError
	if errors.As(sendErr, &se) {
		errCode = se.Code
	}

	if att.AttemptCount >= att.MaxAttempts {
		prom.IncAttemptSend("failed_final")
		failed, err := s.attemptRepo.MarkFailedFinal(ctx, att.ID, sendErr.Error(), errCode)
		if err != nil {
			return nil, fmt.Errorf("mark failed final: %w", err)
		}
		logger.Warn("attempt exhausted",
			"attempt_id", att.ID,
			"attempt_count", att.AttemptCount,
			"error", sendErr.Error())
		return failed, sendErr
	}

	prom.IncAttemptSend("failed_retry")

	// The claim already counted this try, so the delay exponent is the
	// number of completed failures.
	delay := model.RetryDelay(att.AttemptCount-1, att.BaseRetryDelay(), att.ExponentialBackoff)
	nextRetryAt := time.Now().Add(delay)

	failed, err := s.attemptRepo.MarkFailedRetry(ctx, att.ID, sendErr.Error(), errCode, nextRetryAt)
	if err != nil {
		return nil, fmt.Errorf("mark failed retry: %w", err)
	}
	logger.Warn("attempt failed, retry scheduled",
		"attempt_id", att.ID,
		"attempt_count", att.AttemptCount,
		"next_retry_at", nextRetryAt,
		"error", sendErr.Error())
	return failed, sendErr
}

func (s *AttemptService) Get(ctx context.Context, id int64) (*model.Attempt, error) {
	att, err := s.attemptRepo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return att, err
}

func (s *AttemptService) List(ctx context.Context, f model.AttemptFilter) ([]*model.Attempt, int64, error) {
	return s.attemptRepo.List(ctx, f)
}

// Cancel stops a pending or waiting attempt.
func (s *AttemptService) Cancel(ctx context.Context, id int64) (*model.Attempt, error) {
	att, err := s.attemptRepo.Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrNotCancellable):
			return nil, ErrNotCancellable
		}
		return nil, err
	}
	logger.Info("attempt cancelled", "attempt_id", id)
	return att, nil
}

// CancelPending cancels every pending or waiting attempt matching the filter
// and returns how many were stopped.
func (s *AttemptService) CancelPending(ctx context.Context, f repository.CancelFilter) (int64, error) {
	n, err := s.attemptRepo.CancelWhere(ctx, f)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("attempts bulk cancelled", "count", n)
	}
	return n, nil
}

// RetryNow makes a waiting attempt due immediately and tries the delivery in
// place.
func (s *AttemptService) RetryNow(ctx context.Context, id int64) (*model.Attempt, error) {
	if err := s.attemptRepo.MakeDueNow(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrNotRetryable):
			return nil, ErrNotRetryable
		}
		return nil, err
	}

	att, err := s.Deliver(ctx, id)
	if err != nil && att == nil {
		// Delivery raced with another worker; report the current state.
		return s.Get(ctx, id)
	}
	return att, nil
}

// Stats aggregates attempt counts and rates over the given window.
func (s *AttemptService) Stats(ctx context.Context, window time.Duration) (*model.StatsSummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().Add(-window)

	summary, err := s.attemptRepo.StatsSummary(ctx, since)
	if err != nil {
		return nil, err
	}
	summary.Window = window

	byType, err := s.attemptRepo.TypeBreakdown(ctx, since)
	if err != nil {
		return nil, err
	}
	summary.ByType = byType

	return summary, nil
}
