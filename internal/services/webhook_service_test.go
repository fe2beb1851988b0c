package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error) {
	args := m.Called(ctx, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) MarkProcessed(ctx context.Context, id int64, attemptID *int64, processingError string) error {
	args := m.Called(ctx, id, attemptID, processingError)
	return args.Error(0)
}

func (m *MockWebhookEventRepository) ListByAttempt(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, attemptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

type MockAttemptReconciler struct {
	mock.Mock
}

func (m *MockAttemptReconciler) MarkDelivered(ctx context.Context, providerMessageID string) (*model.Attempt, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptReconciler) MarkRead(ctx context.Context, providerMessageID string) (*model.Attempt, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func TestWebhookService_Process(t *testing.T) {
	ctx := context.Background()
	raw := []byte(`{"type":"delivery","status":"delivered","message_id":"wamid-1"}`)

	t.Run("delivery webhook reconciles the attempt", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		reconciler := new(MockAttemptReconciler)
		service := NewWebhookService(eventRepo, reconciler)

		eventRepo.On("Create", ctx, mock.MatchedBy(func(e *model.WebhookEvent) bool {
			return e.ProviderMessageID == "wamid-1" && e.WebhookType == "delivery" && !e.Processed
		})).Return(&model.WebhookEvent{ID: 1, ProviderMessageID: "wamid-1"}, nil)
		reconciler.On("MarkDelivered", ctx, "wamid-1").
			Return(&model.Attempt{ID: 42, Status: model.AttemptStatusDelivered}, nil)
		attemptID := int64(42)
		eventRepo.On("MarkProcessed", ctx, int64(1), &attemptID, "").Return(nil)

		event, err := service.Process(ctx, ProviderWebhook{
			Type: "delivery", Status: "delivered", MessageID: "wamid-1",
		}, raw)
		require.NoError(t, err)
		assert.True(t, event.Processed)
		require.NotNil(t, event.AttemptID)
		assert.Equal(t, int64(42), *event.AttemptID)
		eventRepo.AssertExpectations(t)
		reconciler.AssertExpectations(t)
	})

	t.Run("read webhook uses the read transition", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		reconciler := new(MockAttemptReconciler)
		service := NewWebhookService(eventRepo, reconciler)

		eventRepo.On("Create", ctx, mock.Anything).
			Return(&model.WebhookEvent{ID: 2, ProviderMessageID: "wamid-2"}, nil)
		reconciler.On("MarkRead", ctx, "wamid-2").
			Return(&model.Attempt{ID: 7, Status: model.AttemptStatusRead}, nil)
		eventRepo.On("MarkProcessed", ctx, int64(2), mock.Anything, "").Return(nil)

		_, err := service.Process(ctx, ProviderWebhook{
			Type: "read", Status: "read", ID: "wamid-2",
		}, nil)
		require.NoError(t, err)
		reconciler.AssertExpectations(t)
	})

	t.Run("unknown combination is stored untouched", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		reconciler := new(MockAttemptReconciler)
		service := NewWebhookService(eventRepo, reconciler)

		eventRepo.On("Create", ctx, mock.Anything).
			Return(&model.WebhookEvent{ID: 3}, nil)
		eventRepo.On("MarkProcessed", ctx, int64(3), (*int64)(nil), "").Return(nil)

		event, err := service.Process(ctx, ProviderWebhook{
			Type: "typing", Status: "composing", MessageID: "wamid-3",
		}, nil)
		require.NoError(t, err)
		assert.Nil(t, event.AttemptID)
		reconciler.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
		reconciler.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
	})

	t.Run("unmatched webhook is success with a recorded error", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		reconciler := new(MockAttemptReconciler)
		service := NewWebhookService(eventRepo, reconciler)

		eventRepo.On("Create", ctx, mock.Anything).
			Return(&model.WebhookEvent{ID: 4}, nil)
		reconciler.On("MarkDelivered", ctx, "wamid-ghost").Return(nil, repository.ErrNotFound)
		eventRepo.On("MarkProcessed", ctx, int64(4), (*int64)(nil), mock.MatchedBy(func(msg string) bool {
			return msg != ""
		})).Return(nil)

		event, err := service.Process(ctx, ProviderWebhook{
			Type: "delivery", Status: "delivered", MessageID: "wamid-ghost",
		}, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, event.ProcessingError)
	})

	t.Run("missing message id is recorded", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		service := NewWebhookService(eventRepo, new(MockAttemptReconciler))

		eventRepo.On("Create", ctx, mock.Anything).Return(&model.WebhookEvent{ID: 5}, nil)
		eventRepo.On("MarkProcessed", ctx, int64(5), (*int64)(nil), mock.MatchedBy(func(msg string) bool {
			return msg != ""
		})).Return(nil)

		event, err := service.Process(ctx, ProviderWebhook{Type: "delivery", Status: "delivered"}, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, event.ProcessingError)
	})

	t.Run("event persistence failure is the only fatal path", func(t *testing.T) {
		eventRepo := new(MockWebhookEventRepository)
		service := NewWebhookService(eventRepo, new(MockAttemptReconciler))

		eventRepo.On("Create", ctx, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := service.Process(ctx, ProviderWebhook{
			Type: "delivery", Status: "delivered", MessageID: "wamid-x",
		}, nil)
		assert.Error(t, err)
	})
}
