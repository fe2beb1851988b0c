package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Process(ctx context.Context, payload services.ProviderWebhook, raw []byte) (*model.WebhookEvent, error) {
	args := m.Called(ctx, payload, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookService) History(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, attemptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookService) Unprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

func TestWebhookHandler_ReceiveWebhook(t *testing.T) {
	t.Run("acknowledges a delivery callback", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc)

		body := []byte(`{"type":"delivery","status":"delivered","message_id":"wamid-1"}`)
		svc.On("Process", mock.Anything, mock.MatchedBy(func(p services.ProviderWebhook) bool {
			return p.Type == "delivery" && p.MessageID == "wamid-1"
		}), body).Return(&model.WebhookEvent{ID: 11, Processed: true}, nil)

		ctx := setupTestContext("POST", "/webhooks/whatsapp", body)
		handler.ReceiveWebhook(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "received", response["status"])
		assert.Equal(t, float64(11), response["event_id"])
		svc.AssertExpectations(t)
	})

	t.Run("rejects unparseable payloads", func(t *testing.T) {
		handler := NewWebhookHandler(new(MockWebhookService))

		ctx := setupTestContext("POST", "/webhooks/whatsapp", []byte("not json"))
		handler.ReceiveWebhook(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("rejects a callback without a message id", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc)

		ctx := setupTestContext("POST", "/webhooks/whatsapp", []byte(`{"type":"delivery","status":"delivered"}`))
		handler.ReceiveWebhook(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Process")
	})

	t.Run("unmatched callback is still acknowledged", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc)

		body := []byte(`{"type":"delivery","status":"delivered","message_id":"wamid-ghost"}`)
		svc.On("Process", mock.Anything, mock.Anything, body).
			Return(&model.WebhookEvent{ID: 12, Processed: true, ProcessingError: "no attempt matched"}, nil)

		ctx := setupTestContext("POST", "/webhooks/whatsapp", body)
		handler.ReceiveWebhook(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})
}

func TestWebhookHandler_ListAttemptWebhooks(t *testing.T) {
	svc := new(MockWebhookService)
	handler := NewWebhookHandler(svc)

	svc.On("History", mock.Anything, int64(42)).
		Return([]*model.WebhookEvent{{ID: 1}, {ID: 2}}, nil)

	ctx := setupTestContext("GET", "/api/v1/attempts/42/webhooks", nil)
	ctx.SetUserValue("id", "42")
	handler.ListAttemptWebhooks(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response struct {
		Items []*model.WebhookEvent `json:"items"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Len(t, response.Items, 2)
}

func TestWebhookHandler_ListUnprocessed(t *testing.T) {
	svc := new(MockWebhookService)
	handler := NewWebhookHandler(svc)

	svc.On("Unprocessed", mock.Anything, 5).
		Return([]*model.WebhookEvent{{ID: 9}}, nil)

	ctx := setupTestContext("GET", "/api/v1/webhooks/unprocessed?limit=5", nil)
	handler.ListUnprocessed(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
}
