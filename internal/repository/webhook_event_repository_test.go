package repository

import (
	"context"
	"testing"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEventRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewWebhookEventRepository(db)
	ctx := context.Background()

	event := &model.WebhookEvent{
		ProviderMessageID: "wamid-abc",
		WebhookType:       model.WebhookTypeDelivery,
		Status:            model.WebhookStatusDelivered,
		RawPayload:        []byte(`{"message_id":"wamid-abc","status":"delivered"}`),
	}

	created, err := repo.Create(ctx, event)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.Processed)
	assert.NotZero(t, created.ReceivedAt)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "wamid-abc", got.ProviderMessageID)
	assert.JSONEq(t, `{"message_id":"wamid-abc","status":"delivered"}`, string(got.RawPayload))
}

func TestWebhookEventRepository_MarkProcessed(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewWebhookEventRepository(db)
	ctx := context.Background()

	t.Run("successful reconciliation links the attempt", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.WebhookEvent{
			ProviderMessageID: "wamid-ok",
			WebhookType:       model.WebhookTypeDelivery,
			Status:            model.WebhookStatusDelivered,
		})
		require.NoError(t, err)

		attemptID := int64(42)
		require.NoError(t, repo.MarkProcessed(ctx, created.ID, &attemptID, ""))

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.Processed)
		require.NotNil(t, got.AttemptID)
		assert.Equal(t, attemptID, *got.AttemptID)
		require.NotNil(t, got.ProcessedAt)
		assert.Empty(t, got.ProcessingError)
	})

	t.Run("failed reconciliation keeps the error", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.WebhookEvent{
			ProviderMessageID: "wamid-orphan",
			WebhookType:       model.WebhookTypeRead,
			Status:            model.WebhookStatusRead,
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkProcessed(ctx, created.ID, nil, "no attempt matched"))

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.Processed)
		assert.Nil(t, got.AttemptID)
		assert.Equal(t, "no attempt matched", got.ProcessingError)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := repo.MarkProcessed(ctx, 999999, nil, "")
		assert.ErrorIs(t, err, ErrWebhookEventNotFound)
	})
}

func TestWebhookEventRepository_Lists(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewWebhookEventRepository(db)
	ctx := context.Background()

	attemptID := int64(7)
	for i := 0; i < 3; i++ {
		created, err := repo.Create(ctx, &model.WebhookEvent{
			ProviderMessageID: "wamid-list",
			WebhookType:       model.WebhookTypeDelivery,
			Status:            model.WebhookStatusDelivered,
		})
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, repo.MarkProcessed(ctx, created.ID, &attemptID, ""))
		}
	}

	byAttempt, err := repo.ListByAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Len(t, byAttempt, 2)

	unprocessed, err := repo.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 1)
}
