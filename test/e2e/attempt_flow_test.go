package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/tsaircargo/whatsapp-gateway/internal/gateways"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	"github.com/tsaircargo/whatsapp-gateway/test/helpers"
)

// fakeProvider stands in for the WaChap API. Calls fail until failures
// reaches zero, then succeed with a generated provider id.
type fakeProvider struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeProvider) Send(_ context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, &gateway.SendError{Code: "provider_unreachable", Message: "connection refused"}
	}
	return &gateway.SendResponse{
		ProviderMessageID: fmt.Sprintf("wamid.e2e-%d", f.calls),
		Region:            gateway.ResolveRegion(req.Phone, req.SenderRole, req.RegionOverride),
		RawBody:           []byte(`{"status":"success"}`),
	}, nil
}

type testEnv struct {
	attemptRepo    *repository.AttemptRepository
	eventRepo      *repository.WebhookEventRepository
	provider       *fakeProvider
	attemptService *services.AttemptService
	retryService   *services.RetryService
	webhookService *services.WebhookService
	locker         *services.RedisRunLocker
	makeDue        func(t *testing.T, id int64)
}

func setupEnv(t *testing.T, failures int) *testEnv {
	db := helpers.SetupTestDB(t)
	_, redisAdap := helpers.SetupTestRedis(t)

	attemptRepo := repository.NewAttemptRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)

	provider := &fakeProvider{failures: failures}

	attemptService := services.NewAttemptService(attemptRepo, recipientRepo, provider,
		services.RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Minute, ExponentialBackoff: true},
		services.RedirectPolicy{})
	locker := services.NewRedisRunLocker(redisAdap)
	retryService := services.NewRetryService(attemptRepo, attemptService, locker,
		services.RetryServiceConfig{BatchSize: 10, Workers: 2})
	webhookService := services.NewWebhookService(eventRepo, attemptRepo)

	makeDue := func(t *testing.T, id int64) {
		past := time.Now().Add(-time.Minute)
		err := db.Write(context.Background()).
			Model(&repository.AttemptEntity{}).
			Where("id = ?", id).
			Update("next_retry_at", past).Error
		require.NoError(t, err)
	}

	return &testEnv{
		attemptRepo:    attemptRepo,
		eventRepo:      eventRepo,
		provider:       provider,
		attemptService: attemptService,
		retryService:   retryService,
		webhookService: webhookService,
		locker:         locker,
		makeDue:        makeDue,
	}
}

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	env := setupEnv(t, 1) // first send fails, retry succeeds
	ctx := context.Background()

	att, err := env.attemptService.Create(ctx, model.AttemptCreateRequest{
		Phone:   "76 12 34 56",
		Message: "Votre colis CN-4411 est arrive a Bamako",
	})
	require.NoError(t, err)
	assert.Equal(t, "+22376123456", att.Phone)
	assert.Equal(t, model.AttemptStatusFailedRetry, att.Status)
	assert.Equal(t, 1, att.AttemptCount)
	require.NotNil(t, att.NextRetryAt)

	// scheduler picks it up once the backoff window is over
	env.makeDue(t, att.ID)
	stats, err := env.retryService.ProcessPendingRetries(ctx, services.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 0, stats.Failed)

	att, err = env.attemptService.Get(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusSent, att.Status)
	assert.Equal(t, 2, att.AttemptCount)
	require.NotNil(t, att.ProviderMessageID)

	// provider confirms delivery, then the recipient opens it
	raw, _ := json.Marshal(map[string]string{
		"type": "delivery", "status": "delivered", "message_id": *att.ProviderMessageID,
	})
	event, err := env.webhookService.Process(ctx, services.ProviderWebhook{
		Type: "delivery", Status: "delivered", MessageID: *att.ProviderMessageID,
	}, raw)
	require.NoError(t, err)
	require.NotNil(t, event.AttemptID)
	assert.Equal(t, att.ID, *event.AttemptID)

	_, err = env.webhookService.Process(ctx, services.ProviderWebhook{
		Type: "read", Status: "read", MessageID: *att.ProviderMessageID,
	}, raw)
	require.NoError(t, err)

	att, err = env.attemptService.Get(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusRead, att.Status)
	require.NotNil(t, att.DeliveredAt)

	history, err := env.webhookService.History(ctx, att.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRetryExhaustionEndToEnd(t *testing.T) {
	env := setupEnv(t, 100) // provider never recovers
	ctx := context.Background()

	att, err := env.attemptService.Create(ctx, model.AttemptCreateRequest{
		Phone:       "+22376555555",
		Message:     "Paiement recu",
		MaxAttempts: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusFailedRetry, att.Status)

	env.makeDue(t, att.ID)
	stats, err := env.retryService.ProcessPendingRetries(ctx, services.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)

	att, err = env.attemptService.Get(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusFailedFinal, att.Status)
	assert.Equal(t, 2, att.AttemptCount)
	assert.Equal(t, "provider_unreachable", att.ErrorCode)

	// exhausted records never come back
	due, err := env.attemptRepo.ListDueRetries(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSchedulerRunLockEndToEnd(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	require.NoError(t, env.locker.Acquire("another-run", time.Minute))
	defer env.locker.Release("another-run")

	_, err := env.retryService.ProcessPendingRetries(ctx, services.RunOptions{})
	assert.ErrorIs(t, err, services.ErrRunInProgress)

	// dry runs never contend for the lease
	stats, err := env.retryService.ProcessPendingRetries(ctx, services.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
}

func TestUnmatchedWebhookEndToEnd(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	event, err := env.webhookService.Process(ctx, services.ProviderWebhook{
		Type: "delivery", Status: "delivered", MessageID: "wamid.never-seen",
	}, []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, event.AttemptID)
	assert.Contains(t, event.ProcessingError, "wamid.never-seen")
}
