package services

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/tsaircargo/whatsapp-gateway/internal/gateways"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) Get(ctx context.Context, id int64) (*model.Attempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) List(ctx context.Context, f model.AttemptFilter) ([]*model.Attempt, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Attempt), args.Get(1).(int64), args.Error(2)
}

func (m *MockAttemptRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Attempt, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) ClaimForSend(ctx context.Context, id int64) (*model.Attempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) MarkSent(ctx context.Context, id int64, providerMessageID string, providerResponse []byte) (*model.Attempt, error) {
	args := m.Called(ctx, id, providerMessageID, providerResponse)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) MarkFailedRetry(ctx context.Context, id int64, errorMessage, errorCode string, nextRetryAt time.Time) (*model.Attempt, error) {
	args := m.Called(ctx, id, errorMessage, errorCode, nextRetryAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) MarkFailedFinal(ctx context.Context, id int64, errorMessage, errorCode string) (*model.Attempt, error) {
	args := m.Called(ctx, id, errorMessage, errorCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) Cancel(ctx context.Context, id int64) (*model.Attempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) CancelWhere(ctx context.Context, f repository.CancelFilter) (int64, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAttemptRepository) MakeDueNow(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAttemptRepository) StatsSummary(ctx context.Context, since time.Time) (*model.StatsSummary, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StatsSummary), args.Error(1)
}

func (m *MockAttemptRepository) TypeBreakdown(ctx context.Context, since time.Time) ([]model.TypeStats, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TypeStats), args.Error(1)
}

func (m *MockAttemptRepository) PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recipient), args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

func ptrBool(v bool) *bool { return &v }

func newTestService(attemptRepo *MockAttemptRepository, recipientRepo *MockRecipientRepository, sender *MockSender) *AttemptService {
	return NewAttemptService(attemptRepo, recipientRepo, sender, RetryPolicy{
		MaxAttempts:        3,
		BaseDelay:          5 * time.Minute,
		ExponentialBackoff: true,
	}, RedirectPolicy{})
}

func TestAttemptService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes phone and applies defaults", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

		attemptRepo.On("Create", ctx, mock.MatchedBy(func(a *model.Attempt) bool {
			return a.Phone == "+22376123456" &&
				a.Status == model.AttemptStatusPending &&
				a.MaxAttempts == 3 &&
				a.RetryDelaySeconds == 300 &&
				a.Priority == model.DefaultPriority &&
				a.MessageType == model.MessageTypeNotification
		})).Return(&model.Attempt{ID: 1, Status: model.AttemptStatusPending}, nil)

		created, err := service.Create(ctx, model.AttemptCreateRequest{
			Phone:   "76 12 34 56",
			Message: "Votre colis est arrive",
			SendNow: ptrBool(false),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.ID)
		attemptRepo.AssertExpectations(t)
	})

	t.Run("sends immediately by default", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("Create", ctx, mock.Anything).
			Return(&model.Attempt{ID: 3, Phone: "+22376123456", Message: "Bonjour", Status: model.AttemptStatusPending}, nil)
		attemptRepo.On("ClaimForSend", ctx, int64(3)).
			Return(&model.Attempt{ID: 3, Phone: "+22376123456", Message: "Bonjour", Status: model.AttemptStatusSending, AttemptCount: 1, MaxAttempts: 3}, nil)
		sender.On("Send", ctx, mock.Anything).
			Return(&gateway.SendResponse{ProviderMessageID: "wamid-3"}, nil)
		attemptRepo.On("MarkSent", ctx, int64(3), "wamid-3", mock.Anything).
			Return(&model.Attempt{ID: 3, Status: model.AttemptStatusSent}, nil)

		created, err := service.Create(ctx, model.AttemptCreateRequest{
			Phone:   "+22376123456",
			Message: "Bonjour",
		})
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusSent, created.Status)
		sender.AssertExpectations(t)
	})

	t.Run("resolves recipient phone", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		recipientRepo := new(MockRecipientRepository)
		service := newTestService(attemptRepo, recipientRepo, new(MockSender))

		recipientID := int64(9)
		recipientRepo.On("Get", ctx, recipientID).
			Return(&model.Recipient{ID: recipientID, Phone: "+22376999999"}, nil)
		attemptRepo.On("Create", ctx, mock.MatchedBy(func(a *model.Attempt) bool {
			return a.Phone == "+22376999999" && a.RecipientID != nil && *a.RecipientID == recipientID
		})).Return(&model.Attempt{ID: 2}, nil)

		_, err := service.Create(ctx, model.AttemptCreateRequest{
			RecipientID: &recipientID,
			Message:     "Bonjour",
			SendNow:     ptrBool(false),
		})
		require.NoError(t, err)
		recipientRepo.AssertExpectations(t)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		recipientRepo := new(MockRecipientRepository)
		service := newTestService(new(MockAttemptRepository), recipientRepo, new(MockSender))

		recipientID := int64(404)
		recipientRepo.On("Get", ctx, recipientID).Return(nil, repository.ErrRecipientNotFound)

		_, err := service.Create(ctx, model.AttemptCreateRequest{
			RecipientID: &recipientID,
			Message:     "Bonjour",
		})
		assert.ErrorIs(t, err, ErrNoRecipient)
	})

	t.Run("rejects missing message", func(t *testing.T) {
		service := newTestService(new(MockAttemptRepository), new(MockRecipientRepository), new(MockSender))

		_, err := service.Create(ctx, model.AttemptCreateRequest{Phone: "76123456"})
		assert.Error(t, err)
	})

	t.Run("rejects unformattable phone", func(t *testing.T) {
		service := newTestService(new(MockAttemptRepository), new(MockRecipientRepository), new(MockSender))

		_, err := service.Create(ctx, model.AttemptCreateRequest{Phone: "abc", Message: "hi"})
		assert.ErrorIs(t, err, model.ErrInvalidPhone)
	})
}

func TestAttemptService_Deliver(t *testing.T) {
	ctx := context.Background()

	claimed := func(count, max int) *model.Attempt {
		return &model.Attempt{
			ID:                 10,
			Phone:              "+22376123456",
			Message:            "Votre colis est arrive",
			Status:             model.AttemptStatusSending,
			AttemptCount:       count,
			MaxAttempts:        max,
			RetryDelaySeconds:  300,
			ExponentialBackoff: true,
		}
	}

	t.Run("success marks sent", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("ClaimForSend", ctx, int64(10)).Return(claimed(1, 3), nil)
		sender.On("Send", ctx, mock.MatchedBy(func(r *gateway.SendRequest) bool {
			return r.Phone == "+22376123456"
		})).Return(&gateway.SendResponse{ProviderMessageID: "wamid-1", RawBody: []byte(`{}`)}, nil)
		attemptRepo.On("MarkSent", ctx, int64(10), "wamid-1", []byte(`{}`)).
			Return(&model.Attempt{ID: 10, Status: model.AttemptStatusSent}, nil)

		att, err := service.Deliver(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusSent, att.Status)
		attemptRepo.AssertExpectations(t)
	})

	t.Run("first failure schedules base delay", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("ClaimForSend", ctx, int64(10)).Return(claimed(1, 3), nil)
		sendErr := &gateway.SendError{Code: "http_500", Message: "instance down"}
		sender.On("Send", ctx, mock.Anything).Return(nil, sendErr)
		attemptRepo.On("MarkFailedRetry", ctx, int64(10), sendErr.Error(), "http_500",
			mock.MatchedBy(func(next time.Time) bool {
				return time.Until(next) > 4*time.Minute && time.Until(next) <= 5*time.Minute
			})).Return(&model.Attempt{ID: 10, Status: model.AttemptStatusFailedRetry}, nil)

		att, err := service.Deliver(ctx, 10)
		assert.Error(t, err)
		assert.Equal(t, model.AttemptStatusFailedRetry, att.Status)
		attemptRepo.AssertExpectations(t)
	})

	t.Run("second failure doubles the delay", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("ClaimForSend", ctx, int64(10)).Return(claimed(2, 3), nil)
		sender.On("Send", ctx, mock.Anything).Return(nil, errors.New("timeout"))
		attemptRepo.On("MarkFailedRetry", ctx, int64(10), "timeout", "send_failed",
			mock.MatchedBy(func(next time.Time) bool {
				return time.Until(next) > 9*time.Minute && time.Until(next) <= 10*time.Minute
			})).Return(&model.Attempt{ID: 10, Status: model.AttemptStatusFailedRetry}, nil)

		_, err := service.Deliver(ctx, 10)
		assert.Error(t, err)
		attemptRepo.AssertExpectations(t)
	})

	t.Run("exhausted budget goes final", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("ClaimForSend", ctx, int64(10)).Return(claimed(3, 3), nil)
		sender.On("Send", ctx, mock.Anything).Return(nil, errors.New("still down"))
		attemptRepo.On("MarkFailedFinal", ctx, int64(10), "still down", "send_failed").
			Return(&model.Attempt{ID: 10, Status: model.AttemptStatusFailedFinal}, nil)

		att, err := service.Deliver(ctx, 10)
		assert.Error(t, err)
		assert.Equal(t, model.AttemptStatusFailedFinal, att.Status)
		attemptRepo.AssertExpectations(t)
	})

	t.Run("lost claim propagates", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

		attemptRepo.On("ClaimForSend", ctx, int64(10)).Return(nil, repository.ErrNotClaimable)

		_, err := service.Deliver(ctx, 10)
		assert.ErrorIs(t, err, repository.ErrNotClaimable)
	})
}

func TestAttemptService_Redirect(t *testing.T) {
	ctx := context.Background()

	attemptRepo := new(MockAttemptRepository)
	sender := new(MockSender)
	service := NewAttemptService(attemptRepo, new(MockRecipientRepository), sender,
		RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Minute, ExponentialBackoff: true},
		RedirectPolicy{Phone: "+22370000000"})

	attemptRepo.On("ClaimForSend", ctx, int64(5)).Return(&model.Attempt{
		ID:           5,
		Phone:        "+22376123456",
		Message:      "Bonjour",
		Status:       model.AttemptStatusSending,
		AttemptCount: 1,
		MaxAttempts:  3,
	}, nil)
	sender.On("Send", ctx, mock.MatchedBy(func(r *gateway.SendRequest) bool {
		return r.Phone == "+22370000000" && r.Message == "[ORIG: +22376123456] Bonjour"
	})).Return(&gateway.SendResponse{ProviderMessageID: "wamid-r"}, nil)
	attemptRepo.On("MarkSent", ctx, int64(5), "wamid-r", mock.Anything).
		Return(&model.Attempt{ID: 5, Status: model.AttemptStatusSent}, nil)

	_, err := service.Deliver(ctx, 5)
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestAttemptService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("maps repository errors", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

		attemptRepo.On("Cancel", ctx, int64(1)).Return(nil, repository.ErrNotCancellable).Once()
		_, err := service.Cancel(ctx, 1)
		assert.ErrorIs(t, err, ErrNotCancellable)

		attemptRepo.On("Cancel", ctx, int64(2)).Return(nil, repository.ErrNotFound).Once()
		_, err = service.Cancel(ctx, 2)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("bulk cancel passes the filter through", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

		phone := "+22376123456"
		attemptRepo.On("CancelWhere", ctx, repository.CancelFilter{Phone: &phone}).
			Return(int64(4), nil)

		n, err := service.CancelPending(ctx, repository.CancelFilter{Phone: &phone})
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})
}

func TestAttemptService_RetryNow(t *testing.T) {
	ctx := context.Background()

	t.Run("marks due and delivers", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		sender := new(MockSender)
		service := newTestService(attemptRepo, new(MockRecipientRepository), sender)

		attemptRepo.On("MakeDueNow", ctx, int64(7)).Return(nil)
		attemptRepo.On("ClaimForSend", ctx, int64(7)).Return(&model.Attempt{
			ID: 7, Phone: "+22376123456", Message: "m",
			Status: model.AttemptStatusSending, AttemptCount: 2, MaxAttempts: 3,
		}, nil)
		sender.On("Send", ctx, mock.Anything).Return(&gateway.SendResponse{ProviderMessageID: "wamid-7"}, nil)
		attemptRepo.On("MarkSent", ctx, int64(7), "wamid-7", mock.Anything).
			Return(&model.Attempt{ID: 7, Status: model.AttemptStatusSent}, nil)

		att, err := service.RetryNow(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusSent, att.Status)
	})

	t.Run("rejects non-waiting attempts", func(t *testing.T) {
		attemptRepo := new(MockAttemptRepository)
		service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

		attemptRepo.On("MakeDueNow", ctx, int64(8)).Return(repository.ErrNotRetryable)

		_, err := service.RetryNow(ctx, 8)
		assert.ErrorIs(t, err, ErrNotRetryable)
	})
}

func TestAttemptService_Stats(t *testing.T) {
	ctx := context.Background()
	attemptRepo := new(MockAttemptRepository)
	service := newTestService(attemptRepo, new(MockRecipientRepository), new(MockSender))

	summary := &model.StatsSummary{Counts: model.StatusCounts{Total: 10}}
	attemptRepo.On("StatsSummary", ctx, mock.AnythingOfType("time.Time")).Return(summary, nil)
	attemptRepo.On("TypeBreakdown", ctx, mock.AnythingOfType("time.Time")).
		Return([]model.TypeStats{{MessageType: model.MessageTypeNotification, Count: 10}}, nil)

	got, err := service.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, got.Window)
	require.Len(t, got.ByType, 1)
}
