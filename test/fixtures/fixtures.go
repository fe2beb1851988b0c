package fixtures

import (
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
)

var (
	TestRecipientAgentMali = model.Recipient{
		ID:       1,
		FullName: "Moussa Diarra",
		Phone:    "+22376000001",
		Role:     "agent_mali",
	}

	TestRecipientAgentChine = model.Recipient{
		ID:       2,
		FullName: "Li Wei",
		Phone:    "+8613800000001",
		Role:     "agent_chine",
	}

	TestRecipientClient = model.Recipient{
		ID:       3,
		FullName: "Aminata Traore",
		Phone:    "+22376000002",
		Role:     "client",
	}
)

func NewTestAttempt(phone, message string) *model.Attempt {
	return &model.Attempt{
		Phone:              phone,
		MessageType:        model.MessageTypeNotification,
		Priority:           model.DefaultPriority,
		Message:            message,
		Status:             model.AttemptStatusPending,
		MaxAttempts:        3,
		RetryDelaySeconds:  300,
		ExponentialBackoff: true,
		CreatedAt:          time.Now(),
	}
}

func NewTestAttemptCreateRequest(phone, message string) model.AttemptCreateRequest {
	return model.AttemptCreateRequest{
		Phone:   phone,
		Message: message,
	}
}

var (
	ValidPhoneNumbers = []string{
		"+22376123456",
		"+8613800000000",
		"0022376123456",
		"76123456",
		"223 76 12 34 56",
	}

	InvalidPhoneNumbers = []string{
		"",
		"not-a-number",
		"+",
		"abc123",
	}
)

func AttemptWithID(id int64) *model.Attempt {
	att := NewTestAttempt("+22376123456", "Votre colis est arrive")
	att.ID = id
	return att
}

func AttemptFilterByPhone(phone string) model.AttemptFilter {
	return model.AttemptFilter{
		Phone:  &phone,
		Limit:  50,
		Offset: 0,
		Desc:   true,
	}
}

func AttemptFilterByStatus(statuses ...model.AttemptStatus) model.AttemptFilter {
	return model.AttemptFilter{
		Statuses: statuses,
		Limit:    50,
		Offset:   0,
		Desc:     true,
	}
}

func AttemptFilterByTimeRange(from, to time.Time) model.AttemptFilter {
	return model.AttemptFilter{
		From:   &from,
		To:     &to,
		Limit:  50,
		Offset: 0,
		Desc:   true,
	}
}
