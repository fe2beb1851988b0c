package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPhone is returned when a phone number cannot be normalized.
var ErrInvalidPhone = errors.New("invalid phone number")

// ErrValidation wraps every AttemptCreateRequest validation failure so
// callers can separate bad input from internal errors.
var ErrValidation = errors.New("invalid request")

// AttemptStatus is the lifecycle state of a message attempt.
type AttemptStatus string

const (
	AttemptStatusPending     AttemptStatus = "pending"
	AttemptStatusSending     AttemptStatus = "sending"
	AttemptStatusSent        AttemptStatus = "sent"
	AttemptStatusDelivered   AttemptStatus = "delivered"
	AttemptStatusRead        AttemptStatus = "read"
	AttemptStatusFailed      AttemptStatus = "failed"
	AttemptStatusFailedRetry AttemptStatus = "failed_retry"
	AttemptStatusFailedFinal AttemptStatus = "failed_final"
	AttemptStatusCancelled   AttemptStatus = "cancelled"
)

// MessageType classifies what kind of notification an attempt carries.
type MessageType string

const (
	MessageTypeAccount      MessageType = "account"
	MessageTypeOTP          MessageType = "otp"
	MessageTypeSystem       MessageType = "system"
	MessageTypeNotification MessageType = "notification"
	MessageTypeUrgent       MessageType = "urgent"
	MessageTypeReport       MessageType = "report"
	MessageTypeColisStatus  MessageType = "colis_status"
	MessageTypeLotStatus    MessageType = "lot_status"
	MessageTypeOther        MessageType = "other"
)

const (
	DefaultMaxAttempts       = 3
	DefaultRetryDelaySeconds = 300
	DefaultPriority          = 3
	MaxAttemptsCeiling       = 10

	// Exponent cap: delay never exceeds 32x the base.
	maxBackoffExponent = 5
)

// TerminalStatuses are the states from which no automated transition occurs.
// A record in one of these is never re-selected by the retry scheduler and is
// eligible for cleanup once old enough.
var TerminalStatuses = []AttemptStatus{
	AttemptStatusSent,
	AttemptStatusDelivered,
	AttemptStatusRead,
	AttemptStatusFailedFinal,
	AttemptStatusCancelled,
}

// RetryableStatuses are the states a send may be attempted from.
var RetryableStatuses = []AttemptStatus{
	AttemptStatusPending,
	AttemptStatusFailed,
	AttemptStatusFailedRetry,
}

func (s AttemptStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Attempt tracks one logical notification through its full retry lifecycle.
// A single record evolves; there is no per-try row.
type Attempt struct {
	ID          int64      `json:"id"           db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID *int64     `json:"recipient_id" db:"recipient_id" gorm:"column:recipient_id;index"`
	Recipient   *Recipient `json:"-"                              gorm:"foreignKey:RecipientID;references:ID;constraint:OnDelete:SET NULL"`
	Phone       string     `json:"phone"        db:"phone"        gorm:"column:phone;not null"`

	MessageType MessageType `json:"message_type" db:"message_type" gorm:"column:message_type;not null;default:notification"`
	Category    string      `json:"category"     db:"category"     gorm:"column:category"`
	Priority    int         `json:"priority"     db:"priority"     gorm:"column:priority;not null;default:3"` // 1=highest .. 5=lowest

	Title   string `json:"title"   db:"title"   gorm:"column:title"`
	Message string `json:"message" db:"message" gorm:"column:message;not null"`

	Status       AttemptStatus `json:"status"        db:"status"        gorm:"column:status;not null;default:pending;index"`
	AttemptCount int           `json:"attempt_count" db:"attempt_count" gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts  int           `json:"max_attempts"  db:"max_attempts"  gorm:"column:max_attempts;not null;default:3"`

	CreatedAt      time.Time  `json:"created_at"       db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	FirstAttemptAt *time.Time `json:"first_attempt_at" db:"first_attempt_at" gorm:"column:first_attempt_at"`
	LastAttemptAt  *time.Time `json:"last_attempt_at"  db:"last_attempt_at"  gorm:"column:last_attempt_at"`
	NextRetryAt    *time.Time `json:"next_retry_at"    db:"next_retry_at"    gorm:"column:next_retry_at;index"`
	SentAt         *time.Time `json:"sent_at"          db:"sent_at"          gorm:"column:sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at"     db:"delivered_at"     gorm:"column:delivered_at"`

	ProviderMessageID *string `json:"provider_message_id" db:"provider_message_id" gorm:"column:provider_message_id;uniqueIndex"`
	ProviderResponse  []byte  `json:"provider_response"   db:"provider_response"   gorm:"column:provider_response"`

	ErrorMessage string `json:"error_message" db:"error_message" gorm:"column:error_message"`
	ErrorCode    string `json:"error_code"    db:"error_code"    gorm:"column:error_code"`

	RetryDelaySeconds  int  `json:"retry_delay_seconds" db:"retry_delay_seconds" gorm:"column:retry_delay_seconds;not null;default:300"`
	ExponentialBackoff bool `json:"exponential_backoff" db:"exponential_backoff" gorm:"column:exponential_backoff;not null;default:true"`

	// Routing hints consumed by the provider client only.
	SenderRole     string `json:"sender_role"     db:"sender_role"     gorm:"column:sender_role"`
	RegionOverride string `json:"region_override" db:"region_override" gorm:"column:region_override"`

	// Opaque structured metadata; the core never branches on its contents.
	ContextData []byte `json:"context_data" db:"context_data" gorm:"column:context_data"`
}

func (Attempt) TableName() string { return "whatsapp_attempts" }

// RetryDelay computes the wait before the next retry from the number of
// attempts already made. With exponential backoff the delay doubles per prior
// attempt, capped at 32x the base; otherwise it is the base, constant.
func RetryDelay(attemptCount int, base time.Duration, exponential bool) time.Duration {
	if !exponential {
		return base
	}
	exp := attemptCount
	if exp < 0 {
		exp = 0
	}
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return base * (1 << uint(exp))
}

// BaseRetryDelay returns the attempt's configured base delay as a duration.
func (a *Attempt) BaseRetryDelay() time.Duration {
	if a.RetryDelaySeconds <= 0 {
		return DefaultRetryDelaySeconds * time.Second
	}
	return time.Duration(a.RetryDelaySeconds) * time.Second
}

// CanRetry reports whether a send may be attempted for this record now.
func (a *Attempt) CanRetry(now time.Time) bool {
	retryable := false
	for _, s := range RetryableStatuses {
		if a.Status == s {
			retryable = true
			break
		}
	}
	if !retryable || a.AttemptCount >= a.MaxAttempts {
		return false
	}
	return a.NextRetryAt == nil || !a.NextRetryAt.After(now)
}

// ShouldRetryNow is the scheduler's selection predicate: a failed_retry record
// whose backoff has elapsed and with retry budget left.
func (a *Attempt) ShouldRetryNow(now time.Time) bool {
	return a.Status == AttemptStatusFailedRetry &&
		a.NextRetryAt != nil && !a.NextRetryAt.After(now) &&
		a.AttemptCount < a.MaxAttempts
}

// AttemptCreateRequest is the input for creating an attempt.
type AttemptCreateRequest struct {
	RecipientID        *int64          `json:"recipient_id,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	MessageType        MessageType     `json:"message_type,omitempty"`
	Category           string          `json:"category,omitempty"`
	Priority           int             `json:"priority,omitempty"`
	Title              string          `json:"title,omitempty"`
	Message            string          `json:"message"`
	MaxAttempts        int             `json:"max_attempts,omitempty"`
	RetryDelaySeconds  int             `json:"retry_delay_seconds,omitempty"`
	ExponentialBackoff *bool           `json:"exponential_backoff,omitempty"` // nil means default
	SenderRole         string          `json:"sender_role,omitempty"`
	RegionOverride     string          `json:"region_override,omitempty"`
	ContextData        json.RawMessage `json:"context_data,omitempty"`

	// SendNow controls the synchronous first delivery right after creation.
	// nil means true; pass false to leave the record pending for an operator.
	SendNow *bool `json:"send_now,omitempty"`
}

func (p AttemptCreateRequest) Validate() error {
	if p.Phone == "" && p.RecipientID == nil {
		return fmt.Errorf("%w: phone or recipient_id is required", ErrValidation)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if p.Priority != 0 && (p.Priority < 1 || p.Priority > 5) {
		return fmt.Errorf("%w: priority must be between 1 and 5", ErrValidation)
	}
	if p.MaxAttempts != 0 && (p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsCeiling) {
		return fmt.Errorf("%w: max_attempts must be between 1 and 10", ErrValidation)
	}
	return nil
}

// AttemptFilter controls List queries.
type AttemptFilter struct {
	Statuses    []AttemptStatus // IN (...)
	Phone       *string         // equals
	MessageType *MessageType    // equals
	Category    *string         // equals
	From        *time.Time
	To          *time.Time
	Limit       int  // default 50
	Offset      int  // for pagination
	Desc        bool // order by created_at
}
