package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
	"github.com/tsaircargo/whatsapp-gateway/pkg/redis"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.RecipientEntity{},
		&repository.AttemptEntity{},
		&repository.WebhookEventEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestRecipient(t *testing.T, db *pg.DB, fullName, phone, role string) *repository.RecipientEntity {
	ctx := context.Background()
	recipient := &repository.RecipientEntity{
		FullName: fullName,
		Phone:    phone,
		Role:     role,
	}
	err := db.Write(ctx).Create(recipient).Error
	require.NoError(t, err)
	return recipient
}

func CreateTestAttempt(t *testing.T, db *pg.DB, phone, message, status string) *repository.AttemptEntity {
	ctx := context.Background()
	att := &repository.AttemptEntity{
		Phone:             phone,
		Message:           message,
		MessageType:       "notification",
		Priority:          3,
		Status:            status,
		MaxAttempts:       3,
		RetryDelaySeconds: 300,
		CreatedAt:         time.Now(),
	}
	err := db.Write(ctx).Create(att).Error
	require.NoError(t, err)
	return att
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
