package repository

import (
	"context"
	"errors"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

// ErrRecipientNotFound is returned when a recipient does not exist.
var ErrRecipientNotFound = errors.New("recipient not found")

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

func (r *RecipientRepository) Create(ctx context.Context, m *model.Recipient) (*model.Recipient, error) {
	entity := toRecipientEntity(m)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toRecipientModel(entity), nil
}

func (r *RecipientRepository) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	var entity RecipientEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) GetByPhone(ctx context.Context, phone string) (*model.Recipient, error) {
	var entity RecipientEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("phone = ?", phone).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecipientModel(&entity), nil
}
