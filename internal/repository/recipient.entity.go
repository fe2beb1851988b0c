package repository

import (
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/model"
)

type RecipientEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	FullName  string    `db:"full_name"  gorm:"column:full_name"`
	Phone     string    `db:"phone"      gorm:"column:phone;not null;index"`
	Role      string    `db:"role"       gorm:"column:role"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (RecipientEntity) TableName() string {
	return "recipients"
}

func toRecipientEntity(m *model.Recipient) *RecipientEntity {
	if m == nil {
		return nil
	}
	return &RecipientEntity{
		ID:        m.ID,
		FullName:  m.FullName,
		Phone:     m.Phone,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.Recipient {
	if e == nil {
		return nil
	}
	return &model.Recipient{
		ID:        e.ID,
		FullName:  e.FullName,
		Phone:     e.Phone,
		Role:      e.Role,
		CreatedAt: e.CreatedAt,
	}
}
