package model

import "time"

// Recipient is a known user of the platform. Attempts hold a weak reference
// to it: deleting a recipient keeps the attempt history (SET NULL).
type Recipient struct {
	ID        int64     `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	FullName  string    `json:"full_name"  db:"full_name"  gorm:"column:full_name"`
	Phone     string    `json:"phone"      db:"phone"      gorm:"column:phone;not null;index"`
	Role      string    `json:"role"       db:"role"       gorm:"column:role"` // e.g. "agent_chine", "agent_mali", "client"
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Recipient) TableName() string { return "recipients" }
