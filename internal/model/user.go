package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User stores Telegram user metadata.
type User struct {
	ID         string `gorm:"primaryKey;size:36"`
	TelegramID int64  `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	// Tracking is set while the user wants proximity alerts.
	Tracking  bool `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
