package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task is a location-tagged reminder owned by a single user.
type Task struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"index;size:36" json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    Location  `gorm:"type:text" json:"location"`
	Done        bool      `gorm:"default:false;index" json:"done"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"-"`
}

// BeforeCreate assigns a random id when the caller did not provide one.
func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
