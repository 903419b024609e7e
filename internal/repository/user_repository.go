package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"nearby-tasks/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			TelegramID: telegramID,
			FirstName:  firstName,
			LastName:   lastName,
			Username:   username,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// SetTracking stores whether the user wants proximity alerts.
func (r *UserRepository) SetTracking(ctx context.Context, userID string, tracking bool) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("tracking", tracking)
	if res.Error != nil {
		return fmt.Errorf("set tracking: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// ListTracking returns the users with proximity alerts switched on.
func (r *UserRepository) ListTracking(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("tracking = ?", true).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list tracking users: %w", err)
	}
	return users, nil
}
