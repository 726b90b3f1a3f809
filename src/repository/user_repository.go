package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *GormUserRepository {
	return &GormUserRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *GormUserRepository) WithDB(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create inserts a new user.
func (r *GormUserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "GormUserRepository",
			"op":       "Create",
			"username": user.Username,
		}).WithError(err).Error("Failed to create user")
		return err
	}
	return nil
}

// GetUserByUsername fetches a user by username. Returns (nil, nil) if not found.
func (r *GormUserRepository) GetUserByUsername(
	ctx context.Context,
	username string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByAPIToken fetches a user by API token. Returns (nil, nil) if not found.
func (r *GormUserRepository) GetUserByAPIToken(
	ctx context.Context,
	token string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("api_token = ?", token).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
