package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

// RiskSettingsRepository handles the per-user risk configuration rows.
type RiskSettingsRepository struct {
	db *gorm.DB
}

// NewRiskSettingsRepository creates a new repository instance using the main read/write database.
func NewRiskSettingsRepository() *RiskSettingsRepository {
	return &RiskSettingsRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RiskSettingsRepository) WithDB(db *gorm.DB) *RiskSettingsRepository {
	return &RiskSettingsRepository{db: db}
}

// GetOrCreate returns the user's risk settings, creating a row with the
// documented defaults on first access.
func (r *RiskSettingsRepository) GetOrCreate(ctx context.Context, userID uint) (*model.RiskSettings, error) {
	var settings model.RiskSettings
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskSettingsRepository",
			"op":      "GetOrCreate",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch risk settings")
		return nil, err
	}

	defaults := model.DefaultRiskSettings(userID)
	if err := r.db.WithContext(ctx).Create(defaults).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskSettingsRepository",
			"op":      "GetOrCreate",
			"user_id": userID,
		}).WithError(err).Error("Failed to create default risk settings")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "RiskSettingsRepository",
		"op":      "GetOrCreate",
		"user_id": userID,
	}).Info("Created default risk settings for user")
	return defaults, nil
}

// Update persists the given settings row. The row must already exist.
func (r *RiskSettingsRepository) Update(ctx context.Context, settings *model.RiskSettings) error {
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskSettingsRepository",
			"op":      "Update",
			"user_id": settings.UserID,
		}).WithError(err).Error("Failed to update risk settings")
		return err
	}
	return nil
}
