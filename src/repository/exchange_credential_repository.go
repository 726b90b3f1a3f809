package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

// ExchangeCredentialRepository handles encrypted exchange API credentials.
type ExchangeCredentialRepository struct {
	db *gorm.DB
}

// NewExchangeCredentialRepository creates a new repository instance using the main read/write database.
func NewExchangeCredentialRepository() *ExchangeCredentialRepository {
	return &ExchangeCredentialRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExchangeCredentialRepository) WithDB(db *gorm.DB) *ExchangeCredentialRepository {
	return &ExchangeCredentialRepository{db: db}
}

// GetByUser fetches the credential row for a user. Returns (nil, nil) if none is stored.
func (r *ExchangeCredentialRepository) GetByUser(ctx context.Context, userID uint) (*model.ExchangeCredential, error) {
	var cred model.ExchangeCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "ExchangeCredentialRepository",
			"op":      "GetByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch exchange credential")
		return nil, err
	}
	return &cred, nil
}

// Upsert stores or replaces the credential row for a user.
func (r *ExchangeCredentialRepository) Upsert(ctx context.Context, cred *model.ExchangeCredential) error {
	existing, err := r.GetByUser(ctx, cred.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	}
	if err := r.db.WithContext(ctx).Save(cred).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "ExchangeCredentialRepository",
			"op":      "Upsert",
			"user_id": cred.UserID,
		}).WithError(err).Error("Failed to upsert exchange credential")
		return err
	}
	return nil
}
