package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

// EquitySnapshotRepository records portfolio value snapshots and answers
// drawdown-peak queries.
type EquitySnapshotRepository struct {
	db *gorm.DB
}

// NewEquitySnapshotRepository creates a new repository instance using the main read/write database.
func NewEquitySnapshotRepository() *EquitySnapshotRepository {
	return &EquitySnapshotRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *EquitySnapshotRepository) WithDB(db *gorm.DB) *EquitySnapshotRepository {
	return &EquitySnapshotRepository{db: db}
}

// Record stores a snapshot of the user's total portfolio value.
func (r *EquitySnapshotRepository) Record(ctx context.Context, userID uint, totalValue decimal.Decimal) error {
	snapshot := &model.EquitySnapshot{
		UserID:     userID,
		TotalValue: totalValue,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "EquitySnapshotRepository",
			"op":      "Record",
			"user_id": userID,
		}).WithError(err).Error("Failed to record equity snapshot")
		return err
	}
	return nil
}

// Peak returns the historical maximum portfolio value recorded for the user.
// Returns zero when no snapshot exists yet.
func (r *EquitySnapshotRepository) Peak(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var snapshot model.EquitySnapshot
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("total_value DESC").
		First(&snapshot).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return decimal.Zero, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "EquitySnapshotRepository",
			"op":      "Peak",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch equity peak")
		return decimal.Zero, err
	}
	return snapshot.TotalValue, nil
}
