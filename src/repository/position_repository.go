package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

// PositionRepository handles read/write operations for positions.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// PositionSearchOptions narrows Search results. Zero values are ignored.
type PositionSearchOptions struct {
	UserID   uint
	Symbol   *string
	Status   *string
	OpenOnly bool
	Limit    int
	Offset   int
}

// Create inserts a new position.
func (r *PositionRepository) Create(ctx context.Context, position *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "PositionRepository",
		"op":      "Create",
		"user_id": position.UserID,
		"symbol":  position.Symbol,
		"side":    position.Side,
	}).Debug("Creating new position")

	if err := r.db.WithContext(ctx).Create(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create position")
		return err
	}
	return nil
}

// FindByID fetches a position by primary ID. Returns (nil, nil) if not found.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var position model.Position
	err := r.db.WithContext(ctx).First(&position, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch position by ID")
		return nil, err
	}
	return &position, nil
}

// FindByIDAndUser fetches a position only if it belongs to the given user.
func (r *PositionRepository) FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Position, error) {
	var position model.Position
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindByIDAndUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch position by ID and user")
		return nil, err
	}
	return &position, nil
}

// FindOpenByUserAndSymbol returns the single open position for the pair, or
// (nil, nil) when the user holds nothing in that symbol.
func (r *PositionRepository) FindOpenByUserAndSymbol(ctx context.Context, userID uint, symbol string) (*model.Position, error) {
	var position model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ? AND status = ?", userID, symbol, model.PositionStatusOpen).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindOpenByUserAndSymbol",
			"user_id": userID,
			"symbol":  symbol,
		}).WithError(err).Error("Failed to fetch open position")
		return nil, err
	}
	return &position, nil
}

// FindOpenByUser returns all open positions for a user.
func (r *PositionRepository) FindOpenByUser(ctx context.Context, userID uint) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.PositionStatusOpen).
		Order("opened_at ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindOpenByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch open positions")
		return nil, err
	}
	return positions, nil
}

// CountOpenByUser returns the number of open positions for a user.
func (r *PositionRepository) CountOpenByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("user_id = ? AND status = ?", userID, model.PositionStatusOpen).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "CountOpenByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to count open positions")
		return 0, err
	}
	return count, nil
}

// DistinctOpenUserIDs lists every user currently holding an open position.
func (r *PositionRepository) DistinctOpenUserIDs(ctx context.Context) ([]uint, error) {
	var userIDs []uint
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("status = ?", model.PositionStatusOpen).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "DistinctOpenUserIDs",
		}).WithError(err).Error("Failed to list users with open positions")
		return nil, err
	}
	return userIDs, nil
}

// Search returns positions for a user honoring the filters in opts,
// newest first.
func (r *PositionRepository) Search(ctx context.Context, opts PositionSearchOptions) ([]model.Position, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", opts.UserID)

	if opts.Symbol != nil {
		query = query.Where("symbol = ?", *opts.Symbol)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.OpenOnly {
		query = query.Where("status = ?", model.PositionStatusOpen)
	}

	query = query.Order("opened_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var positions []model.Position
	if err := query.Find(&positions).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "Search",
			"user_id": opts.UserID,
		}).WithError(err).Error("Failed to search positions")
		return nil, err
	}
	return positions, nil
}

// Save persists every mutated field of the position.
func (r *PositionRepository) Save(ctx context.Context, position *model.Position) error {
	if err := r.db.WithContext(ctx).Save(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Save",
			"position_id": position.ID,
		}).WithError(err).Error("Failed to save position")
		return err
	}
	return nil
}
