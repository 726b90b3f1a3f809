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

// TradeRepository handles read/write operations for immutable trade records.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main read/write database.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// TradeSearchOptions narrows Search results. Zero values are ignored.
type TradeSearchOptions struct {
	UserID         uint
	Symbol         *string
	OrderID        *uint
	PositionID     *uint
	ExecutedAfter  *time.Time
	ExecutedBefore *time.Time
	Limit          int
	Offset         int
}

// Create inserts a new trade. Trades are never updated afterwards.
func (r *TradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "Create",
		"order_id": trade.OrderID,
		"symbol":   trade.Symbol,
		"type":     trade.TradeType,
		"qty":      trade.Quantity,
	}).Debug("Creating trade record")

	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "Create",
			"order_id": trade.OrderID,
		}).WithError(err).Error("Failed to create trade")
		return err
	}
	return nil
}

// CountByOrderID reports how many trades have been recorded for an order.
// Used by the execution worker's idempotency guard.
func (r *TradeRepository) CountByOrderID(ctx context.Context, orderID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "CountByOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to count trades for order")
		return 0, err
	}
	return count, nil
}

// Search returns trades for a user honoring the filters in opts, newest first.
func (r *TradeRepository) Search(ctx context.Context, opts TradeSearchOptions) ([]model.Trade, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", opts.UserID)

	if opts.Symbol != nil {
		query = query.Where("symbol = ?", *opts.Symbol)
	}
	if opts.OrderID != nil {
		query = query.Where("order_id = ?", *opts.OrderID)
	}
	if opts.PositionID != nil {
		query = query.Where("position_id = ?", *opts.PositionID)
	}
	if opts.ExecutedAfter != nil {
		query = query.Where("executed_at >= ?", *opts.ExecutedAfter)
	}
	if opts.ExecutedBefore != nil {
		query = query.Where("executed_at <= ?", *opts.ExecutedBefore)
	}

	query = query.Order("executed_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var trades []model.Trade
	if err := query.Find(&trades).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "Search",
			"user_id": opts.UserID,
		}).WithError(err).Error("Failed to search trades")
		return nil, err
	}
	return trades, nil
}

// SumRealizedLossSince sums the negative realized P&L on trades executed at
// or after since. The result is a non-negative loss magnitude.
func (r *TradeRepository) SumRealizedLossSince(ctx context.Context, userID uint, since time.Time) (decimal.Decimal, error) {
	var trades []model.Trade
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND executed_at >= ? AND realized_pnl IS NOT NULL", userID, since).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "SumRealizedLossSince",
			"user_id": userID,
		}).WithError(err).Error("Failed to sum realized losses")
		return decimal.Zero, err
	}

	loss := decimal.Zero
	for _, trade := range trades {
		if trade.RealizedPnl != nil && trade.RealizedPnl.IsNegative() {
			loss = loss.Add(trade.RealizedPnl.Neg())
		}
	}
	return loss, nil
}
