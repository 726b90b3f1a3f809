package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/database"
	"orderengine/src/model"
)

// OrderRepository handles read/write operations for orders and their
// transition logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderSearchOptions narrows Search results. Zero values are ignored.
type OrderSearchOptions struct {
	UserID        uint
	Symbol        *string
	Status        *string
	ActiveOnly    bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

var activeOrderStatuses = []string{
	model.OrderStatusPending,
	model.OrderStatusSubmitted,
	model.OrderStatusOpen,
	model.OrderStatusPartiallyFilled,
}

// Create inserts a new order together with its initial transition log.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"symbol": order.Symbol,
		"side":   order.Side,
		"qty":    order.Quantity,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Create(transitionLog(order, order.Status, "created")).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")
	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")
		return nil, err
	}
	return &order, nil
}

// FindByIDAndUser fetches an order only if it belongs to the given user.
// Returns (nil, nil) if the order is not found or owned by someone else.
func (r *OrderRepository) FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "FindByIDAndUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch order by ID and user")
		return nil, err
	}
	return &order, nil
}

// FindByClientOrderID fetches an order by its idempotent client order id.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "FindByClientOrderID",
			"client_order_id": clientOrderID,
		}).WithError(err).Error("Failed to fetch order by client order ID")
		return nil, err
	}
	return &order, nil
}

// Search returns orders for a user, newest first, honoring the filters and
// pagination in opts.
func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	logger.WithFields(map[string]interface{}{
		"repo":    "OrderRepository",
		"op":      "Search",
		"user_id": opts.UserID,
	}).Debug("Searching orders")

	query := r.db.WithContext(ctx).Where("user_id = ?", opts.UserID)

	if opts.Symbol != nil {
		query = query.Where("symbol = ?", *opts.Symbol)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.ActiveOnly {
		query = query.Where("status IN ?", activeOrderStatuses)
	}
	if opts.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *opts.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "Search",
			"user_id": opts.UserID,
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}
	return orders, nil
}

// FindActiveWithExchangeID returns open/submitted orders that already carry an
// exchange order id, i.e. candidates for fill detection.
func (r *OrderRepository) FindActiveWithExchangeID(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ? AND exchange_order_id <> ''", []string{model.OrderStatusOpen, model.OrderStatusPartiallyFilled}).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindActiveWithExchangeID",
		}).WithError(err).Error("Failed to fetch active orders")
		return nil, err
	}
	return orders, nil
}

// UpdateStatusWithAutoLog moves an order to newStatus and writes a transition
// log entry in the same transaction. It refuses illegal transitions.
func (r *OrderRepository) UpdateStatusWithAutoLog(ctx context.Context, orderID uint, newStatus, reason string) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "OrderRepository",
		"op":        "UpdateStatusWithAutoLog",
		"order_id":  orderID,
		"newStatus": newStatus,
		"reason":    reason,
	}).Debug("Updating order status with automatic transition log")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}

		if order.Status != newStatus && !model.OrderCanTransition(order.Status, newStatus) {
			return ErrIllegalTransition
		}

		updates := map[string]interface{}{"status": newStatus}
		now := time.Now()
		switch newStatus {
		case model.OrderStatusSubmitted:
			updates["submitted_at"] = now
		case model.OrderStatusCancelled:
			updates["cancelled_at"] = now
		}
		if reason != "" && (newStatus == model.OrderStatusRejected || newStatus == model.OrderStatusExpired) {
			updates["reject_reason"] = reason
		}

		if err := tx.Model(&model.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			return err
		}

		order.Status = newStatus
		return tx.Create(transitionLog(&order, newStatus, reason)).Error
	})
}

// UpdateExchangeOrderID stores the venue-side id after a successful submission.
func (r *OrderRepository) UpdateExchangeOrderID(ctx context.Context, orderID uint, exchangeOrderID string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("exchange_order_id", exchangeOrderID).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":              "OrderRepository",
			"op":                "UpdateExchangeOrderID",
			"order_id":          orderID,
			"exchange_order_id": exchangeOrderID,
		}).WithError(err).Error("Failed to update exchange order id")
	}
	return err
}

// UpdateRejectReason records the last submission error without changing status.
func (r *OrderRepository) UpdateRejectReason(ctx context.Context, orderID uint, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("reject_reason", reason).Error
}

// UpdateFill marks the order filled and records fill quantity, average price
// and timestamp, plus the transition log, in one transaction.
func (r *OrderRepository) UpdateFill(ctx context.Context, orderID uint, filledQty, avgPrice decimal.Decimal, filledAt time.Time) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "UpdateFill",
		"order_id":   orderID,
		"filled_qty": filledQty,
		"avg_price":  avgPrice,
	}).Debug("Recording order fill")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}

		if !model.OrderCanTransition(order.Status, model.OrderStatusFilled) {
			return ErrIllegalTransition
		}
		if filledQty.GreaterThan(order.Quantity) {
			filledQty = order.Quantity
		}

		updates := map[string]interface{}{
			"status":             model.OrderStatusFilled,
			"filled_quantity":    filledQty,
			"average_fill_price": avgPrice,
			"filled_at":          filledAt,
		}
		if err := tx.Model(&model.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			return err
		}

		order.Status = model.OrderStatusFilled
		return tx.Create(transitionLog(&order, model.OrderStatusFilled, "filled")).Error
	})
}

// ErrIllegalTransition is returned when a status update would move an order
// backwards or out of a terminal state.
var ErrIllegalTransition = errors.New("illegal order status transition")

func transitionLog(order *model.Order, status, reason string) *model.OrderLog {
	return &model.OrderLog{
		OrderID:         order.ID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		OrderType:       order.OrderType,
		Quantity:        order.Quantity,
		Price:           order.Price,
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          status,
		Reason:          reason,
		CreatedAt:       time.Now(),
	}
}
