package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/connectors"
	"orderengine/src/events"
	"orderengine/src/model"
)

// ErrOrderNotActive is returned when an operation targets an order that is
// already terminal or otherwise outside the active statuses.
var ErrOrderNotActive = errors.New("order is not in an active state")

// OrderStore is the order persistence surface the worker drives.
type OrderStore interface {
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	FindActiveWithExchangeID(ctx context.Context) ([]model.Order, error)
	UpdateStatusWithAutoLog(ctx context.Context, orderID uint, newStatus, reason string) error
	UpdateExchangeOrderID(ctx context.Context, orderID uint, exchangeOrderID string) error
	UpdateRejectReason(ctx context.Context, orderID uint, reason string) error
	UpdateFill(ctx context.Context, orderID uint, filledQty, avgPrice decimal.Decimal, filledAt time.Time) error
}

// TradeCounter answers the has-this-order-already-filled idempotency check.
type TradeCounter interface {
	CountByOrderID(ctx context.Context, orderID uint) (int64, error)
}

// PositionApplier folds a fill into position state.
type PositionApplier interface {
	Apply(ctx context.Context, order *model.Order, trade *model.Trade) (*model.Position, error)
}

// StopLossMonitor reports open positions whose stop level has been crossed.
type StopLossMonitor interface {
	MonitorPositionsForStopLoss(ctx context.Context, userID uint) ([]uint, error)
}

// UserSource lists users whose positions the monitor loop must scan.
type UserSource interface {
	DistinctOpenUserIDs(ctx context.Context) ([]uint, error)
}

// ExceptionStore persists system-level failures for auditing.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Worker executes queued orders against the exchange: submission, fill
// detection, trade creation and cancellation. It owns every order status
// transition past PENDING.
type Worker struct {
	orders     OrderStore
	trades     TradeCounter
	ledger     PositionApplier
	exchange   connectors.ExchangeClient
	sink       events.Sink
	feeRate    decimal.Decimal
	exceptions ExceptionStore
}

func NewWorker(orders OrderStore, trades TradeCounter, applier PositionApplier, exchange connectors.ExchangeClient, sink events.Sink, feeRate decimal.Decimal) *Worker {
	return &Worker{
		orders:   orders,
		trades:   trades,
		ledger:   applier,
		exchange: exchange,
		sink:     sink,
		feeRate:  feeRate,
	}
}

// WithExceptionStore enables persisted exception auditing.
func (w *Worker) WithExceptionStore(store ExceptionStore) *Worker {
	w.exceptions = store
	return w
}

// capture logs a system failure and, when an exception store is wired,
// persists it with the call stack for later auditing.
func (w *Worker) capture(ctx context.Context, method string, cause error, contextData map[string]interface{}) {
	if cause == nil {
		return
	}

	logger.WithFields(map[string]interface{}{
		"module": "executors",
		"method": method,
	}).WithError(cause).Error("System exception captured")

	if w.exceptions == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, err := json.Marshal(contextData); err == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   "order_engine",
		Module:    "executors",
		Method:    method,
		Message:   cause.Error(),
		Stack:     string(debug.Stack()),
		Level:     "error",
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}
	if err := w.exceptions.Create(ctx, exc); err != nil {
		logger.WithError(err).Error("Failed to persist exception")
	}
}

// ExecuteOrder runs one submission attempt. Duplicate deliveries are
// harmless: an order that is terminal or already carries an exchange id is
// skipped without touching the venue. A returned error feeds the queue's
// retry accounting; the order stays SUBMITTED (with the failure recorded as
// reject reason) until the attempt budget is spent.
func (w *Worker) ExecuteOrder(ctx context.Context, orderID uint, attempt int) error {
	order, err := w.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order == nil {
		logger.WithField("order_id", orderID).Warn("Execution job for unknown order, skipping")
		return nil
	}

	if !model.OrderStatusIsActive(order.Status) {
		logger.WithFields(map[string]interface{}{
			"order_id": orderID,
			"status":   order.Status,
		}).Info("Order no longer active, skipping execution job")
		return nil
	}
	if order.ExchangeOrderID != "" {
		logger.WithFields(map[string]interface{}{
			"order_id":          orderID,
			"exchange_order_id": order.ExchangeOrderID,
		}).Info("Order already submitted to exchange, skipping duplicate job")
		return nil
	}

	if order.Status == model.OrderStatusPending {
		if err := w.orders.UpdateStatusWithAutoLog(ctx, order.ID, model.OrderStatusSubmitted, "submitting to exchange"); err != nil {
			return fmt.Errorf("mark order %d submitted: %w", order.ID, err)
		}
		order.Status = model.OrderStatusSubmitted
		events.Publish(ctx, w.sink, events.OrderSubmitted, order)
	}

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"type":     order.OrderType,
		"attempt":  attempt,
	}).Info("Submitting order to exchange")

	exchangeOrderID, err := w.exchange.PlaceOrder(ctx, connectors.ToOrderParams(order))
	if err != nil {
		if updErr := w.orders.UpdateRejectReason(ctx, order.ID, err.Error()); updErr != nil {
			logger.WithError(updErr).WithField("order_id", order.ID).Error("Failed to record submission error")
		}
		return fmt.Errorf("place order %d on exchange: %w", order.ID, err)
	}

	if err := w.orders.UpdateExchangeOrderID(ctx, order.ID, exchangeOrderID); err != nil {
		return fmt.Errorf("store exchange order id for %d: %w", order.ID, err)
	}
	order.ExchangeOrderID = exchangeOrderID

	if err := w.orders.UpdateStatusWithAutoLog(ctx, order.ID, model.OrderStatusOpen, "accepted by exchange"); err != nil {
		return fmt.Errorf("mark order %d open: %w", order.ID, err)
	}
	order.Status = model.OrderStatusOpen
	events.Publish(ctx, w.sink, events.OrderOpened, order)

	// market orders fill immediately or not at all, check right away
	if order.OrderType == model.OrderTypeMarket {
		if err := w.detectFill(ctx, order); err != nil {
			logger.WithError(err).WithField("order_id", order.ID).Warn("Immediate fill detection failed, poller will retry")
		}
	}

	return nil
}

// MarkRejected makes the order terminally REJECTED after the retry budget is
// exhausted.
func (w *Worker) MarkRejected(ctx context.Context, orderID uint, cause error) {
	reason := "submission failed"
	if cause != nil {
		reason = cause.Error()
	}

	if err := w.orders.UpdateStatusWithAutoLog(ctx, orderID, model.OrderStatusRejected, reason); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Error("Failed to mark order rejected")
		return
	}

	logger.WithFields(map[string]interface{}{
		"order_id": orderID,
		"reason":   reason,
	}).Warn("Order rejected after exhausting retries")

	w.capture(ctx, "ExecuteOrder", cause, map[string]interface{}{"order_id": orderID})

	if order, err := w.orders.FindByID(ctx, orderID); err == nil && order != nil {
		events.Publish(ctx, w.sink, events.OrderRejected, order)
	}
}

// DetectFills scans every active order that has an exchange id against the
// venue's open-order set and processes the ones that disappeared.
func (w *Worker) DetectFills(ctx context.Context) error {
	orders, err := w.orders.FindActiveWithExchangeID(ctx)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	open, err := w.exchange.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders from exchange: %w", err)
	}

	for i := range orders {
		order := &orders[i]
		if _, stillOpen := open[order.ExchangeOrderID]; stillOpen {
			continue
		}
		if err := w.processFill(ctx, order); err != nil {
			w.capture(ctx, "DetectFills", err, map[string]interface{}{"order_id": order.ID})
		}
	}
	return nil
}

// detectFill checks a single order against the venue's open-order set.
func (w *Worker) detectFill(ctx context.Context, order *model.Order) error {
	open, err := w.exchange.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders from exchange: %w", err)
	}
	if _, stillOpen := open[order.ExchangeOrderID]; stillOpen {
		return nil
	}
	return w.processFill(ctx, order)
}

// processFill records the realized execution: exactly one Trade per fill
// event, the order moved to FILLED, and the position ledger updated.
func (w *Worker) processFill(ctx context.Context, order *model.Order) error {
	existing, err := w.trades.CountByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("count trades for order %d: %w", order.ID, err)
	}
	if existing > 0 {
		logger.WithField("order_id", order.ID).Info("Fill already processed, skipping")
		return nil
	}

	price, err := w.fillPrice(ctx, order)
	if err != nil {
		return err
	}

	quantity := order.Quantity
	value := quantity.Mul(price)
	fee := value.Mul(w.feeRate)
	filledAt := time.Now()

	if err := w.orders.UpdateFill(ctx, order.ID, quantity, price, filledAt); err != nil {
		return fmt.Errorf("record fill for order %d: %w", order.ID, err)
	}
	order.Status = model.OrderStatusFilled
	order.FilledQuantity = quantity
	order.AverageFillPrice = price
	order.FilledAt = &filledAt
	events.Publish(ctx, w.sink, events.OrderFilled, order)

	trade := &model.Trade{
		UserID:     order.UserID,
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity,
		Price:      price,
		Value:      value,
		Fee:        fee,
		Strategy:   order.Strategy,
		Confidence: order.Confidence,
		ExecutedAt: filledAt,
	}

	if _, err := w.ledger.Apply(ctx, order, trade); err != nil {
		return fmt.Errorf("apply trade for order %d to ledger: %w", order.ID, err)
	}
	events.Publish(ctx, w.sink, events.TradeExecuted, trade)

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"qty":      quantity,
		"price":    price,
		"fee":      fee,
	}).Info("Fill processed")

	return nil
}

// fillPrice resolves the realized execution price: the limit price when one
// exists, otherwise the current market price.
func (w *Worker) fillPrice(ctx context.Context, order *model.Order) (decimal.Decimal, error) {
	if order.Price != nil && order.Price.GreaterThan(decimal.Zero) {
		return *order.Price, nil
	}
	ticker, err := w.exchange.GetTicker(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch fill price for %s: %w", order.Symbol, err)
	}
	return ticker.Last, nil
}

// CancelOrder cancels on the exchange first and only then transitions the
// local order. An exchange-side failure leaves the order in its prior active
// state; the caller must retry explicitly.
func (w *Worker) CancelOrder(ctx context.Context, order *model.Order) error {
	if !model.OrderStatusIsActive(order.Status) {
		return ErrOrderNotActive
	}

	if order.ExchangeOrderID != "" {
		if err := w.exchange.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"order_id":          order.ID,
				"exchange_order_id": order.ExchangeOrderID,
			}).Error("Exchange-side cancel failed, order keeps its current status")
			return fmt.Errorf("cancel order %d on exchange: %w", order.ID, err)
		}
	}

	if err := w.orders.UpdateStatusWithAutoLog(ctx, order.ID, model.OrderStatusCancelled, "cancelled by user"); err != nil {
		return fmt.Errorf("mark order %d cancelled: %w", order.ID, err)
	}
	order.Status = model.OrderStatusCancelled
	now := time.Now()
	order.CancelledAt = &now
	events.Publish(ctx, w.sink, events.OrderCancelled, order)

	logger.WithField("order_id", order.ID).Info("Order cancelled")
	return nil
}

// RunFillDetectionLoop polls for fills until ctx is cancelled.
func (w *Worker) RunFillDetectionLoop(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 10 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger.WithField("period", period).Info("Fill detection loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Fill detection loop stopped")
			return
		case <-ticker.C:
			if err := w.DetectFills(ctx); err != nil {
				logger.WithError(err).Error("Fill detection pass failed")
			}
		}
	}
}

// RunStopLossMonitorLoop periodically scans open positions for crossed stop
// levels and publishes a notification for each triggered position.
func (w *Worker) RunStopLossMonitorLoop(ctx context.Context, monitor StopLossMonitor, users UserSource, period time.Duration) {
	if period <= 0 {
		period = 15 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger.WithField("period", period).Info("Stop-loss monitor loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stop-loss monitor loop stopped")
			return
		case <-ticker.C:
			userIDs, err := users.DistinctOpenUserIDs(ctx)
			if err != nil {
				logger.WithError(err).Error("Failed to list users with open positions")
				continue
			}
			for _, userID := range userIDs {
				triggered, err := monitor.MonitorPositionsForStopLoss(ctx, userID)
				if err != nil {
					logger.WithError(err).WithField("user_id", userID).Error("Stop-loss scan failed")
					continue
				}
				for _, positionID := range triggered {
					events.Publish(ctx, w.sink, events.StopLossTriggered, map[string]interface{}{
						"user_id":     userID,
						"position_id": positionID,
					})
				}
			}
		}
	}
}
