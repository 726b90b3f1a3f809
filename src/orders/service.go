package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/connectors"
	"orderengine/src/events"
	"orderengine/src/ledger"
	"orderengine/src/model"
	"orderengine/src/repository"
	"orderengine/src/risk"
)

// clientOrderNamespace seeds the deterministic client order ids.
var clientOrderNamespace = uuid.MustParse("7d7c0b66-0f6e-5b1a-9d4e-2a1f3c5d7e9b")

// Enqueuer schedules the asynchronous execution of a persisted order.
type Enqueuer interface {
	Enqueue(orderID uint)
}

// Canceller performs the exchange-first cancellation flow.
type Canceller interface {
	CancelOrder(ctx context.Context, order *model.Order) error
}

// Service validates and persists order intents, orchestrates the risk gate
// and hands approved orders to the execution queue. It is also the query
// facade for orders, positions, trades and risk settings.
type Service struct {
	orders    *repository.OrderRepository
	positions *repository.PositionRepository
	trades    *repository.TradeRepository
	settings  *repository.RiskSettingsRepository
	engine    *risk.Engine
	ledger    *ledger.Ledger
	tickers   connectors.TickerSource
	queue     Enqueuer
	canceller Canceller
	sink      events.Sink
}

func NewService(
	orders *repository.OrderRepository,
	positions *repository.PositionRepository,
	trades *repository.TradeRepository,
	settings *repository.RiskSettingsRepository,
	engine *risk.Engine,
	positionLedger *ledger.Ledger,
	tickers connectors.TickerSource,
	queue Enqueuer,
	canceller Canceller,
	sink events.Sink,
) *Service {
	return &Service{
		orders:    orders,
		positions: positions,
		trades:    trades,
		settings:  settings,
		engine:    engine,
		ledger:    positionLedger,
		tickers:   tickers,
		queue:     queue,
		canceller: canceller,
		sink:      sink,
	}
}

// CreateOrderRequest is an order intent as received from the caller.
type CreateOrderRequest struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	OrderType   string           `json:"order_type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce string           `json:"time_in_force,omitempty"`

	// IdempotencyKey lets callers retry a create safely; the same key always
	// maps to the same client order id.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Strategy   string `json:"strategy,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

func requiresPrice(orderType string) bool {
	switch orderType {
	case model.OrderTypeLimit, model.OrderTypeStopLossLimit, model.OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

func requiresStopPrice(orderType string) bool {
	switch orderType {
	case model.OrderTypeStopLoss, model.OrderTypeTakeProfit, model.OrderTypeStopLossLimit, model.OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

func validateIntent(req *CreateOrderRequest) error {
	if req.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return &ValidationError{Field: "side", Message: "must be buy or sell"}
	}
	switch req.OrderType {
	case model.OrderTypeMarket, model.OrderTypeLimit, model.OrderTypeStopLoss, model.OrderTypeTakeProfit,
		model.OrderTypeStopLossLimit, model.OrderTypeTakeProfitLimit:
	default:
		return &ValidationError{Field: "order_type", Message: fmt.Sprintf("unsupported type %q", req.OrderType)}
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	if requiresPrice(req.OrderType) && (req.Price == nil || req.Price.LessThanOrEqual(decimal.Zero)) {
		return &ValidationError{Field: "price", Message: "limit orders require a positive price"}
	}
	if requiresStopPrice(req.OrderType) && (req.StopPrice == nil || req.StopPrice.LessThanOrEqual(decimal.Zero)) {
		return &ValidationError{Field: "stop_price", Message: "stop orders require a positive stop price"}
	}
	switch req.TimeInForce {
	case "", model.TimeInForceGTC, model.TimeInForceIOC, model.TimeInForceFOK:
	default:
		return &ValidationError{Field: "time_in_force", Message: "must be GTC, IOC or FOK"}
	}
	return nil
}

// clientOrderID derives a deterministic id from the intent so duplicate
// submissions collapse onto one order.
func clientOrderID(userID uint, req *CreateOrderRequest) string {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	seed := fmt.Sprintf("%d:%s:%s:%s:%s:%s", userID, req.Symbol, req.Side, req.OrderType, req.Quantity, key)
	return "ord-" + uuid.NewSHA1(clientOrderNamespace, []byte(seed)).String()
}

// CreateOrder validates the intent, runs the risk gate, persists the order
// as PENDING and enqueues its execution. A risk rejection creates no order
// row. Re-sending the same idempotency key returns the already-created order.
func (s *Service) CreateOrder(ctx context.Context, userID uint, req CreateOrderRequest) (*model.Order, error) {
	if err := validateIntent(&req); err != nil {
		return nil, err
	}
	if req.TimeInForce == "" {
		req.TimeInForce = model.TimeInForceGTC
	}

	cid := clientOrderID(userID, &req)
	if existing, err := s.orders.FindByClientOrderID(ctx, cid); err != nil {
		return nil, fmt.Errorf("check client order id: %w", err)
	} else if existing != nil {
		logger.WithFields(map[string]interface{}{
			"user_id":         userID,
			"client_order_id": cid,
			"order_id":        existing.ID,
		}).Info("Duplicate order intent, returning existing order")
		return existing, nil
	}

	priceEstimate, err := s.executionPriceEstimate(ctx, &req)
	if err != nil {
		return nil, err
	}

	verdict, err := s.engine.ValidateOrder(ctx, risk.ValidateOrderRequest{
		UserID:        userID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         priceEstimate,
		StopLossPrice: req.StopPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("risk validation: %w", err)
	}
	if !verdict.Approved {
		return nil, &RiskRejectedError{
			Reasons:     verdict.Reasons,
			Suggestions: verdict.Suggestions,
			Metrics:     verdict.Metrics,
		}
	}

	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load risk settings: %w", err)
	}

	order := &model.Order{
		UserID:        userID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Status:        model.OrderStatusPending,
		TimeInForce:   req.TimeInForce,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ClientOrderID: cid,
		RiskPct:       verdict.Metrics.RiskPct,
		Strategy:      req.Strategy,
		Confidence:    req.Confidence,
	}

	if settings.AutoStopLossEnabled && req.Side == model.OrderSideBuy && req.StopPrice == nil {
		stop := risk.CalculateStopLossPrice(priceEstimate, req.Side, settings.DefaultStopLossPct)
		order.StopLossPrice = &stop
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	events.Publish(ctx, s.sink, events.OrderCreated, order)
	s.queue.Enqueue(order.ID)

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"user_id":  userID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"qty":      order.Quantity,
		"status":   verdict.Status,
	}).Info("Order accepted and queued for execution")

	return order, nil
}

// executionPriceEstimate resolves the price used for risk evaluation: the
// limit price when one exists, otherwise the current market price.
func (s *Service) executionPriceEstimate(ctx context.Context, req *CreateOrderRequest) (decimal.Decimal, error) {
	if req.Price != nil && req.Price.GreaterThan(decimal.Zero) {
		return *req.Price, nil
	}
	ticker, err := s.tickers.GetTicker(ctx, req.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch market price for %s: %w", req.Symbol, err)
	}
	return ticker.Last, nil
}

// GetOrder returns a single order owned by the user.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uint) (*model.Order, error) {
	order, err := s.orders.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	return order, nil
}

// GetOrders returns the user's orders honoring the given filters.
func (s *Service) GetOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error) {
	return s.orders.Search(ctx, opts)
}

// GetOpenOrders returns the user's orders still in an active status.
func (s *Service) GetOpenOrders(ctx context.Context, userID uint) ([]model.Order, error) {
	return s.orders.Search(ctx, repository.OrderSearchOptions{UserID: userID, ActiveOnly: true})
}

// CancelOrder cancels an active order owned by the user.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uint) (*model.Order, error) {
	order, err := s.orders.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if !model.OrderStatusIsActive(order.Status) {
		return nil, ErrInvalidState
	}
	if err := s.canceller.CancelOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetPositions returns the user's positions honoring the given filters.
func (s *Service) GetPositions(ctx context.Context, opts repository.PositionSearchOptions) ([]model.Position, error) {
	return s.positions.Search(ctx, opts)
}

// GetOpenPositions returns the user's open positions.
func (s *Service) GetOpenPositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return s.positions.FindOpenByUser(ctx, userID)
}

// GetPosition returns a single position owned by the user.
func (s *Service) GetPosition(ctx context.Context, userID, positionID uint) (*model.Position, error) {
	position, err := s.positions.FindByIDAndUser(ctx, positionID, userID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrNotFound
	}
	return position, nil
}

// UpdatePositionPrice refreshes a position's mark price from the ticker and
// recomputes its unrealized P&L.
func (s *Service) UpdatePositionPrice(ctx context.Context, userID, positionID uint) (*model.Position, error) {
	position, err := s.ledger.UpdatePrice(ctx, positionID, userID)
	if err != nil {
		if err == ledger.ErrPositionNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return position, nil
}

// GetTrades returns the user's trades honoring the given filters.
func (s *Service) GetTrades(ctx context.Context, opts repository.TradeSearchOptions) ([]model.Trade, error) {
	return s.trades.Search(ctx, opts)
}

// ValidateOrder exposes the risk verdict without creating an order.
func (s *Service) ValidateOrder(ctx context.Context, req risk.ValidateOrderRequest) (*risk.ValidationResult, error) {
	return s.engine.ValidateOrder(ctx, req)
}

// CalculatePositionSize exposes the sizing recommendation.
func (s *Service) CalculatePositionSize(ctx context.Context, req risk.PositionSizeRequest) (*risk.PositionSizeResult, error) {
	return s.engine.CalculatePositionSize(ctx, req)
}

// GetRiskSettings returns the user's risk settings, creating defaults on
// first access.
func (s *Service) GetRiskSettings(ctx context.Context, userID uint) (*model.RiskSettings, error) {
	return s.settings.GetOrCreate(ctx, userID)
}

// UpdateRiskSettings persists changed risk settings for the user.
func (s *Service) UpdateRiskSettings(ctx context.Context, settings *model.RiskSettings) error {
	return s.settings.Update(ctx, settings)
}

// MonitorPositionsForStopLoss exposes the stop-loss scan for one user.
func (s *Service) MonitorPositionsForStopLoss(ctx context.Context, userID uint) ([]uint, error) {
	return s.engine.MonitorPositionsForStopLoss(ctx, userID)
}
