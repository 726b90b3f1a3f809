package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/connectors"
	"orderengine/src/events"
	"orderengine/src/model"
)

// ErrPositionNotFound is returned when a position does not exist or does not
// belong to the requesting user.
var ErrPositionNotFound = errors.New("position not found")

// PositionStore is the persistence surface the ledger writes through.
type PositionStore interface {
	Create(ctx context.Context, position *model.Position) error
	FindOpenByUserAndSymbol(ctx context.Context, userID uint, symbol string) (*model.Position, error)
	FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Position, error)
	Save(ctx context.Context, position *model.Position) error
}

// TradeStore persists trade records. The ledger inserts each trade exactly
// once, after deriving its type and position link.
type TradeStore interface {
	Create(ctx context.Context, trade *model.Trade) error
}

// Ledger owns all Position mutation. Every fill flows through Apply, which
// serializes work per (user, symbol) so concurrent fills on the same holding
// cannot race on the averaging arithmetic.
type Ledger struct {
	positions PositionStore
	trades    TradeStore
	tickers   connectors.TickerSource
	sink      events.Sink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(positions PositionStore, trades TradeStore, tickers connectors.TickerSource, sink events.Sink) *Ledger {
	return &Ledger{
		positions: positions,
		trades:    trades,
		tickers:   tickers,
		sink:      sink,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one (user, symbol) holding.
func (l *Ledger) lockFor(userID uint, symbol string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Apply folds a fill into the user's position for the symbol: open a new
// position, average into an existing one on the same side, or reduce/close
// an opposite-side one. The trade's type and position link are assigned here.
func (l *Ledger) Apply(ctx context.Context, order *model.Order, trade *model.Trade) (*model.Position, error) {
	lock := l.lockFor(order.UserID, order.Symbol)
	lock.Lock()
	defer lock.Unlock()

	position, err := l.positions.FindOpenByUserAndSymbol(ctx, order.UserID, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup open position: %w", err)
	}

	if position == nil {
		return l.open(ctx, order, trade)
	}

	sameSide := (position.Side == model.PositionSideLong && order.Side == model.OrderSideBuy) ||
		(position.Side == model.PositionSideShort && order.Side == model.OrderSideSell)
	if sameSide {
		return l.averageIn(ctx, position, trade)
	}

	if trade.Quantity.GreaterThanOrEqual(position.Quantity) {
		return l.close(ctx, position, trade)
	}
	return l.reduce(ctx, position, trade)
}

func (l *Ledger) open(ctx context.Context, order *model.Order, trade *model.Trade) (*model.Position, error) {
	side := model.PositionSideLong
	if order.Side == model.OrderSideSell {
		side = model.PositionSideShort
	}

	now := time.Now()
	position := &model.Position{
		UserID:        order.UserID,
		Symbol:        order.Symbol,
		Side:          side,
		Status:        model.PositionStatusOpen,
		Quantity:      trade.Quantity,
		EntryPrice:    trade.Price,
		CurrentPrice:  trade.Price,
		CostBasis:     trade.Value.Add(trade.Fee),
		Fees:          trade.Fee,
		StopLossPrice: order.StopLossPrice,
		OpenedAt:      now,
	}

	if err := l.positions.Create(ctx, position); err != nil {
		return nil, fmt.Errorf("create position: %w", err)
	}

	if err := l.linkTrade(ctx, trade, position.ID, model.TradeTypeEntry, nil); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id": position.ID,
		"user_id":     position.UserID,
		"symbol":      position.Symbol,
		"side":        position.Side,
		"qty":         position.Quantity,
		"entry":       position.EntryPrice,
	}).Info("Position opened")

	events.Publish(ctx, l.sink, events.PositionOpened, position)
	return position, nil
}

func (l *Ledger) averageIn(ctx context.Context, position *model.Position, trade *model.Trade) (*model.Position, error) {
	oldNotional := position.EntryPrice.Mul(position.Quantity)
	newQty := position.Quantity.Add(trade.Quantity)

	position.EntryPrice = oldNotional.Add(trade.Price.Mul(trade.Quantity)).Div(newQty)
	position.Quantity = newQty
	position.CostBasis = position.CostBasis.Add(trade.Value).Add(trade.Fee)
	position.Fees = position.Fees.Add(trade.Fee)
	position.CurrentPrice = trade.Price
	l.markToMarket(position)

	if err := l.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("save averaged position: %w", err)
	}

	if err := l.linkTrade(ctx, trade, position.ID, model.TradeTypeEntry, nil); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id": position.ID,
		"symbol":      position.Symbol,
		"qty":         position.Quantity,
		"avg_entry":   position.EntryPrice,
	}).Info("Position averaged in")

	events.Publish(ctx, l.sink, events.PositionUpdated, position)
	return position, nil
}

func (l *Ledger) close(ctx context.Context, position *model.Position, trade *model.Trade) (*model.Position, error) {
	totalFees := position.Fees.Add(trade.Fee)
	realized := model.PositionPnl(position.Side, position.EntryPrice, trade.Price, position.Quantity, totalFees)

	now := time.Now()
	exitPrice := trade.Price
	position.Status = model.PositionStatusClosed
	position.Quantity = decimal.Zero
	position.ExitPrice = &exitPrice
	position.CurrentPrice = trade.Price
	position.Fees = totalFees
	position.RealizedPnl = position.RealizedPnl.Add(realized)
	position.RealizedPnlPct = model.PositionPnlPct(position.RealizedPnl, position.CostBasis)
	position.UnrealizedPnl = decimal.Zero
	position.UnrealizedPnlPct = decimal.Zero
	position.ClosedAt = &now

	if err := l.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("save closed position: %w", err)
	}

	if err := l.linkTrade(ctx, trade, position.ID, model.TradeTypeExit, &realized); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id":  position.ID,
		"symbol":       position.Symbol,
		"exit_price":   trade.Price,
		"realized_pnl": realized,
	}).Info("Position closed")

	events.Publish(ctx, l.sink, events.PositionClosed, position)
	return position, nil
}

func (l *Ledger) reduce(ctx context.Context, position *model.Position, trade *model.Trade) (*model.Position, error) {
	// realize P&L only on the reduced slice; its share of accumulated fees
	// stays with the position, the trade's own fee is charged to the slice
	realized := model.PositionPnl(position.Side, position.EntryPrice, trade.Price, trade.Quantity, trade.Fee)

	reducedFraction := trade.Quantity.Div(position.Quantity)
	position.Quantity = position.Quantity.Sub(trade.Quantity)
	position.CostBasis = position.CostBasis.Mul(decimal.NewFromInt(1).Sub(reducedFraction))
	position.Fees = position.Fees.Add(trade.Fee)
	position.CurrentPrice = trade.Price
	position.RealizedPnl = position.RealizedPnl.Add(realized)
	position.RealizedPnlPct = model.PositionPnlPct(position.RealizedPnl, position.CostBasis)
	l.markToMarket(position)

	if err := l.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("save reduced position: %w", err)
	}

	if err := l.linkTrade(ctx, trade, position.ID, model.TradeTypePartialExit, &realized); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id":  position.ID,
		"symbol":       position.Symbol,
		"qty":          position.Quantity,
		"realized_pnl": realized,
	}).Info("Position partially reduced")

	events.Publish(ctx, l.sink, events.PositionUpdated, position)
	return position, nil
}

func (l *Ledger) linkTrade(ctx context.Context, trade *model.Trade, positionID uint, tradeType string, realized *decimal.Decimal) error {
	trade.PositionID = &positionID
	trade.TradeType = tradeType
	trade.RealizedPnl = realized
	if err := l.trades.Create(ctx, trade); err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}
	return nil
}

// markToMarket refreshes the unrealized P&L fields from CurrentPrice.
func (l *Ledger) markToMarket(position *model.Position) {
	position.UnrealizedPnl = model.PositionPnl(
		position.Side, position.EntryPrice, position.CurrentPrice, position.Quantity, decimal.Zero)
	position.UnrealizedPnlPct = model.PositionPnlPct(position.UnrealizedPnl, position.CostBasis)
}

// UpdatePrice re-fetches the ticker for an open position and recomputes its
// unrealized P&L at the latest price.
func (l *Ledger) UpdatePrice(ctx context.Context, positionID, userID uint) (*model.Position, error) {
	position, err := l.positions.FindByIDAndUser(ctx, positionID, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup position: %w", err)
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	if position.Status != model.PositionStatusOpen {
		return position, nil
	}

	lock := l.lockFor(position.UserID, position.Symbol)
	lock.Lock()
	defer lock.Unlock()

	ticker, err := l.tickers.GetTicker(ctx, position.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker for %s: %w", position.Symbol, err)
	}

	position.CurrentPrice = ticker.Last
	l.markToMarket(position)

	if err := l.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("save position price: %w", err)
	}

	events.Publish(ctx, l.sink, events.PositionUpdated, position)
	return position, nil
}
