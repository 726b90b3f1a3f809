package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"orderengine/src/model"
)

// Ticker is the venue's last known market state for one symbol.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// OrderParams is the venue-neutral shape of an order submission.
type OrderParams struct {
	Symbol        string
	Side          string // buy | sell
	OrderType     string // market | limit | stop_loss | take_profit | stop_loss_limit | take_profit_limit
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// ExchangeClient abstracts market data and order submission on a trading
// venue. Every call is bounded by the caller's context; failures surface as
// errors and are retried only through the execution job mechanism.
type ExchangeClient interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	PlaceOrder(ctx context.Context, params OrderParams) (string, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetOpenOrders(ctx context.Context) (map[string]struct{}, error)
}

// TickerSource is the read-only market data subset of ExchangeClient.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// ToOrderParams translates an internal order into venue submission params.
func ToOrderParams(order *model.Order) OrderParams {
	return OrderParams{
		Symbol:        order.Symbol,
		Side:          order.Side,
		OrderType:     order.OrderType,
		Quantity:      order.Quantity,
		Price:         order.Price,
		StopPrice:     order.StopPrice,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: order.ClientOrderID,
	}
}
