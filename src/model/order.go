package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

const (
	OrderTypeMarket          = "market"
	OrderTypeLimit           = "limit"
	OrderTypeStopLoss        = "stop_loss"
	OrderTypeTakeProfit      = "take_profit"
	OrderTypeStopLossLimit   = "stop_loss_limit"
	OrderTypeTakeProfitLimit = "take_profit_limit"
)

// Order lifecycle statuses. Transitions only move forward through
// OrderTransitions; FILLED, CANCELLED, REJECTED and EXPIRED are terminal.
const (
	OrderStatusPending         = "pending"
	OrderStatusSubmitted       = "submitted"
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
)

const (
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
	TimeInForceFOK = "FOK"
)

// Order represents a request to trade a quantity of a symbol on the exchange.
// Quantities and prices are exact decimals with 8 fractional digits.
type Order struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index" json:"user_id"`

	Symbol      string `gorm:"size:50;index" json:"symbol"`
	Side        string `gorm:"size:10;not null" json:"side"`
	OrderType   string `gorm:"size:30;not null" json:"order_type"`
	Status      string `gorm:"size:30;not null;default:pending;index" json:"status"`
	TimeInForce string `gorm:"size:10;not null;default:GTC" json:"time_in_force"`

	Quantity         decimal.Decimal  `gorm:"type:numeric(32,8)" json:"quantity"`
	Price            *decimal.Decimal `gorm:"type:numeric(32,8)" json:"price,omitempty"`
	StopPrice        *decimal.Decimal `gorm:"type:numeric(32,8)" json:"stop_price,omitempty"`
	FilledQuantity   decimal.Decimal  `gorm:"type:numeric(32,8)" json:"filled_quantity"`
	AverageFillPrice decimal.Decimal  `gorm:"type:numeric(32,8)" json:"average_fill_price"`

	ExchangeOrderID string `gorm:"size:255;index" json:"exchange_order_id,omitempty"`
	ClientOrderID   string `gorm:"size:255;uniqueIndex" json:"client_order_id"`
	RejectReason    string `gorm:"size:1024" json:"reject_reason,omitempty"`

	// Risk metadata attached at intake.
	RiskPct       decimal.Decimal  `gorm:"type:numeric(16,8)" json:"risk_pct"`
	StopLossPrice *decimal.Decimal `gorm:"type:numeric(32,8)" json:"stop_loss_price,omitempty"`
	Strategy      string           `gorm:"size:100" json:"strategy,omitempty"`
	Confidence    string           `gorm:"size:50" json:"confidence,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// One-to-many relation: one order can have many transition logs
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// OrderTransitions is the directed graph of legal status transitions.
var OrderTransitions = map[string][]string{
	OrderStatusPending:         {OrderStatusSubmitted, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusSubmitted:       {OrderStatusOpen, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusOpen:            {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusPartiallyFilled: {OrderStatusFilled, OrderStatusCancelled},
}

// OrderStatusIsTerminal reports whether a status admits no further transitions.
func OrderStatusIsTerminal(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderStatusIsActive reports whether an order in this status can still
// be executed or cancelled.
func OrderStatusIsActive(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// OrderCanTransition reports whether from -> to is a legal forward move.
func OrderCanTransition(from, to string) bool {
	for _, next := range OrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderFillPercentage returns filled/quantity as a percentage, 0 for a
// zero-quantity order.
func OrderFillPercentage(o *Order) decimal.Decimal {
	if o.Quantity.IsZero() {
		return decimal.Zero
	}
	return o.FilledQuantity.Div(o.Quantity).Mul(decimal.NewFromInt(100))
}
