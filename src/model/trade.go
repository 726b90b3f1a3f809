package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeTypeEntry       = "entry"
	TradeTypeExit        = "exit"
	TradeTypePartialExit = "partial_exit"
)

// Trade is an immutable execution record linking an Order (and optionally a
// Position) to a single fill. Quantity, price and fee never change after
// creation; type is derived from the position state at fill time.
type Trade struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	UserID     uint  `gorm:"index" json:"user_id"`
	OrderID    uint  `gorm:"index" json:"order_id"`
	PositionID *uint `gorm:"index" json:"position_id,omitempty"`

	Symbol    string `gorm:"size:50;index" json:"symbol"`
	Side      string `gorm:"size:10;not null" json:"side"`
	TradeType string `gorm:"size:20;not null" json:"trade_type"`

	Quantity decimal.Decimal `gorm:"type:numeric(32,8)" json:"quantity"`
	Price    decimal.Decimal `gorm:"type:numeric(32,8)" json:"price"`
	Value    decimal.Decimal `gorm:"type:numeric(32,8)" json:"value"`
	Fee      decimal.Decimal `gorm:"type:numeric(32,8)" json:"fee"`

	// RealizedPnl is set only for exit and partial_exit trades.
	RealizedPnl *decimal.Decimal `gorm:"type:numeric(32,8)" json:"realized_pnl,omitempty"`

	Strategy   string `gorm:"size:100" json:"strategy,omitempty"`
	Confidence string `gorm:"size:50" json:"confidence,omitempty"`

	ExecutedAt time.Time `gorm:"index" json:"executed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for trades.
func (Trade) TableName() string {
	return "trades"
}
