package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
)

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is the netted holding of one symbol for one user. At most one
// open position may exist per (user_id, symbol); the ledger enforces this.
type Position struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index:idx_positions_user_symbol" json:"user_id"`

	Symbol string `gorm:"size:50;index:idx_positions_user_symbol" json:"symbol"`
	Side   string `gorm:"size:10;not null" json:"side"`
	Status string `gorm:"size:20;not null;default:open;index" json:"status"`

	Quantity   decimal.Decimal `gorm:"type:numeric(32,8)" json:"quantity"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(32,8)" json:"entry_price"` // volume-weighted average

	CurrentPrice decimal.Decimal  `gorm:"type:numeric(32,8)" json:"current_price"`
	ExitPrice    *decimal.Decimal `gorm:"type:numeric(32,8)" json:"exit_price,omitempty"`

	CostBasis decimal.Decimal `gorm:"type:numeric(32,8)" json:"cost_basis"`
	Fees      decimal.Decimal `gorm:"type:numeric(32,8)" json:"fees"`

	RealizedPnl      decimal.Decimal `gorm:"type:numeric(32,8)" json:"realized_pnl"`
	UnrealizedPnl    decimal.Decimal `gorm:"type:numeric(32,8)" json:"unrealized_pnl"`
	RealizedPnlPct   decimal.Decimal `gorm:"type:numeric(16,8)" json:"realized_pnl_pct"`
	UnrealizedPnlPct decimal.Decimal `gorm:"type:numeric(16,8)" json:"unrealized_pnl_pct"`

	StopLossPrice   *decimal.Decimal `gorm:"type:numeric(32,8)" json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `gorm:"type:numeric(32,8)" json:"take_profit_price,omitempty"`

	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName allows you to control the exact table name for positions.
func (Position) TableName() string {
	return "positions"
}

// PositionNotional returns quantity * current price.
func PositionNotional(p *Position) decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// PositionPnl computes profit for the position against a mark or exit price.
// Long profit = (mark - entry) * qty - fees, short profit = (entry - mark) * qty - fees.
func PositionPnl(side string, entry, mark, quantity, fees decimal.Decimal) decimal.Decimal {
	var gross decimal.Decimal
	if side == PositionSideShort {
		gross = entry.Sub(mark).Mul(quantity)
	} else {
		gross = mark.Sub(entry).Mul(quantity)
	}
	return gross.Sub(fees)
}

// PositionPnlPct expresses pnl relative to cost basis. Zero cost basis
// yields zero, not a division error.
func PositionPnlPct(pnl, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(costBasis).Mul(decimal.NewFromInt(100))
}
