package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquitySnapshot records a user's total portfolio value (available balance
// plus open-position notional) at a point in time. The historical maximum of
// these rows is the drawdown peak used by the risk engine.
type EquitySnapshot struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     uint            `gorm:"index" json:"user_id"`
	TotalValue decimal.Decimal `gorm:"type:numeric(32,8)" json:"total_value"`
	CreatedAt  time.Time       `gorm:"index" json:"created_at"`
}

// TableName allows you to control the exact table name for equity snapshots.
func (EquitySnapshot) TableName() string {
	return "equity_snapshots"
}
