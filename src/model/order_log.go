package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLog stores a snapshot of an order at every status transition, written
// in the same transaction as the transition itself.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Foreign key to Order
	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	// Snapshot of the order at the moment of this log entry
	Symbol    string           `gorm:"size:50" json:"symbol"`
	Side      string           `gorm:"size:10" json:"side"`
	OrderType string           `gorm:"size:30" json:"order_type"`
	Quantity  decimal.Decimal  `gorm:"type:numeric(32,8)" json:"quantity"`
	Price     *decimal.Decimal `gorm:"type:numeric(32,8)" json:"price,omitempty"`

	ExchangeOrderID string `gorm:"size:255" json:"exchange_order_id,omitempty"`

	Status    string    `gorm:"size:30;not null" json:"status"`
	Reason    string    `gorm:"size:1024" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for order logs.
func (OrderLog) TableName() string {
	return "order_logs"
}
