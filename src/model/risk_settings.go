package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskSettings holds the per-user risk configuration consulted on every
// order validation. A row is created lazily with the defaults below on
// first access and is never deleted while the user exists.
type RiskSettings struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"uniqueIndex" json:"user_id"`

	MaxPositionSize     decimal.Decimal `gorm:"type:numeric(32,8)" json:"max_position_size"`
	MaxPositionValueUsd decimal.Decimal `gorm:"type:numeric(32,8)" json:"max_position_value_usd"`

	MaxPortfolioExposurePct decimal.Decimal `gorm:"type:numeric(16,8)" json:"max_portfolio_exposure_pct"`
	MaxPositionsCount       int             `json:"max_positions_count"`

	DefaultStopLossPct  decimal.Decimal `gorm:"type:numeric(16,8)" json:"default_stop_loss_pct"`
	AutoStopLossEnabled bool            `json:"auto_stop_loss_enabled"`

	MaxDrawdownPct            decimal.Decimal `gorm:"type:numeric(16,8)" json:"max_drawdown_pct"`
	DrawdownProtectionEnabled bool            `json:"drawdown_protection_enabled"`

	RiskPerTradePct decimal.Decimal  `gorm:"type:numeric(16,8)" json:"risk_per_trade_pct"`
	MaxDailyLossUsd *decimal.Decimal `gorm:"type:numeric(32,8)" json:"max_daily_loss_usd,omitempty"`

	// Master switch. When false, ValidateOrder approves immediately but
	// still computes metrics for audit.
	RiskChecksEnabled bool `json:"risk_checks_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for risk settings.
func (RiskSettings) TableName() string {
	return "risk_settings"
}

// DefaultRiskSettings returns the documented defaults applied on first access.
func DefaultRiskSettings(userID uint) *RiskSettings {
	return &RiskSettings{
		UserID:                    userID,
		MaxPositionSize:           decimal.NewFromFloat(1.0),
		MaxPositionValueUsd:       decimal.NewFromInt(50000),
		MaxPortfolioExposurePct:   decimal.NewFromInt(80),
		MaxPositionsCount:         5,
		DefaultStopLossPct:        decimal.NewFromInt(5),
		AutoStopLossEnabled:       true,
		MaxDrawdownPct:            decimal.NewFromInt(20),
		DrawdownProtectionEnabled: true,
		RiskPerTradePct:           decimal.NewFromInt(2),
		RiskChecksEnabled:         true,
	}
}
