package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/model"
)

// Validation outcomes. WARNING still approves the order.
const (
	StatusApproved = "approved"
	StatusWarning  = "warning"
	StatusRejected = "rejected"
)

var hundred = decimal.NewFromInt(100)

// SettingsStore loads (and lazily creates) per-user risk settings.
type SettingsStore interface {
	GetOrCreate(ctx context.Context, userID uint) (*model.RiskSettings, error)
}

// PositionStore exposes the open-position views the engine needs.
type PositionStore interface {
	FindOpenByUser(ctx context.Context, userID uint) ([]model.Position, error)
	CountOpenByUser(ctx context.Context, userID uint) (int64, error)
}

// TradeStore answers the daily realized-loss query.
type TradeStore interface {
	SumRealizedLossSince(ctx context.Context, userID uint, since time.Time) (decimal.Decimal, error)
}

// EquityStore records portfolio value snapshots and tracks the historical peak.
type EquityStore interface {
	Record(ctx context.Context, userID uint, totalValue decimal.Decimal) error
	Peak(ctx context.Context, userID uint) (decimal.Decimal, error)
}

// BalanceSource reports the available quote balance on the venue.
type BalanceSource interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// Engine evaluates proposed orders against a user's risk configuration and
// current portfolio state.
type Engine struct {
	settings  SettingsStore
	positions PositionStore
	trades    TradeStore
	equity    EquityStore
	balance   BalanceSource
}

func NewEngine(settings SettingsStore, positions PositionStore, trades TradeStore, equity EquityStore, balance BalanceSource) *Engine {
	return &Engine{
		settings:  settings,
		positions: positions,
		trades:    trades,
		equity:    equity,
		balance:   balance,
	}
}

// ValidateOrderRequest is a proposed order plus its execution price estimate.
type ValidateOrderRequest struct {
	UserID        uint             `json:"-"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"` // buy | sell
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         decimal.Decimal  `json:"price"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"`
}

// Metrics are the portfolio numbers computed during validation. They are
// attached to every result, including approvals with checks disabled.
type Metrics struct {
	PositionSizeUsd      decimal.Decimal `json:"position_size_usd"`
	PortfolioExposurePct decimal.Decimal `json:"portfolio_exposure_pct"`
	RiskAmount           decimal.Decimal `json:"risk_amount"`
	RiskPct              decimal.Decimal `json:"risk_pct"`
	CurrentDrawdownPct   decimal.Decimal `json:"current_drawdown_pct"`
	DailyRealizedLoss    decimal.Decimal `json:"daily_realized_loss"`
	AvailableBalance     decimal.Decimal `json:"available_balance"`
	PortfolioValue       decimal.Decimal `json:"portfolio_value"`
	OpenPositionsCount   int64           `json:"open_positions_count"`
}

// ValidationResult is the full outcome of a risk check.
type ValidationResult struct {
	Status      string   `json:"status"`
	Approved    bool     `json:"approved"`
	Reasons     []string `json:"reasons"`
	Suggestions []string `json:"suggestions"`
	Metrics     Metrics  `json:"metrics"`
}

// ValidateOrder runs every configured check against the request. Checks do
// not short-circuit: all violations are reported together. Any violation
// forces REJECTED; the risk-per-trade check alone can only downgrade the
// result to WARNING.
func (e *Engine) ValidateOrder(ctx context.Context, req ValidateOrderRequest) (*ValidationResult, error) {
	settings, err := e.settings.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load risk settings: %w", err)
	}

	metrics, err := e.computeMetrics(ctx, req, settings)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Status:  StatusApproved,
		Metrics: *metrics,
	}

	if !settings.RiskChecksEnabled {
		result.Approved = true
		result.Reasons = append(result.Reasons, "risk checks are disabled for this account")
		logger.WithFields(map[string]interface{}{
			"user_id": req.UserID,
			"symbol":  req.Symbol,
		}).Warn("Risk checks disabled, approving order without evaluation")
		return result, nil
	}

	reject := func(reason, suggestion string) {
		result.Status = StatusRejected
		result.Reasons = append(result.Reasons, reason)
		if suggestion != "" {
			result.Suggestions = append(result.Suggestions, suggestion)
		}
	}

	// 1. absolute size cap
	if req.Quantity.GreaterThan(settings.MaxPositionSize) {
		reject(
			fmt.Sprintf("order size %s exceeds maximum allowed %s", req.Quantity, settings.MaxPositionSize),
			fmt.Sprintf("reduce order size to at most %s", settings.MaxPositionSize),
		)
	}

	// 2. notional value cap
	if metrics.PositionSizeUsd.GreaterThan(settings.MaxPositionValueUsd) {
		reject(
			fmt.Sprintf("order value %s USD exceeds maximum allowed %s USD", metrics.PositionSizeUsd, settings.MaxPositionValueUsd),
			fmt.Sprintf("reduce order value to at most %s USD", settings.MaxPositionValueUsd),
		)
	}

	// 3. resulting portfolio exposure
	if metrics.PortfolioExposurePct.GreaterThan(settings.MaxPortfolioExposurePct) {
		reject(
			fmt.Sprintf("resulting portfolio exposure %s%% exceeds limit %s%%", metrics.PortfolioExposurePct.Round(2), settings.MaxPortfolioExposurePct),
			"close an existing position or reduce order size",
		)
	}

	// 4. concurrent positions cap, opening intents only
	if req.Side == model.OrderSideBuy && metrics.OpenPositionsCount >= int64(settings.MaxPositionsCount) {
		reject(
			fmt.Sprintf("open positions count %d has reached the maximum %d", metrics.OpenPositionsCount, settings.MaxPositionsCount),
			"close an existing position before opening a new one",
		)
	}

	// 5. drawdown protection
	if settings.DrawdownProtectionEnabled && metrics.CurrentDrawdownPct.GreaterThan(settings.MaxDrawdownPct) {
		reject(
			fmt.Sprintf("current drawdown %s%% exceeds maximum %s%%", metrics.CurrentDrawdownPct.Round(2), settings.MaxDrawdownPct),
			"trading is restricted until the portfolio recovers",
		)
	}

	// 6. daily loss limit
	if settings.MaxDailyLossUsd != nil && metrics.DailyRealizedLoss.GreaterThan(*settings.MaxDailyLossUsd) {
		reject(
			fmt.Sprintf("today's realized loss %s USD exceeds daily limit %s USD", metrics.DailyRealizedLoss, *settings.MaxDailyLossUsd),
			"wait until tomorrow or raise the daily loss limit",
		)
	}

	// 7. balance coverage
	if metrics.PositionSizeUsd.GreaterThan(metrics.AvailableBalance) {
		reject(
			fmt.Sprintf("order notional %s USD exceeds available balance %s USD", metrics.PositionSizeUsd, metrics.AvailableBalance),
			"reduce order size or deposit funds",
		)
	}

	// risk-per-trade is advisory only
	if result.Status != StatusRejected && metrics.RiskPct.GreaterThan(settings.RiskPerTradePct) {
		result.Status = StatusWarning
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("risk per trade %s%% exceeds recommended %s%%", metrics.RiskPct.Round(2), settings.RiskPerTradePct))
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("consider reducing size so risk stays under %s%%", settings.RiskPerTradePct))
	}

	result.Approved = result.Status != StatusRejected

	logger.WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"symbol":  req.Symbol,
		"side":    req.Side,
		"qty":     req.Quantity,
		"status":  result.Status,
		"reasons": len(result.Reasons),
	}).Info("Order risk validation completed")

	return result, nil
}

func (e *Engine) computeMetrics(ctx context.Context, req ValidateOrderRequest, settings *model.RiskSettings) (*Metrics, error) {
	balance, err := e.balance.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	openPositions, err := e.positions.FindOpenByUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch open positions: %w", err)
	}

	openNotional := decimal.Zero
	for i := range openPositions {
		openNotional = openNotional.Add(model.PositionNotional(&openPositions[i]))
	}

	portfolioValue := balance.Add(openNotional)

	if err := e.equity.Record(ctx, req.UserID, portfolioValue); err != nil {
		logger.WithError(err).WithField("user_id", req.UserID).Warn("Failed to record equity snapshot, continuing")
	}
	peak, err := e.equity.Peak(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch equity peak: %w", err)
	}

	drawdownPct := decimal.Zero
	if peak.GreaterThan(decimal.Zero) && peak.GreaterThan(portfolioValue) {
		drawdownPct = peak.Sub(portfolioValue).Div(peak).Mul(hundred)
	}

	sizeValueUsd := req.Quantity.Mul(req.Price)

	exposureNotional := openNotional
	if req.Side == model.OrderSideBuy {
		exposureNotional = exposureNotional.Add(sizeValueUsd)
	}
	exposurePct := decimal.Zero
	if portfolioValue.GreaterThan(decimal.Zero) {
		exposurePct = exposureNotional.Div(portfolioValue).Mul(hundred)
	}

	stopPct := settings.DefaultStopLossPct
	if req.StopLossPrice != nil && req.Price.GreaterThan(decimal.Zero) {
		stopPct = req.Price.Sub(*req.StopLossPrice).Abs().Div(req.Price).Mul(hundred)
	}
	riskAmount := sizeValueUsd.Mul(stopPct).Div(hundred)
	riskPct := decimal.Zero
	if portfolioValue.GreaterThan(decimal.Zero) {
		riskPct = riskAmount.Div(portfolioValue).Mul(hundred)
	}

	midnight := localMidnight(time.Now())
	dailyLoss, err := e.trades.SumRealizedLossSince(ctx, req.UserID, midnight)
	if err != nil {
		return nil, fmt.Errorf("sum daily realized loss: %w", err)
	}

	return &Metrics{
		PositionSizeUsd:      sizeValueUsd,
		PortfolioExposurePct: exposurePct,
		RiskAmount:           riskAmount,
		RiskPct:              riskPct,
		CurrentDrawdownPct:   drawdownPct,
		DailyRealizedLoss:    dailyLoss,
		AvailableBalance:     balance,
		PortfolioValue:       portfolioValue,
		OpenPositionsCount:   int64(len(openPositions)),
	}, nil
}

func localMidnight(now time.Time) time.Time {
	local := now.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// PositionSizeRequest asks for a recommended size at a given entry.
type PositionSizeRequest struct {
	UserID        uint             `json:"-"`
	Symbol        string           `json:"symbol"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"`
}

// PositionSizeResult carries the sizing recommendation and its arithmetic.
type PositionSizeResult struct {
	RecommendedSize decimal.Decimal `json:"recommended_size"`
	MaxSize         decimal.Decimal `json:"max_size"`
	RiskAmount      decimal.Decimal `json:"risk_amount"`
	PositionValue   decimal.Decimal `json:"position_value"`
	Reasoning       string          `json:"reasoning"`
}

// CalculatePositionSize sizes a position so that hitting the stop loses
// exactly the configured risk-per-trade fraction of the portfolio. The
// result is clamped to the user's absolute and notional size caps.
func (e *Engine) CalculatePositionSize(ctx context.Context, req PositionSizeRequest) (*PositionSizeResult, error) {
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("entry price must be positive, got %s", req.EntryPrice)
	}

	settings, err := e.settings.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load risk settings: %w", err)
	}

	balance, err := e.balance.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	openPositions, err := e.positions.FindOpenByUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch open positions: %w", err)
	}
	portfolioValue := balance
	for i := range openPositions {
		portfolioValue = portfolioValue.Add(model.PositionNotional(&openPositions[i]))
	}

	riskAmount := portfolioValue.Mul(settings.RiskPerTradePct).Div(hundred)

	var stopDistancePct decimal.Decimal
	var reasoning string
	if req.StopLossPrice != nil {
		stopDistancePct = req.EntryPrice.Sub(*req.StopLossPrice).Abs().Div(req.EntryPrice)
		reasoning = fmt.Sprintf(
			"risking %s USD (%s%% of %s USD portfolio) with stop at %s (%s%% from entry)",
			riskAmount, settings.RiskPerTradePct, portfolioValue,
			*req.StopLossPrice, stopDistancePct.Mul(hundred).Round(2),
		)
	} else {
		stopDistancePct = settings.DefaultStopLossPct.Div(hundred)
		reasoning = fmt.Sprintf(
			"risking %s USD (%s%% of %s USD portfolio) using default stop-loss of %s%% since no stop price was supplied",
			riskAmount, settings.RiskPerTradePct, portfolioValue, settings.DefaultStopLossPct,
		)
	}

	if stopDistancePct.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("stop-loss distance must be positive")
	}

	size := riskAmount.Div(req.EntryPrice.Mul(stopDistancePct))

	maxSize := settings.MaxPositionSize
	if byValue := settings.MaxPositionValueUsd.Div(req.EntryPrice); byValue.LessThan(maxSize) {
		maxSize = byValue
	}
	if size.GreaterThan(maxSize) {
		size = maxSize
		reasoning += fmt.Sprintf("; clamped to maximum size %s", maxSize)
	}

	return &PositionSizeResult{
		RecommendedSize: size,
		MaxSize:         maxSize,
		RiskAmount:      riskAmount,
		PositionValue:   size.Mul(req.EntryPrice),
		Reasoning:       reasoning,
	}, nil
}

// CalculateStopLossPrice places the stop pct percent away from entry, below
// for buys and above for sells.
func CalculateStopLossPrice(entry decimal.Decimal, side string, pct decimal.Decimal) decimal.Decimal {
	offset := entry.Mul(pct).Div(hundred)
	if side == model.OrderSideSell {
		return entry.Add(offset)
	}
	return entry.Sub(offset)
}

// MonitorPositionsForStopLoss returns the ids of open positions whose current
// price has crossed their stop level. Positions without an explicit stop use
// one computed from the user's default stop-loss percentage. Returns empty
// immediately when automatic stop-loss is disabled.
func (e *Engine) MonitorPositionsForStopLoss(ctx context.Context, userID uint) ([]uint, error) {
	settings, err := e.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load risk settings: %w", err)
	}
	if !settings.AutoStopLossEnabled {
		return nil, nil
	}

	openPositions, err := e.positions.FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch open positions: %w", err)
	}

	var triggered []uint
	for i := range openPositions {
		position := &openPositions[i]

		stop := decimal.Zero
		if position.StopLossPrice != nil {
			stop = *position.StopLossPrice
		} else if position.Side == model.PositionSideShort {
			stop = CalculateStopLossPrice(position.EntryPrice, model.OrderSideSell, settings.DefaultStopLossPct)
		} else {
			stop = CalculateStopLossPrice(position.EntryPrice, model.OrderSideBuy, settings.DefaultStopLossPct)
		}

		crossed := false
		if position.Side == model.PositionSideShort {
			crossed = position.CurrentPrice.GreaterThanOrEqual(stop)
		} else {
			crossed = position.CurrentPrice.LessThanOrEqual(stop)
		}

		if crossed {
			logger.WithFields(map[string]interface{}{
				"user_id":       userID,
				"position_id":   position.ID,
				"symbol":        position.Symbol,
				"current_price": position.CurrentPrice,
				"stop_price":    stop,
			}).Warn("Stop-loss level crossed")
			triggered = append(triggered, position.ID)
		}
	}

	return triggered, nil
}
