package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"orderengine/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSettings struct {
	settings *model.RiskSettings
}

func (f *fakeSettings) GetOrCreate(context.Context, uint) (*model.RiskSettings, error) {
	return f.settings, nil
}

type fakePositions struct {
	open []model.Position
}

func (f *fakePositions) FindOpenByUser(context.Context, uint) ([]model.Position, error) {
	return f.open, nil
}

func (f *fakePositions) CountOpenByUser(context.Context, uint) (int64, error) {
	return int64(len(f.open)), nil
}

type fakeTrades struct {
	dailyLoss decimal.Decimal
}

func (f *fakeTrades) SumRealizedLossSince(context.Context, uint, time.Time) (decimal.Decimal, error) {
	return f.dailyLoss, nil
}

type fakeEquity struct {
	peak decimal.Decimal
}

func (f *fakeEquity) Record(_ context.Context, _ uint, totalValue decimal.Decimal) error {
	if totalValue.GreaterThan(f.peak) {
		f.peak = totalValue
	}
	return nil
}

func (f *fakeEquity) Peak(context.Context, uint) (decimal.Decimal, error) {
	return f.peak, nil
}

type fakeBalance struct {
	balance decimal.Decimal
}

func (f *fakeBalance) GetBalance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func newTestEngine(settings *model.RiskSettings, balance decimal.Decimal, open []model.Position) *Engine {
	return NewEngine(
		&fakeSettings{settings: settings},
		&fakePositions{open: open},
		&fakeTrades{dailyLoss: decimal.Zero},
		&fakeEquity{},
		&fakeBalance{balance: balance},
	)
}

func permissiveSettings(userID uint) *model.RiskSettings {
	s := model.DefaultRiskSettings(userID)
	s.MaxPositionValueUsd = d("100000000")
	s.MaxPortfolioExposurePct = d("10000")
	s.MaxPositionsCount = 1000
	s.DrawdownProtectionEnabled = false
	s.RiskPerTradePct = d("100")
	return s
}

func hasReasonContaining(reasons []string, substr string) bool {
	for _, reason := range reasons {
		if strings.Contains(reason, substr) {
			return true
		}
	}
	return false
}

func TestValidateOrderRejectsOversizedOrder(t *testing.T) {
	// Scenario: maxPositionSize 1.0, order size 1.5 on XBTUSD at 50000
	settings := permissiveSettings(1)
	settings.MaxPositionSize = d("1.0")
	engine := newTestEngine(settings, d("1000000"), nil)

	result, err := engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("1.5"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusRejected || result.Approved {
		t.Fatalf("expected rejection, got status=%s approved=%v", result.Status, result.Approved)
	}
	if !hasReasonContaining(result.Reasons, "exceeds maximum allowed") {
		t.Fatalf("expected a reason containing %q, got %v", "exceeds maximum allowed", result.Reasons)
	}
}

func TestValidateOrderReportsAllViolationsTogether(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	settings.MaxPositionSize = d("1.0")
	settings.MaxPositionValueUsd = d("50000")
	engine := newTestEngine(settings, d("60000"), nil)

	// size 2.0 at 50000: violates size cap, value cap and balance coverage
	result, err := engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("2.0"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusRejected {
		t.Fatalf("expected rejection, got %s", result.Status)
	}
	if len(result.Reasons) < 3 {
		t.Fatalf("expected all violations reported together, got %v", result.Reasons)
	}
}

func TestValidateOrderWarningOnHighRiskPerTrade(t *testing.T) {
	settings := permissiveSettings(1)
	settings.MaxPositionSize = d("10")
	settings.RiskPerTradePct = d("2")
	// order value 50000, default stop 5% -> risk 2500 of 100000 portfolio = 2.5%
	engine := newTestEngine(settings, d("100000"), nil)

	result, err := engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("1"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusWarning {
		t.Fatalf("expected warning, got %s with reasons %v", result.Status, result.Reasons)
	}
	if !result.Approved {
		t.Fatal("warning must still approve the order")
	}
}

func TestValidateOrderDrawdownProtection(t *testing.T) {
	settings := permissiveSettings(1)
	settings.DrawdownProtectionEnabled = true
	settings.MaxDrawdownPct = d("20")

	equity := &fakeEquity{peak: d("100000")}
	engine := NewEngine(
		&fakeSettings{settings: settings},
		&fakePositions{},
		&fakeTrades{dailyLoss: decimal.Zero},
		equity,
		&fakeBalance{balance: d("70000")}, // 30% below peak
	)

	result, err := engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("0.1"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusRejected {
		t.Fatalf("expected drawdown rejection, got %s", result.Status)
	}
	if !hasReasonContaining(result.Reasons, "drawdown") {
		t.Fatalf("expected a drawdown reason, got %v", result.Reasons)
	}

	settings.DrawdownProtectionEnabled = false
	result, err = engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("0.1"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status == StatusRejected {
		t.Fatalf("expected approval with protection disabled, got %v", result.Reasons)
	}
}

func TestValidateOrderMasterToggleOff(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	settings.RiskChecksEnabled = false
	settings.MaxPositionSize = d("0.001")
	engine := newTestEngine(settings, d("100"), nil)

	// wildly over every limit, still approved with metrics attached
	result, err := engine.ValidateOrder(context.Background(), ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("100"),
		Price:    d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Approved || result.Status != StatusApproved {
		t.Fatalf("expected unconditional approval, got status=%s", result.Status)
	}
	if !result.Metrics.PositionSizeUsd.Equal(d("5000000")) {
		t.Fatalf("expected metrics computed for audit, got %s", result.Metrics.PositionSizeUsd)
	}
}

func TestValidateOrderDeterministic(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	engine := newTestEngine(settings, d("100000"), nil)

	req := ValidateOrderRequest{
		UserID:   1,
		Symbol:   "XBTUSD",
		Side:     model.OrderSideBuy,
		Quantity: d("0.5"),
		Price:    d("50000"),
	}

	first, err := engine.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Status != second.Status {
		t.Fatalf("status changed between identical calls: %s vs %s", first.Status, second.Status)
	}
	if strings.Join(first.Reasons, "|") != strings.Join(second.Reasons, "|") {
		t.Fatalf("reasons changed between identical calls: %v vs %v", first.Reasons, second.Reasons)
	}
	if !first.Metrics.RiskAmount.Equal(second.Metrics.RiskAmount) ||
		!first.Metrics.PortfolioExposurePct.Equal(second.Metrics.PortfolioExposurePct) {
		t.Fatalf("metrics changed between identical calls: %+v vs %+v", first.Metrics, second.Metrics)
	}
}

func TestCalculatePositionSizeRiskAmount(t *testing.T) {
	// Scenario: entry 50000, stop 47500 (5%), risk 2% of 102000 portfolio
	settings := model.DefaultRiskSettings(1)
	settings.RiskPerTradePct = d("2")
	engine := newTestEngine(settings, d("102000"), nil)

	stop := d("47500")
	result, err := engine.CalculatePositionSize(context.Background(), PositionSizeRequest{
		UserID:        1,
		Symbol:        "XBTUSD",
		EntryPrice:    d("50000"),
		StopLossPrice: &stop,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.RiskAmount.Equal(d("2040")) {
		t.Fatalf("expected risk amount 2040.00, got %s", result.RiskAmount)
	}
	// 2040 / (50000 * 0.05) = 0.816
	if !result.RecommendedSize.Equal(d("0.816")) {
		t.Fatalf("expected recommended size 0.816, got %s", result.RecommendedSize)
	}
}

func TestCalculatePositionSizeDefaultStopMentionedInReasoning(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	engine := newTestEngine(settings, d("100000"), nil)

	result, err := engine.CalculatePositionSize(context.Background(), PositionSizeRequest{
		UserID:     1,
		Symbol:     "XBTUSD",
		EntryPrice: d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result.Reasoning, "default stop-loss") {
		t.Fatalf("reasoning must state the default stop-loss was used, got %q", result.Reasoning)
	}
}

func TestCalculatePositionSizeClampedToCaps(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	settings.MaxPositionSize = d("0.5")
	settings.RiskPerTradePct = d("50")
	engine := newTestEngine(settings, d("1000000"), nil)

	result, err := engine.CalculatePositionSize(context.Background(), PositionSizeRequest{
		UserID:     1,
		Symbol:     "XBTUSD",
		EntryPrice: d("50000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.RecommendedSize.Equal(d("0.5")) {
		t.Fatalf("expected clamp to max size 0.5, got %s", result.RecommendedSize)
	}
	if !strings.Contains(result.Reasoning, "clamped") {
		t.Fatalf("expected clamp mentioned in reasoning, got %q", result.Reasoning)
	}
}

func TestCalculateStopLossPrice(t *testing.T) {
	tests := []struct {
		name  string
		side  string
		entry string
		pct   string
		want  string
	}{
		{"buy stops below entry", model.OrderSideBuy, "50000", "5", "47500"},
		{"sell stops above entry", model.OrderSideSell, "50000", "5", "52500"},
		{"buy with 2 percent", model.OrderSideBuy, "2000", "2", "1960"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateStopLossPrice(d(tt.entry), tt.side, d(tt.pct))
			if !got.Equal(d(tt.want)) {
				t.Fatalf("CalculateStopLossPrice = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonitorPositionsForStopLoss(t *testing.T) {
	// Scenario: long 0.1 @ 50000, default stop 5% -> 47500
	settings := model.DefaultRiskSettings(1)

	makeEngine := func(currentPrice string) *Engine {
		return newTestEngine(settings, d("100000"), []model.Position{{
			ID:           7,
			UserID:       1,
			Symbol:       "XBTUSD",
			Side:         model.PositionSideLong,
			Status:       model.PositionStatusOpen,
			Quantity:     d("0.1"),
			EntryPrice:   d("50000"),
			CurrentPrice: d(currentPrice),
		}})
	}

	triggered, err := makeEngine("47000").MonitorPositionsForStopLoss(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != 7 {
		t.Fatalf("expected position 7 triggered at 47000, got %v", triggered)
	}

	triggered, err = makeEngine("48000").MonitorPositionsForStopLoss(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected nothing triggered at 48000, got %v", triggered)
	}
}

func TestMonitorPositionsShortSide(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	engine := newTestEngine(settings, d("100000"), []model.Position{{
		ID:           9,
		UserID:       1,
		Symbol:       "XBTUSD",
		Side:         model.PositionSideShort,
		Status:       model.PositionStatusOpen,
		Quantity:     d("0.1"),
		EntryPrice:   d("50000"),
		CurrentPrice: d("53000"), // above the 52500 short stop
	}})

	triggered, err := engine.MonitorPositionsForStopLoss(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != 9 {
		t.Fatalf("expected short position 9 triggered, got %v", triggered)
	}
}

func TestMonitorPositionsDisabled(t *testing.T) {
	settings := model.DefaultRiskSettings(1)
	settings.AutoStopLossEnabled = false
	engine := newTestEngine(settings, d("100000"), []model.Position{{
		ID:           3,
		UserID:       1,
		Symbol:       "XBTUSD",
		Side:         model.PositionSideLong,
		Status:       model.PositionStatusOpen,
		Quantity:     d("0.1"),
		EntryPrice:   d("50000"),
		CurrentPrice: d("10"),
	}})

	triggered, err := engine.MonitorPositionsForStopLoss(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected empty result with auto stop-loss disabled, got %v", triggered)
	}
}
