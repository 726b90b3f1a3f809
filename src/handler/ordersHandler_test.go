package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"orderengine/src/auth"
	"orderengine/src/connectors"
	"orderengine/src/database"
	"orderengine/src/events"
	"orderengine/src/ledger"
	"orderengine/src/model"
	"orderengine/src/orders"
	"orderengine/src/repository"
	"orderengine/src/risk"
)

// stubMarket answers ticker and balance queries with fixed values.
type stubMarket struct{}

func (stubMarket) GetTicker(_ context.Context, symbol string) (*connectors.Ticker, error) {
	return &connectors.Ticker{Symbol: symbol, Last: decimal.NewFromInt(50000), At: time.Now()}, nil
}

func (stubMarket) GetBalance(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(100000), nil
}

type stubEnqueuer struct{ count int }

func (s *stubEnqueuer) Enqueue(uint) { s.count++ }

type stubCanceller struct {
	orders *repository.OrderRepository
	err    error
}

func (s *stubCanceller) CancelOrder(ctx context.Context, order *model.Order) error {
	if s.err != nil {
		return s.err
	}
	if err := s.orders.UpdateStatusWithAutoLog(ctx, order.ID, model.OrderStatusCancelled, "cancelled by user"); err != nil {
		return err
	}
	order.Status = model.OrderStatusCancelled
	return nil
}

func newTestService(t *testing.T) *orders.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite DB: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	orderRepo := repository.NewOrderRepository().WithDB(db)
	positionRepo := repository.NewPositionRepository().WithDB(db)
	tradeRepo := repository.NewTradeRepository().WithDB(db)
	settingsRepo := repository.NewRiskSettingsRepository().WithDB(db)
	equityRepo := repository.NewEquitySnapshotRepository().WithDB(db)

	market := stubMarket{}
	sink := events.NewCaptureSink()
	engine := risk.NewEngine(settingsRepo, positionRepo, tradeRepo, equityRepo, market)
	positionLedger := ledger.NewLedger(positionRepo, tradeRepo, market, sink)

	return orders.NewService(orderRepo, positionRepo, tradeRepo, settingsRepo,
		engine, positionLedger, market, &stubEnqueuer{}, &stubCanceller{orders: orderRepo}, sink)
}

func authed(req *http.Request, userID uint) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.UserKey, &model.User{ID: userID}))
}

func TestCreateOrderHandler_Unauthorized(t *testing.T) {
	handler := CreateOrderHandler(newTestService(t))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCreateOrderHandler_UnknownField(t *testing.T) {
	handler := CreateOrderHandler(newTestService(t))

	body := `{"symbol":"BTC/USDT","side":"buy","order_type":"market","quantity":"0.5","surprise":true}`
	req := authed(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown field, got %d", rr.Code)
	}
}

func TestCreateOrderHandler_ValidationError(t *testing.T) {
	handler := CreateOrderHandler(newTestService(t))

	body := `{"symbol":"BTC/USDT","side":"hold","order_type":"market","quantity":"0.5"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCreateOrderHandler_RiskRejected(t *testing.T) {
	handler := CreateOrderHandler(newTestService(t))

	// 1.5 BTC against the default 1.0 max position size
	body := `{"symbol":"BTC/USDT","side":"buy","order_type":"market","quantity":"1.5"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var payload struct {
		Reasons     []string `json:"reasons"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode rejection body: %v", err)
	}
	if len(payload.Reasons) == 0 {
		t.Fatal("expected rejection reasons in the body")
	}
	if len(payload.Suggestions) == 0 {
		t.Fatal("expected suggestions in the body")
	}
}

func TestCreateOrderHandler_Success(t *testing.T) {
	handler := CreateOrderHandler(newTestService(t))

	body := `{"symbol":"BTC/USDT","side":"buy","order_type":"market","quantity":"0.5"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var order model.Order
	if err := json.NewDecoder(rr.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if order.ID == 0 || order.Status != model.OrderStatusPending {
		t.Fatalf("unexpected created order: %+v", order)
	}
	if !strings.HasPrefix(order.ClientOrderID, "ord-") {
		t.Fatalf("unexpected client order id: %s", order.ClientOrderID)
	}
}

func TestSearchOrdersHandler_InvalidParams(t *testing.T) {
	handler := SearchOrdersHandler(newTestService(t))

	tests := []struct {
		name string
		url  string
	}{
		{"bad createdFrom", "/orders?createdFrom=yesterday"},
		{"bad createdTo", "/orders?createdTo=tomorrow"},
		{"bad page", "/orders?page=zero"},
		{"bad pageSize", "/orders?pageSize=-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authed(httptest.NewRequest(http.MethodGet, tt.url, nil), 1)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestSearchOrdersHandler_Success(t *testing.T) {
	svc := newTestService(t)
	handler := SearchOrdersHandler(svc)

	_, err := svc.CreateOrder(context.Background(), 1, orders.CreateOrderRequest{
		Symbol:    "BTC/USDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/orders?symbol=BTC/USDT&status=pending", nil), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var result []model.Order
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode orders: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 order, got %d", len(result))
	}
}

func TestGetOrderHandler_NotFound(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/orders/{orderID}", GetOrderHandler(newTestService(t)))

	req := authed(httptest.NewRequest(http.MethodGet, "/orders/999", nil), 1)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestGetOrderHandler_InvalidID(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/orders/{orderID}", GetOrderHandler(newTestService(t)))

	req := authed(httptest.NewRequest(http.MethodGet, "/orders/abc", nil), 1)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCancelOrderHandler_Flow(t *testing.T) {
	svc := newTestService(t)
	router := chi.NewRouter()
	router.Delete("/orders/{orderID}", CancelOrderHandler(svc))

	order, err := svc.CreateOrder(context.Background(), 1, orders.CreateOrderRequest{
		Symbol:    "BTC/USDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/orders/%d", order.ID), nil), 1)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// cancelling again conflicts with the terminal status
	req = authed(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/orders/%d", order.ID), nil), 1)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
