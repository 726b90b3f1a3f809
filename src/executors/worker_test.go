package executors_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"orderengine/src/connectors"
	"orderengine/src/database"
	"orderengine/src/events"
	"orderengine/src/executors"
	"orderengine/src/ledger"
	"orderengine/src/model"
	"orderengine/src/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// fakeExchange is an in-memory venue. placeFailures makes the first N
// submissions fail; keepOpen leaves accepted orders in the open set so limit
// flows can be exercised.
type fakeExchange struct {
	mu            sync.Mutex
	tickerPrice   decimal.Decimal
	placeFailures int
	placeCalls    int
	keepOpen      bool
	open          map[string]struct{}
	cancelErr     error
	cancelCalls   int
}

func newFakeExchange(price string) *fakeExchange {
	return &fakeExchange{
		tickerPrice: d(price),
		open:        make(map[string]struct{}),
	}
}

func (f *fakeExchange) GetBalance(_ context.Context) (decimal.Decimal, error) {
	return d("100000"), nil
}

func (f *fakeExchange) GetTicker(_ context.Context, symbol string) (*connectors.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &connectors.Ticker{Symbol: symbol, Last: f.tickerPrice, At: time.Now()}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, _ connectors.OrderParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeFailures > 0 {
		f.placeFailures--
		return "", errors.New("exchange unavailable")
	}
	id := fmt.Sprintf("ex-%d", f.placeCalls)
	if f.keepOpen {
		f.open[id] = struct{}{}
	}
	return id, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, exchangeOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.open, exchangeOrderID)
	return nil
}

func (f *fakeExchange) GetOpenOrders(_ context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.open))
	for id := range f.open {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeExchange) placed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls
}

func (f *fakeExchange) markDone(exchangeOrderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, exchangeOrderID)
}

type harness struct {
	worker    *executors.Worker
	exchange  *fakeExchange
	db        *gorm.DB
	orders    *repository.OrderRepository
	trades    *repository.TradeRepository
	positions *repository.PositionRepository
	sink      *events.CaptureSink
}

func newHarness(t *testing.T, exchange *fakeExchange) *harness {
	t.Helper()
	db := newTestDB(t)
	orders := repository.NewOrderRepository().WithDB(db)
	trades := repository.NewTradeRepository().WithDB(db)
	positions := repository.NewPositionRepository().WithDB(db)
	sink := events.NewCaptureSink()
	led := ledger.NewLedger(positions, trades, exchange, sink)
	worker := executors.NewWorker(orders, trades, led, exchange, sink, d("0.001")).
		WithExceptionStore(repository.NewExceptionRepository().WithDB(db))
	return &harness{
		worker:    worker,
		exchange:  exchange,
		db:        db,
		orders:    orders,
		trades:    trades,
		positions: positions,
		sink:      sink,
	}
}

func (h *harness) createOrder(t *testing.T, order *model.Order) *model.Order {
	t.Helper()
	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	if order.TimeInForce == "" {
		order.TimeInForce = model.TimeInForceGTC
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = fmt.Sprintf("ord-%s-%d", t.Name(), time.Now().UnixNano())
	}
	require.NoError(t, h.orders.Create(context.Background(), order))
	return order
}

func marketBuy(qty string) *model.Order {
	return &model.Order{
		UserID:    1,
		Symbol:    "BTC/USDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  d(qty),
	}
}

func limitBuy(qty, price string) *model.Order {
	p := d(price)
	return &model.Order{
		UserID:    1,
		Symbol:    "BTC/USDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeLimit,
		Quantity:  d(qty),
		Price:     &p,
	}
}

func queueConfig() executors.Config {
	return executors.Config{
		WorkerCount:    1,
		QueueSize:      16,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestQueueRetriesUntilSubmissionSucceeds(t *testing.T) {
	// first two submissions fail, the third is accepted: the order must end
	// up filled, never rejected
	exchange := newFakeExchange("50000")
	exchange.placeFailures = 2
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))

	queue := executors.NewQueue(h.worker, queueConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	queue.Enqueue(order.ID)

	require.Eventually(t, func() bool {
		got, err := h.orders.FindByID(context.Background(), order.ID)
		return err == nil && got != nil && got.Status == model.OrderStatusFilled
	}, 5*time.Second, 10*time.Millisecond, "order should fill after retries")

	got, err := h.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 3, exchange.placed())
	require.NotEmpty(t, got.ExchangeOrderID)
	require.NotEqual(t, model.OrderStatusRejected, got.Status)
}

func TestQueueRejectsAfterAttemptBudget(t *testing.T) {
	exchange := newFakeExchange("50000")
	exchange.placeFailures = 100
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))

	queue := executors.NewQueue(h.worker, queueConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	queue.Enqueue(order.ID)

	require.Eventually(t, func() bool {
		got, err := h.orders.FindByID(context.Background(), order.ID)
		return err == nil && got != nil && got.Status == model.OrderStatusRejected
	}, 5*time.Second, 10*time.Millisecond, "order should be rejected once attempts are spent")

	got, err := h.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 3, exchange.placed())
	require.NotEmpty(t, got.RejectReason)
	require.Contains(t, h.sink.Names(), events.OrderRejected)

	var exceptionCount int64
	require.NoError(t, h.db.Model(&model.Exception{}).Count(&exceptionCount).Error)
	require.EqualValues(t, 1, exceptionCount, "exhausted retries must leave an audit record")
}

func TestExecuteOrderStaysSubmittedBetweenAttempts(t *testing.T) {
	exchange := newFakeExchange("50000")
	exchange.placeFailures = 1
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))
	ctx := context.Background()

	require.Error(t, h.worker.ExecuteOrder(ctx, order.ID, 1))

	got, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusSubmitted, got.Status, "a failed attempt must not reject the order")
	require.NotEmpty(t, got.RejectReason, "the submission error is recorded for observability")
	require.NotNil(t, got.SubmittedAt)

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 2))
	got, err = h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, got.Status)
}

func TestExecuteOrderDuplicateDeliveryIsHarmless(t *testing.T) {
	exchange := newFakeExchange("50000")
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))
	ctx := context.Background()

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 1))
	require.Equal(t, 1, exchange.placed())

	// re-delivery of the same job must not resubmit or double fill
	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 2))
	require.Equal(t, 1, exchange.placed())

	count, err := h.trades.CountByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestExecuteOrderSkipsUnknownOrder(t *testing.T) {
	exchange := newFakeExchange("50000")
	h := newHarness(t, exchange)

	require.NoError(t, h.worker.ExecuteOrder(context.Background(), 999, 1))
	require.Equal(t, 0, exchange.placed())
}

func TestMarketFillCreatesTradeAndPosition(t *testing.T) {
	exchange := newFakeExchange("50000")
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))
	ctx := context.Background()

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 1))

	got, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, got.Status)
	require.True(t, got.FilledQuantity.Equal(d("0.1")))
	require.True(t, got.AverageFillPrice.Equal(d("50000")))

	trades, err := h.trades.Search(ctx, repository.TradeSearchOptions{UserID: 1})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	// 0.1 * 50000 * 0.001 taker fee
	require.True(t, trades[0].Fee.Equal(d("5")), "fee = %s", trades[0].Fee)
	require.Equal(t, model.TradeTypeEntry, trades[0].TradeType)

	position, err := h.positions.FindOpenByUserAndSymbol(ctx, 1, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, position)
	require.True(t, position.Quantity.Equal(d("0.1")))

	names := h.sink.Names()
	require.Contains(t, names, events.OrderSubmitted)
	require.Contains(t, names, events.OrderOpened)
	require.Contains(t, names, events.OrderFilled)
	require.Contains(t, names, events.TradeExecuted)
}

func TestDetectFillsForLimitOrders(t *testing.T) {
	exchange := newFakeExchange("50500")
	exchange.keepOpen = true
	h := newHarness(t, exchange)
	order := h.createOrder(t, limitBuy("0.1", "49000"))
	ctx := context.Background()

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 1))

	got, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, got.Status, "resting limit order stays open")

	// still resting on the venue, the pass must not touch it
	require.NoError(t, h.worker.DetectFills(ctx))
	got, err = h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, got.Status)

	exchange.markDone(got.ExchangeOrderID)
	require.NoError(t, h.worker.DetectFills(ctx))

	got, err = h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, got.Status)
	require.True(t, got.AverageFillPrice.Equal(d("49000")), "limit orders fill at their limit price")
}

func TestCancelOrderExchangeFailureKeepsStatus(t *testing.T) {
	exchange := newFakeExchange("50000")
	exchange.keepOpen = true
	h := newHarness(t, exchange)
	order := h.createOrder(t, limitBuy("0.1", "49000"))
	ctx := context.Background()

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 1))
	got, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, got.Status)

	exchange.cancelErr = errors.New("venue timeout")
	require.Error(t, h.worker.CancelOrder(ctx, got))

	reloaded, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, reloaded.Status, "a failed venue cancel leaves the order untouched")
	require.Nil(t, reloaded.CancelledAt)

	exchange.cancelErr = nil
	require.NoError(t, h.worker.CancelOrder(ctx, reloaded))

	reloaded, err = h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.CancelledAt)
	require.Contains(t, h.sink.Names(), events.OrderCancelled)
}

func TestCancelOrderRefusesTerminalOrder(t *testing.T) {
	exchange := newFakeExchange("50000")
	h := newHarness(t, exchange)
	order := h.createOrder(t, marketBuy("0.1"))
	ctx := context.Background()

	require.NoError(t, h.worker.ExecuteOrder(ctx, order.ID, 1))
	got, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, got.Status)

	err = h.worker.CancelOrder(ctx, got)
	require.ErrorIs(t, err, executors.ErrOrderNotActive)
	require.Equal(t, 0, exchange.cancelCalls)
}
