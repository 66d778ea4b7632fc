package trading

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/currency"
	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/rules"
	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/types"
)

// stubQuotes serves fixed snapshots so fills are deterministic.
type stubQuotes struct {
	quotes map[string]*types.StockQuote
}

func (s *stubQuotes) GetQuote(code string) (*types.StockQuote, error) {
	q, ok := s.quotes[code]
	if !ok {
		return nil, errors.New("unknown stock code")
	}
	snapshot := *q
	return &snapshot, nil
}

func (s *stubQuotes) SearchStocks(keyword string) ([]types.StockListing, error) {
	return nil, nil
}

// aShareOpen is inside the A-share morning session on a normal Wednesday.
func aShareOpen(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return time.Date(2025, 3, 5, 10, 0, 0, 0, loc)
}

// aShareClosed is the same date after the close.
func aShareClosed(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return time.Date(2025, 3, 5, 18, 0, 0, 0, loc)
}

func newTestEngine(t *testing.T) (*Engine, *storage.Database) {
	t.Helper()

	cfg := config.Config{
		HKDToCNYRate:    0.92,
		USDToCNYRate:    7.20,
		CommissionRate:  0.0003,
		StampTaxRate:    0.001,
		TransferFeeRate: 0.00002,
	}

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "papertrade.db"))
	require.NoError(t, err)
	store := storage.NewDatabase(db)

	mtime, err := markettime.NewManager(markettime.NewStaticCalendar())
	require.NoError(t, err)
	cur := currency.NewService(cfg)
	ruleEngine := rules.NewEngine(cfg, cur, mtime)

	stub := &stubQuotes{quotes: map[string]*types.StockQuote{
		"600000": {
			Code: "600000", Name: "Test Bank", Market: types.MarketCN,
			CurrentPrice: 10.00, Open: 10.00, PrevClose: 10.00,
			LimitUp: 11.00, LimitDown: 9.00,
		},
	}}

	engine := NewEngine(store, ruleEngine, cur, mtime, stub)
	engine.now = func() time.Time { return aShareOpen(t) }

	require.NoError(t, store.CreateUser(&types.User{
		UserID:      "u1",
		Nickname:    "Tester",
		Balance:     100000,
		TotalAssets: 100000,
	}))

	return engine, store
}

// A market buy during the session fills at the quoted price. Fees on a
// 100-share lot at 10.00 are 5 commission plus 1 transfer fee, and the
// new position carries zero sellable shares until the T+1 rollover.
func TestMarketBuyFillsAndStartsPosition(t *testing.T) {
	engine, store := newTestEngine(t)

	order, msg, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.Equal(t, types.PriceMarket, order.PriceType)
	assert.InDelta(t, 1006.0, order.FilledAmount, 1e-9)
	assert.Contains(t, msg, "bought 100 shares")

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	assert.InDelta(t, 98994.0, user.Balance, 1e-9)
	// Total assets = cash + marked position value (100 * 10.00 CNY).
	assert.InDelta(t, 99994.0, user.TotalAssets, 1e-9)

	position, err := store.GetPosition("u1", "600000")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(100), position.TotalVolume)
	assert.Equal(t, int64(0), position.AvailableVolume)
	assert.InDelta(t, 10.00, position.AvgCost, 1e-9)
}

// A limit buy priced below the market queues instead of filling, debits
// the balance up-front, and cancellation refunds exactly what was
// reserved.
func TestPendingBuyReservationAndCancelRefund(t *testing.T) {
	engine, store := newTestEngine(t)

	price := 9.50
	order, msg, err := engine.PlaceBuyOrder("u1", "600000", 100, &price)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.Contains(t, msg, "queued")

	// 950 principal + 5 commission floor + 1 transfer fee floor.
	assert.InDelta(t, 956.0, order.ReservedAmount, 1e-9)

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	assert.InDelta(t, 99044.0, user.Balance, 1e-9)

	// No shares until the order fills.
	position, err := store.GetPosition("u1", "600000")
	require.NoError(t, err)
	assert.Nil(t, position)

	_, err = engine.CancelOrder("u1", order.OrderID)
	require.NoError(t, err)

	user, err = store.GetUser("u1")
	require.NoError(t, err)
	assert.InDelta(t, 100000.0, user.Balance, 1e-9)
	assert.InDelta(t, 100000.0, user.TotalAssets, 1e-9)

	cancelled, err := store.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, cancelled.Status)
}

// Shares bought today are not sellable until the trading-day rollover.
func TestSellBlockedByTPlusOne(t *testing.T) {
	engine, store := newTestEngine(t)

	_, _, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	require.NoError(t, err)

	_, _, err = engine.PlaceSellOrder("u1", "600000", 100, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "T+1")

	require.NoError(t, engine.AdvanceTradingDay("u1"))

	order, msg, err := engine.PlaceSellOrder("u1", "600000", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.Contains(t, msg, "sold 100 shares")
	// 1000 principal - 5 commission - 1 stamp tax - 1 transfer fee.
	assert.InDelta(t, 993.0, order.FilledAmount, 1e-9)

	// Selling out deletes the position.
	position, err := store.GetPosition("u1", "600000")
	require.NoError(t, err)
	assert.Nil(t, position)

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	assert.InDelta(t, 99987.0, user.Balance, 1e-9)
	assert.InDelta(t, 99987.0, user.TotalAssets, 1e-9)
}

func TestMarketOrderOutsideWindowRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.now = func() time.Time { return aShareClosed(t) }

	_, _, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

// A limit buy placed after hours queues for the next session even though
// no trading window is open.
func TestLimitBuyQueuesOutsideWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.now = func() time.Time { return aShareClosed(t) }

	price := 10.00
	order, msg, err := engine.PlaceBuyOrder("u1", "600000", 100, &price)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.Contains(t, msg, "next trading session")
}

func TestCancelOrderErrors(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, store.CreateUser(&types.User{UserID: "u2", Balance: 100000}))

	price := 9.50
	order, _, err := engine.PlaceBuyOrder("u1", "600000", 100, &price)
	require.NoError(t, err)

	_, err = engine.CancelOrder("u2", order.OrderID)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	_, err = engine.CancelOrder("u1", "PT99999999")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// A filled order is terminal.
	filled, _, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	require.NoError(t, err)
	_, err = engine.CancelOrder("u1", filled.OrderID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "no longer be cancelled")
}

func TestPlaceOrderUnknownUser(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.PlaceBuyOrder("nobody", "600000", 100, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestInvalidLimitPriceRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	price := 10.123
	_, _, err := engine.PlaceBuyOrder("u1", "600000", 100, &price)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "two decimal places")
}

func TestGetTradingSummary(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	require.NoError(t, err)
	pendingPrice := 9.50
	_, _, err = engine.PlaceBuyOrder("u1", "600000", 100, &pendingPrice)
	require.NoError(t, err)

	summary, err := engine.GetTradingSummary("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalPositions)
	assert.Equal(t, 1, summary.PendingOrders)
	assert.Len(t, summary.RecentOrders, 2)
	assert.InDelta(t, 1000.0, summary.TotalMarketValue, 1e-9)

	_, err = engine.GetTradingSummary("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetOrderOwnership(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, store.CreateUser(&types.User{UserID: "u2", Balance: 100000}))

	order, _, err := engine.PlaceBuyOrder("u1", "600000", 100, nil)
	require.NoError(t, err)

	got, err := engine.GetOrder("u1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, got.OrderID)

	_, err = engine.GetOrder("u2", order.OrderID)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	_, err = engine.GetOrder("u1", "PT99999999")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
