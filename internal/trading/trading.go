package trading

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/currency"
	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/metrics"
	"github.com/papertrade/papertrade-api/internal/rules"
	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/types"
)

var (
	ErrUserNotFound  = errors.New("user not registered")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotOrderOwner = errors.New("order belongs to another user")
)

// ValidationError is a rule violation: recoverable, user-facing, and
// guaranteed to leave no state mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErr(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// QuoteProvider is the external market-data collaborator. Snapshots are
// immutable once returned and already carry the resolved session fields.
type QuoteProvider interface {
	GetQuote(code string) (*types.StockQuote, error)
	SearchStocks(keyword string) ([]types.StockListing, error)
}

// Engine owns the order lifecycle: it prices draft orders, delegates
// validation to the rules engine, decides immediate execution versus
// queueing, and commits balance, position and order records in that
// order. All mutation of a user's ledger happens under that user's lock.
type Engine struct {
	db       *storage.Database
	rules    *rules.Engine
	currency *currency.Service
	mtime    *markettime.Manager
	quotes   QuoteProvider
	now      func() time.Time

	userLocks sync.Map // user id -> *sync.Mutex
}

// NewEngine wires the engine with its collaborators.
func NewEngine(db *storage.Database, ruleEngine *rules.Engine, cur *currency.Service,
	mtime *markettime.Manager, quotes QuoteProvider) *Engine {
	return &Engine{
		db:       db,
		rules:    ruleEngine,
		currency: cur,
		mtime:    mtime,
		quotes:   quotes,
		now:      time.Now,
	}
}

// lockUser serializes the validate-then-commit sequence per user. The
// returned func releases the lock and must run on every exit path.
func (e *Engine) lockUser(userID string) func() {
	v, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// PlaceBuyOrder prices, validates and executes or queues a buy. A nil
// price means a market order at the quote's buy-side price. The returned
// message is user-facing and describes the fill or queue outcome.
func (e *Engine) PlaceBuyOrder(userID, stockCode string, volume int64, price *float64) (*types.Order, string, error) {
	defer e.lockUser(userID)()

	logger := log.With().
		Str("user_id", userID).
		Str("stock_code", stockCode).
		Int64("volume", volume).
		Str("side", string(types.SideBuy)).
		Logger()

	user, quote, err := e.loadUserAndQuote(userID, stockCode)
	if err != nil {
		return nil, "", err
	}

	order, err := e.draftOrder(user.UserID, quote, types.SideBuy, volume, price)
	if err != nil {
		return nil, "", err
	}

	if ok, reason := e.rules.ValidateBuy(e.now(), quote, order, user.Balance); !ok {
		logger.Warn().Str("reason", reason).Msg("buy order rejected")
		metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
		return nil, "", &ValidationError{Reason: reason}
	}

	// Id assignment happens only after validation passes.
	orderID, err := e.db.NextOrderID()
	if err != nil {
		return nil, "", fmt.Errorf("allocate order id: %w", err)
	}
	order.OrderID = orderID

	canTrade, _ := e.mtime.CanPlaceOrder(e.now(), quote.Market)

	if order.IsMarketOrder() {
		// A market order cannot be filled outside a tradable window even
		// though validation passed.
		if !canTrade {
			metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
			return nil, "", validationErr("market orders can only be placed in a trading window")
		}
		order.OrderPrice = quote.CurrentPrice
		return e.executeBuy(user, order, quote)
	}

	if canTrade && order.OrderPrice >= quote.CurrentPrice {
		order.OrderPrice = quote.CurrentPrice
		return e.executeBuy(user, order, quote)
	}
	return e.queueBuy(user, order, quote, canTrade)
}

// PlaceSellOrder prices, validates and executes or queues a sell.
func (e *Engine) PlaceSellOrder(userID, stockCode string, volume int64, price *float64) (*types.Order, string, error) {
	defer e.lockUser(userID)()

	user, quote, err := e.loadUserAndQuote(userID, stockCode)
	if err != nil {
		return nil, "", err
	}

	position, err := e.db.GetPosition(userID, stockCode)
	if err != nil {
		return nil, "", fmt.Errorf("load position: %w", err)
	}

	order, err := e.draftOrder(user.UserID, quote, types.SideSell, volume, price)
	if err != nil {
		return nil, "", err
	}

	if ok, reason := e.rules.ValidateSell(e.now(), quote, order, position); !ok {
		log.Warn().
			Str("user_id", userID).
			Str("stock_code", stockCode).
			Str("reason", reason).
			Msg("sell order rejected")
		metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
		return nil, "", &ValidationError{Reason: reason}
	}

	orderID, err := e.db.NextOrderID()
	if err != nil {
		return nil, "", fmt.Errorf("allocate order id: %w", err)
	}
	order.OrderID = orderID

	canTrade, _ := e.mtime.CanPlaceOrder(e.now(), quote.Market)

	if order.IsMarketOrder() {
		if !canTrade {
			metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
			return nil, "", validationErr("market orders can only be placed in a trading window")
		}
		order.OrderPrice = quote.CurrentPrice
		return e.executeSell(user, order, position, quote)
	}

	if canTrade && order.OrderPrice <= quote.CurrentPrice {
		order.OrderPrice = quote.CurrentPrice
		return e.executeSell(user, order, position, quote)
	}
	return e.queueSell(order, quote, canTrade)
}

// loadUserAndQuote fetches the user record and a quote snapshot.
func (e *Engine) loadUserAndQuote(userID, stockCode string) (*types.User, *types.StockQuote, error) {
	user, err := e.db.GetUser(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	quote, err := e.quotes.GetQuote(stockCode)
	if err != nil {
		return nil, nil, validationErr("no quote available for %s", stockCode)
	}
	return user, quote, nil
}

// draftOrder builds an unidentified order from the request. Limit prices
// are format-checked; market orders price at the quote's side price.
func (e *Engine) draftOrder(userID string, quote *types.StockQuote, side types.Side, volume int64, price *float64) (*types.Order, error) {
	now := e.now()
	order := &types.Order{
		UserID:      userID,
		StockCode:   quote.Code,
		StockName:   quote.Name,
		Market:      quote.Market,
		Side:        side,
		OrderVolume: volume,
		Status:      types.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if price == nil {
		order.PriceType = types.PriceMarket
		if side == types.SideBuy {
			order.OrderPrice = quote.MarketBuyPrice()
		} else {
			order.OrderPrice = quote.MarketSellPrice()
		}
	} else {
		if ok, reason := rules.ValidatePrice(*price); !ok {
			return nil, &ValidationError{Reason: reason}
		}
		order.PriceType = types.PriceLimit
		order.OrderPrice = *price
	}

	if ok, reason := e.rules.ValidateInAuction(now, order, quote.Market); !ok {
		return nil, &ValidationError{Reason: reason}
	}
	return order, nil
}

// executeBuy commits an immediate buy fill: debit balance, create or
// grow the position (new positions start with zero sellable shares per
// T+1), terminalize the order, then recompute total assets.
func (e *Engine) executeBuy(user *types.User, order *types.Order, quote *types.StockQuote) (*types.Order, string, error) {
	cost := e.rules.BuyAmount(order.OrderVolume, order.OrderPrice, quote.Market)
	if !user.CanAfford(cost) {
		metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
		return nil, "", validationErr("insufficient funds: need %s, available balance %s",
			e.currency.Format(cost, types.SettlementCurrency),
			e.currency.Format(user.Balance, types.SettlementCurrency))
	}

	user.DeductBalance(cost)

	position, err := e.db.GetPosition(user.UserID, order.StockCode)
	if err != nil {
		return nil, "", fmt.Errorf("load position: %w", err)
	}
	if position == nil {
		position = &types.Position{
			UserID:          user.UserID,
			StockCode:       order.StockCode,
			StockName:       order.StockName,
			Market:          quote.Market,
			TotalVolume:     order.OrderVolume,
			AvailableVolume: 0,
			AvgCost:         order.OrderPrice,
			TotalCost:       float64(order.OrderVolume) * order.OrderPrice,
		}
	} else {
		position.Add(order.OrderVolume, order.OrderPrice)
	}
	position.UpdateMarketData(quote.CurrentPrice)

	if err := order.Fill(order.OrderVolume, cost); err != nil {
		return nil, "", err
	}

	// Commit ordering: balance, then position, then order.
	if err := e.db.SaveUser(user); err != nil {
		return nil, "", fmt.Errorf("save user: %w", err)
	}
	if err := e.db.SavePosition(position); err != nil {
		return nil, "", fmt.Errorf("save position: %w", err)
	}
	if err := e.db.SaveOrder(order); err != nil {
		return nil, "", fmt.Errorf("save order: %w", err)
	}
	if err := e.recomputeAssets(user.UserID); err != nil {
		return nil, "", err
	}

	metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "filled").Inc()
	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", user.UserID).
		Str("stock_code", order.StockCode).
		Int64("volume", order.OrderVolume).
		Float64("price", order.OrderPrice).
		Float64("cost_cny", cost).
		Msg("buy order filled")

	msg := fmt.Sprintf("bought %d shares of %s at %s, total cost %s",
		order.OrderVolume, order.StockName,
		e.priceDisplay(order.OrderPrice, quote.Market),
		e.currency.Format(cost, types.SettlementCurrency))
	return order, msg, nil
}

// executeSell commits an immediate sell fill: shrink or delete the
// position, credit the proceeds, terminalize the order, recompute assets.
func (e *Engine) executeSell(user *types.User, order *types.Order, position *types.Position, quote *types.StockQuote) (*types.Order, string, error) {
	income := e.rules.SellAmount(order.OrderVolume, order.OrderPrice, quote.Market)

	if err := position.Reduce(order.OrderVolume); err != nil {
		metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
		return nil, "", validationErr("sellable quantity insufficient: holding %d shares, %d sellable (T+1)",
			position.TotalVolume, position.AvailableVolume)
	}

	user.AddBalance(income)

	if err := order.Fill(order.OrderVolume, income); err != nil {
		return nil, "", err
	}
	if !position.IsEmpty() {
		position.UpdateMarketData(quote.CurrentPrice)
	}

	if err := e.db.SaveUser(user); err != nil {
		return nil, "", fmt.Errorf("save user: %w", err)
	}
	if position.IsEmpty() {
		if err := e.db.DeletePosition(user.UserID, order.StockCode); err != nil {
			return nil, "", fmt.Errorf("delete position: %w", err)
		}
	} else {
		if err := e.db.SavePosition(position); err != nil {
			return nil, "", fmt.Errorf("save position: %w", err)
		}
	}
	if err := e.db.SaveOrder(order); err != nil {
		return nil, "", fmt.Errorf("save order: %w", err)
	}
	if err := e.recomputeAssets(user.UserID); err != nil {
		return nil, "", err
	}

	metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "filled").Inc()
	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", user.UserID).
		Str("stock_code", order.StockCode).
		Int64("volume", order.OrderVolume).
		Float64("price", order.OrderPrice).
		Float64("income_cny", income).
		Msg("sell order filled")

	msg := fmt.Sprintf("sold %d shares of %s at %s, proceeds %s",
		order.OrderVolume, order.StockName,
		e.priceDisplay(order.OrderPrice, quote.Market),
		e.currency.Format(income, types.SettlementCurrency))
	return order, msg, nil
}

// queueBuy persists a pending buy. The settlement amount is debited from
// the balance immediately and recorded on the order, so cancellation can
// refund exactly what was reserved.
func (e *Engine) queueBuy(user *types.User, order *types.Order, quote *types.StockQuote, inTradingWindow bool) (*types.Order, string, error) {
	cost := e.rules.BuyAmount(order.OrderVolume, order.OrderPrice, quote.Market)
	if !user.CanAfford(cost) {
		metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "rejected").Inc()
		return nil, "", validationErr("insufficient funds: need %s, available balance %s",
			e.currency.Format(cost, types.SettlementCurrency),
			e.currency.Format(user.Balance, types.SettlementCurrency))
	}

	user.DeductBalance(cost)
	order.ReservedAmount = cost

	if err := e.db.SaveUser(user); err != nil {
		return nil, "", fmt.Errorf("save user: %w", err)
	}
	if err := e.db.SaveOrder(order); err != nil {
		return nil, "", fmt.Errorf("save order: %w", err)
	}
	if err := e.recomputeAssets(user.UserID); err != nil {
		return nil, "", err
	}

	metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "pending").Inc()
	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", user.UserID).
		Float64("reserved_cny", cost).
		Bool("in_trading_window", inTradingWindow).
		Msg("buy order queued")

	msg := fmt.Sprintf("buy order queued: %d shares of %s at %.2f, order id %s",
		order.OrderVolume, order.StockName, order.OrderPrice, order.OrderID)
	if !inTradingWindow {
		msg = fmt.Sprintf("overnight buy order queued: %d shares of %s at %.2f, fills in the next trading session, order id %s",
			order.OrderVolume, order.StockName, order.OrderPrice, order.OrderID)
	}
	return order, msg, nil
}

// queueSell persists a pending sell. No share reservation is performed;
// the sellable quantity is re-checked when the order fills.
func (e *Engine) queueSell(order *types.Order, quote *types.StockQuote, inTradingWindow bool) (*types.Order, string, error) {
	if err := e.db.SaveOrder(order); err != nil {
		return nil, "", fmt.Errorf("save order: %w", err)
	}

	metrics.OrdersPlaced.WithLabelValues(string(quote.Market), string(order.Side), "pending").Inc()
	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Msg("sell order queued")

	msg := fmt.Sprintf("sell order queued: %d shares of %s at %.2f, order id %s",
		order.OrderVolume, order.StockName, order.OrderPrice, order.OrderID)
	if !inTradingWindow {
		msg = fmt.Sprintf("overnight sell order queued: %d shares of %s at %.2f, fills in the next trading session, order id %s",
			order.OrderVolume, order.StockName, order.OrderPrice, order.OrderID)
	}
	return order, msg, nil
}

// CancelOrder cancels a pending order. Cancelling a pending buy refunds
// exactly the amount reserved at queue time; pending sells reserved
// nothing, so there is nothing to refund. An execution already past its
// commit point cannot be rolled back.
func (e *Engine) CancelOrder(userID, orderID string) (string, error) {
	defer e.lockUser(userID)()

	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if order.UserID != userID {
		return "", ErrNotOrderOwner
	}
	if !order.IsPending() {
		return "", validationErr("order is %s and can no longer be cancelled", order.Status)
	}

	if err := order.Cancel(); err != nil {
		return "", err
	}

	if order.IsBuy() && order.ReservedAmount > 0 {
		user, err := e.db.GetUser(userID)
		if err != nil {
			return "", fmt.Errorf("load user: %w", err)
		}
		if user != nil {
			user.AddBalance(order.ReservedAmount)
			if err := e.db.SaveUser(user); err != nil {
				return "", fmt.Errorf("save user: %w", err)
			}
		}
	}

	if err := e.db.SaveOrder(order); err != nil {
		return "", fmt.Errorf("save order: %w", err)
	}
	if err := e.recomputeAssets(userID); err != nil {
		return "", err
	}

	metrics.OrdersCancelled.WithLabelValues(string(order.Market)).Inc()
	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", userID).
		Float64("refund_cny", order.ReservedAmount).
		Msg("order cancelled")

	return fmt.Sprintf("order cancelled: %d shares of %s", order.OrderVolume, order.StockName), nil
}

// AdvanceTradingDay makes every position fully sellable, rolling the T+1
// restriction over. It is invoked by an external daily scheduler.
func (e *Engine) AdvanceTradingDay(userID string) error {
	defer e.lockUser(userID)()

	positions, err := e.db.GetPositions(userID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for i := range positions {
		p := &positions[i]
		if p.TotalVolume > p.AvailableVolume {
			p.AvailableVolume = p.TotalVolume
			if err := e.db.SavePosition(p); err != nil {
				return fmt.Errorf("save position: %w", err)
			}
		}
	}
	return nil
}

// AdvanceTradingDayAll rolls T+1 over for every registered user.
func (e *Engine) AdvanceTradingDayAll() (int, error) {
	users, err := e.db.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if err := e.AdvanceTradingDay(u.UserID); err != nil {
			return 0, err
		}
	}
	return len(users), nil
}

// UpdateUserAssets recomputes the derived total-assets field from the
// cash balance plus every position's market value in settlement currency.
func (e *Engine) UpdateUserAssets(userID string) error {
	defer e.lockUser(userID)()
	return e.recomputeAssets(userID)
}

// recomputeAssets is UpdateUserAssets without locking; callers hold the
// user lock.
func (e *Engine) recomputeAssets(userID string) error {
	user, err := e.db.GetUser(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil
	}

	positions, err := e.db.GetPositions(userID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	totalMarketValue := 0.0
	for _, p := range positions {
		totalMarketValue += e.currency.ConvertToSettlement(p.MarketValue, p.Market)
	}

	user.TotalAssets = user.Balance + totalMarketValue
	return e.db.SaveUser(user)
}

// GetTradingSummary aggregates the user's account: settlement-currency
// market value and profit/loss, open position and pending order counts,
// and the five most recent orders.
func (e *Engine) GetTradingSummary(userID string) (*types.TradingSummary, error) {
	user, err := e.db.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	positions, err := e.db.GetPositions(userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	orders, err := e.db.GetOrders(userID)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	summary := &types.TradingSummary{
		User:      user,
		Positions: positions,
	}
	for _, p := range positions {
		summary.TotalMarketValue += e.currency.ConvertToSettlement(p.MarketValue, p.Market)
		summary.TotalProfitLoss += e.currency.ConvertToSettlement(p.ProfitLoss, p.Market)
		if p.TotalVolume > 0 {
			summary.TotalPositions++
		}
	}
	for _, o := range orders {
		if o.IsPending() {
			summary.PendingOrders++
		}
	}
	if len(orders) > 5 {
		orders = orders[:5]
	}
	summary.RecentOrders = orders
	return summary, nil
}

// GetOrder returns an order if it exists and belongs to the user.
func (e *Engine) GetOrder(userID, orderID string) (*types.Order, error) {
	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return order, nil
}

// GetOrders returns the user's orders, most recent first.
func (e *Engine) GetOrders(userID string) ([]types.Order, error) {
	return e.db.GetOrders(userID)
}

// GetPositions returns the user's positions.
func (e *Engine) GetPositions(userID string) ([]types.Position, error) {
	return e.db.GetPositions(userID)
}

// ResolveSession classifies an instant for a market and records the
// lookup.
func (e *Engine) ResolveSession(at time.Time, market types.Market) types.MarketSession {
	session := e.mtime.Resolve(at, market)
	metrics.SessionResolutions.WithLabelValues(string(market), string(session.Type)).Inc()
	return session
}

// priceDisplay renders an order price with its native currency, plus the
// settlement equivalence for non-settlement markets.
func (e *Engine) priceDisplay(price float64, market types.Market) string {
	native := e.currency.FormatByMarket(price, market)
	if currency.MarketCurrency(market) == types.SettlementCurrency {
		return native
	}
	return fmt.Sprintf("%s (≈%s)", native,
		e.currency.Format(e.currency.ConvertToSettlement(price, market), types.SettlementCurrency))
}
