package types

import "time"

// Market identifies one of the supported equity markets.
type Market string

const (
	MarketCN Market = "A"  // domestic A-shares, Shanghai/Shenzhen
	MarketHK Market = "HK" // Hong Kong
	MarketUS Market = "US" // United States
)

// Valid reports whether m is one of the supported markets.
func (m Market) Valid() bool {
	switch m {
	case MarketCN, MarketHK, MarketUS:
		return true
	}
	return false
}

// DisplayName returns a human-readable market name for messages.
func (m Market) DisplayName() string {
	switch m {
	case MarketCN:
		return "A-share"
	case MarketHK:
		return "Hong Kong"
	case MarketUS:
		return "US"
	}
	return string(m)
}

// Currency is an ISO-4217 style currency code.
type Currency string

const (
	CNY Currency = "CNY"
	HKD Currency = "HKD"
	USD Currency = "USD"
)

// SettlementCurrency is the single currency all balances and aggregate
// asset values are expressed in, regardless of the traded market.
const SettlementCurrency = CNY

// SessionType classifies an instant within a market's trading day.
type SessionType string

const (
	SessionRegular     SessionType = "REGULAR"
	SessionCallAuction SessionType = "CALL_AUCTION"
	SessionPreMarket   SessionType = "PRE_MARKET"
	SessionAfterHours  SessionType = "AFTER_HOURS"
	SessionOvernight   SessionType = "OVERNIGHT"
	SessionClosed      SessionType = "CLOSED"
)

// MarketSession is the resolved trading-session state for a market at an
// instant. It is derived, never persisted.
type MarketSession struct {
	Market   Market      `json:"market"`
	Type     SessionType `json:"session_type"`
	CanTrade bool        `json:"can_trade"`
	Reason   string      `json:"reason"`
	// UsePrevClose is set for US pre-market, after-hours and overnight
	// sessions, where the previous-day close (not the session's own open)
	// is the change-percent reference.
	UsePrevClose bool `json:"use_prev_close"`
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceType distinguishes market from limit orders.
type PriceType string

const (
	PriceMarket PriceType = "MARKET"
	PriceLimit  PriceType = "LIMIT"
)

// OrderStatus is the order lifecycle state. Transitions are monotone:
// PENDING may move to FILLED or CANCELLED, both of which are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// StockQuote is an immutable snapshot produced by the quote provider.
// The provider has already resolved any session-specific field set, so
// CurrentPrice and friends are the active values for the current session.
type StockQuote struct {
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	Market       Market        `json:"market"`
	CurrentPrice float64       `json:"current_price"`
	Open         float64       `json:"open"`
	PrevClose    float64       `json:"prev_close"`
	High         float64       `json:"high"`
	Low          float64       `json:"low"`
	Volume       int64         `json:"volume"`
	Turnover     float64       `json:"turnover"`
	LimitUp      float64       `json:"limit_up"`   // 0 when the market has no band
	LimitDown    float64       `json:"limit_down"` // 0 when the market has no band
	IsSuspended  bool          `json:"is_suspended"`
	Session      MarketSession `json:"trading_session"`
	Timestamp    time.Time     `json:"timestamp"`
}

// IsLimitUp reports whether the stock already trades at its price cap.
func (q *StockQuote) IsLimitUp() bool {
	return q.LimitUp > 0 && q.CurrentPrice >= q.LimitUp
}

// IsLimitDown reports whether the stock already trades at its price floor.
func (q *StockQuote) IsLimitDown() bool {
	return q.LimitDown > 0 && q.CurrentPrice <= q.LimitDown
}

// CanBuyAt reports whether price is at or below the limit-up cap.
// Markets without a band (HK) accept any positive price.
func (q *StockQuote) CanBuyAt(price float64) bool {
	return q.LimitUp <= 0 || price <= q.LimitUp
}

// CanSellAt reports whether price is at or above the limit-down floor.
func (q *StockQuote) CanSellAt(price float64) bool {
	return q.LimitDown <= 0 || price >= q.LimitDown
}

// MarketBuyPrice is the price a market buy order is quoted at.
// Fills are simulated against the last quoted price; there is no book.
func (q *StockQuote) MarketBuyPrice() float64 { return q.CurrentPrice }

// MarketSellPrice is the price a market sell order is quoted at.
func (q *StockQuote) MarketSellPrice() float64 { return q.CurrentPrice }

// ChangeReference is the price the day's change percent is measured
// against: the previous close for US extended sessions, the open otherwise.
func (q *StockQuote) ChangeReference() float64 {
	if q.Session.UsePrevClose && q.PrevClose > 0 {
		return q.PrevClose
	}
	if q.Open > 0 {
		return q.Open
	}
	return q.PrevClose
}

// ChangePercent is the percentage move of the current price against the
// session's change reference.
func (q *StockQuote) ChangePercent() float64 {
	ref := q.ChangeReference()
	if ref <= 0 {
		return 0
	}
	return (q.CurrentPrice - ref) / ref * 100
}

// StockListing is a search result from the quote provider.
type StockListing struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market Market `json:"market"`
}
