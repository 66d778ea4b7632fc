package types

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrOrderNotPending is returned when a terminal order is filled or
	// cancelled a second time.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrInsufficientVolume is returned when a reduction exceeds the
	// sellable quantity.
	ErrInsufficientVolume = errors.New("insufficient available volume")
)

// User is a trading account. Balance and TotalAssets are kept in the
// settlement currency; TotalAssets is derived and recomputed after every
// state-mutating operation, never mutated independently.
type User struct {
	gorm.Model  `json:"-"`
	UserID      string  `gorm:"uniqueIndex" json:"user_id"`
	Nickname    string  `json:"nickname"`
	Balance     float64 `json:"balance"`
	TotalAssets float64 `json:"total_assets"`
}

// CanAfford reports whether the balance covers a settlement-currency cost.
func (u *User) CanAfford(cost float64) bool { return u.Balance >= cost }

// DeductBalance debits the balance by a settlement-currency amount.
func (u *User) DeductBalance(amount float64) { u.Balance -= amount }

// AddBalance credits the balance by a settlement-currency amount.
func (u *User) AddBalance(amount float64) { u.Balance += amount }

// Position is a user's holding in a single stock. MarketValue, ProfitLoss
// and LastPrice are quoted in the stock's native currency.
// Invariant: 0 <= AvailableVolume <= TotalVolume. A position whose
// TotalVolume reaches zero is deleted, not retained.
type Position struct {
	gorm.Model      `json:"-"`
	UserID          string  `gorm:"uniqueIndex:idx_user_stock" json:"user_id"`
	StockCode       string  `gorm:"uniqueIndex:idx_user_stock" json:"stock_code"`
	StockName       string  `json:"stock_name"`
	Market          Market  `json:"market"`
	TotalVolume     int64   `json:"total_volume"`
	AvailableVolume int64   `json:"available_volume"`
	AvgCost         float64 `json:"avg_cost"`
	TotalCost       float64 `json:"total_cost"`
	MarketValue     float64 `json:"market_value"`
	ProfitLoss      float64 `json:"profit_loss"`
	LastPrice       float64 `json:"last_price"`
}

// IsEmpty reports whether the position holds no shares.
func (p *Position) IsEmpty() bool { return p.TotalVolume <= 0 }

// CanSell reports whether volume shares are sellable today. Shares bought
// today are excluded until the T+1 rollover.
func (p *Position) CanSell(volume int64) bool {
	return volume > 0 && volume <= p.AvailableVolume
}

// Add accumulates newly bought shares at price using weighted-average
// cost. AvailableVolume is left unchanged: today's buys are not sellable
// until the next trading day.
func (p *Position) Add(volume int64, price float64) {
	p.TotalCost += float64(volume) * price
	p.TotalVolume += volume
	if p.TotalVolume > 0 {
		p.AvgCost = p.TotalCost / float64(p.TotalVolume)
	}
}

// Reduce removes sold shares, keeping the average cost constant.
func (p *Position) Reduce(volume int64) error {
	if !p.CanSell(volume) {
		return ErrInsufficientVolume
	}
	p.TotalVolume -= volume
	p.AvailableVolume -= volume
	p.TotalCost = p.AvgCost * float64(p.TotalVolume)
	return nil
}

// UpdateMarketData refreshes the mark-to-market fields from the last
// traded price, in the stock's native currency.
func (p *Position) UpdateMarketData(lastPrice float64) {
	p.LastPrice = lastPrice
	p.MarketValue = float64(p.TotalVolume) * lastPrice
	p.ProfitLoss = p.MarketValue - p.TotalCost
}

// Order is a buy or sell instruction. FilledAmount and ReservedAmount are
// settlement-currency values; OrderPrice is in the stock's native currency.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string      `gorm:"uniqueIndex" json:"order_id"`
	UserID         string      `gorm:"index" json:"user_id"`
	StockCode      string      `json:"stock_code"`
	StockName      string      `json:"stock_name"`
	Market         Market      `json:"market"`
	Side           Side        `json:"side"`
	PriceType      PriceType   `json:"price_type"`
	OrderPrice     float64     `json:"order_price"`
	OrderVolume    int64       `json:"order_volume"`
	FilledVolume   int64       `json:"filled_volume"`
	FilledAmount   float64     `json:"filled_amount"`
	ReservedAmount float64     `json:"reserved_amount"` // debited up-front for pending buys
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsPending reports whether the order is still open.
func (o *Order) IsPending() bool { return o.Status == OrderPending }

// IsBuy reports whether the order is a buy.
func (o *Order) IsBuy() bool { return o.Side == SideBuy }

// IsMarketOrder reports whether the order executes at the market price.
func (o *Order) IsMarketOrder() bool { return o.PriceType == PriceMarket }

// Fill marks the order filled. amount is the settlement-currency value of
// the fill. Only a pending order may be filled.
func (o *Order) Fill(volume int64, amount float64) error {
	if !o.IsPending() {
		return ErrOrderNotPending
	}
	o.FilledVolume = volume
	o.FilledAmount = amount
	o.Status = OrderFilled
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel marks the order cancelled. Only a pending order may be cancelled.
func (o *Order) Cancel() error {
	if !o.IsPending() {
		return ErrOrderNotPending
	}
	o.Status = OrderCancelled
	o.UpdatedAt = time.Now()
	return nil
}
