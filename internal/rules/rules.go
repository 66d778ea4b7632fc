package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/currency"
	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/types"
)

// Engine validates orders against per-market trading rules and computes
// settlement amounts including commissions, taxes and minimums. It is a
// stateless read-only advisor over immutable configuration.
type Engine struct {
	currency *currency.Service
	mtime    *markettime.Manager

	commissionRate  decimal.Decimal
	stampTaxRate    decimal.Decimal
	transferFeeRate decimal.Decimal
}

// NewEngine builds an Engine from validated configuration.
func NewEngine(cfg config.Config, cur *currency.Service, mtime *markettime.Manager) *Engine {
	return &Engine{
		currency:        cur,
		mtime:           mtime,
		commissionRate:  decimal.NewFromFloat(cfg.CommissionRate),
		stampTaxRate:    decimal.NewFromFloat(cfg.StampTaxRate),
		transferFeeRate: decimal.NewFromFloat(cfg.TransferFeeRate),
	}
}

// LotSize returns the minimum tradable share multiple for a market.
func LotSize(market types.Market) int64 {
	if market == types.MarketCN {
		return 100
	}
	return 1
}

// MinOrderAmount returns the minimum settlement-currency value of a
// single order for a market.
func MinOrderAmount(market types.Market) float64 {
	switch market {
	case types.MarketHK:
		return 1000
	default:
		return 100
	}
}

// minCommissionCNY is the per-market commission floor in the settlement
// currency; it is converted into the stock's native currency before the
// floor comparison.
func minCommissionCNY(market types.Market) float64 {
	switch market {
	case types.MarketHK:
		return 50
	case types.MarketUS:
		return 1
	default:
		return 5
	}
}

// hkStampTaxRate applies to both sides of Hong Kong trades.
var hkStampTaxRate = decimal.NewFromFloat(0.001)

// Commission computes the broker commission on a trade amount, both in
// the stock's native currency, flooring at the market minimum.
func (e *Engine) Commission(amount float64, market types.Market) float64 {
	floorCNY := minCommissionCNY(market)
	floorLocal := decimal.NewFromFloat(
		e.currency.Convert(floorCNY, types.SettlementCurrency, currency.MarketCurrency(market)))

	c := decimal.NewFromFloat(amount).Mul(e.commissionRate)
	if c.LessThan(floorLocal) {
		c = floorLocal
	}
	return c.InexactFloat64()
}

// stampTax computes the stamp tax on a trade amount in native currency.
// A-shares tax sells only, Hong Kong taxes both sides, the US has none.
func (e *Engine) stampTax(amount decimal.Decimal, market types.Market, side types.Side) decimal.Decimal {
	switch market {
	case types.MarketCN:
		if side == types.SideSell {
			return amount.Mul(e.stampTaxRate)
		}
	case types.MarketHK:
		return amount.Mul(hkStampTaxRate)
	}
	return decimal.Zero
}

// transferFee computes the A-share transfer fee in native currency, with
// a floor of 1. Other markets have none.
func (e *Engine) transferFee(amount decimal.Decimal, market types.Market) decimal.Decimal {
	if market != types.MarketCN {
		return decimal.Zero
	}
	fee := amount.Mul(e.transferFeeRate)
	one := decimal.NewFromInt(1)
	if fee.LessThan(one) {
		return one
	}
	return fee
}

// BuyAmount returns the settlement-currency cost of buying volume shares
// at price: principal plus commission, stamp tax and transfer fee, all
// computed in the stock's native currency before conversion.
func (e *Engine) BuyAmount(volume int64, price float64, market types.Market) float64 {
	principal := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(volume))
	total := principal.
		Add(decimal.NewFromFloat(e.Commission(principal.InexactFloat64(), market))).
		Add(e.stampTax(principal, market, types.SideBuy)).
		Add(e.transferFee(principal, market))
	return e.currency.ConvertToSettlement(total.InexactFloat64(), market)
}

// SellAmount returns the settlement-currency proceeds of selling volume
// shares at price: principal minus commission, stamp tax and transfer fee.
func (e *Engine) SellAmount(volume int64, price float64, market types.Market) float64 {
	principal := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(volume))
	net := principal.
		Sub(decimal.NewFromFloat(e.Commission(principal.InexactFloat64(), market))).
		Sub(e.stampTax(principal, market, types.SideSell)).
		Sub(e.transferFee(principal, market))
	return e.currency.ConvertToSettlement(net.InexactFloat64(), market)
}

// ValidateBuy checks a draft buy order against the market rules. It
// returns false with a user-facing reason on the first violated rule; no
// state is touched.
func (e *Engine) ValidateBuy(at time.Time, quote *types.StockQuote, order *types.Order, balance float64) (bool, string) {
	if order.IsMarketOrder() {
		if can, reason := e.mtime.CanPlaceOrder(at, quote.Market); !can {
			return false, reason + " (market orders require an open trading window)"
		}
	}

	if quote.IsSuspended {
		return false, fmt.Sprintf("%s is suspended, trading halted", quote.Name)
	}

	if quote.IsLimitUp() {
		return false, fmt.Sprintf("%s is at limit-up, buying is blocked", quote.Name)
	}

	if !quote.CanBuyAt(order.OrderPrice) {
		return false, fmt.Sprintf("buy price %.2f exceeds the limit-up price %.2f",
			order.OrderPrice, quote.LimitUp)
	}

	cost := e.BuyAmount(order.OrderVolume, order.OrderPrice, quote.Market)
	if balance < cost {
		return false, fmt.Sprintf("insufficient funds: %s order needs %s, available balance %s",
			quote.Market.DisplayName(),
			e.currency.Format(cost, types.SettlementCurrency),
			e.currency.Format(balance, types.SettlementCurrency))
	}

	if lot := LotSize(quote.Market); order.OrderVolume%lot != 0 {
		return false, fmt.Sprintf("volume must be a multiple of %d shares for the %s market",
			lot, quote.Market.DisplayName())
	}

	if min := MinOrderAmount(quote.Market); cost < min {
		return false, fmt.Sprintf("order value below the %s market minimum of %s",
			quote.Market.DisplayName(),
			e.currency.Format(min, types.SettlementCurrency))
	}

	return true, ""
}

// ValidateSell checks a draft sell order against the market rules and
// the user's position, including the T+1 sellable-quantity restriction.
func (e *Engine) ValidateSell(at time.Time, quote *types.StockQuote, order *types.Order, position *types.Position) (bool, string) {
	if order.IsMarketOrder() {
		if can, reason := e.mtime.CanPlaceOrder(at, quote.Market); !can {
			return false, reason + " (market orders require an open trading window)"
		}
	}

	if position == nil || position.IsEmpty() {
		return false, fmt.Sprintf("no position in %s, nothing to sell", quote.Name)
	}

	if quote.IsSuspended {
		return false, fmt.Sprintf("%s is suspended, trading halted", quote.Name)
	}

	if quote.IsLimitDown() {
		return false, fmt.Sprintf("%s is at limit-down, selling is blocked", quote.Name)
	}

	if !quote.CanSellAt(order.OrderPrice) {
		return false, fmt.Sprintf("sell price %.2f is below the limit-down price %.2f",
			order.OrderPrice, quote.LimitDown)
	}

	if !position.CanSell(order.OrderVolume) {
		return false, fmt.Sprintf("sellable quantity insufficient: holding %d shares, %d sellable (T+1)",
			position.TotalVolume, position.AvailableVolume)
	}

	if lot := LotSize(quote.Market); order.OrderVolume%lot != 0 {
		return false, fmt.Sprintf("volume must be a multiple of %d shares for the %s market",
			lot, quote.Market.DisplayName())
	}

	return true, ""
}

// ValidateInAuction rejects market orders during a call auction, where
// only limit orders accumulate toward the clearing price.
func (e *Engine) ValidateInAuction(at time.Time, order *types.Order, market types.Market) (bool, string) {
	session := e.mtime.Resolve(at, market)
	if session.Type == types.SessionCallAuction && order.IsMarketOrder() {
		return false, "only limit orders are accepted during the call auction"
	}
	return true, ""
}

// ValidatePrice checks the format of a limit price: positive, at most
// two decimal places, and within the sanity cap.
func ValidatePrice(price float64) (bool, string) {
	if price <= 0 {
		return false, "price must be greater than zero"
	}
	d := decimal.NewFromFloat(price)
	if !d.Equal(d.Round(2)) {
		return false, "price precision is limited to two decimal places"
	}
	if price > 10000 {
		return false, "price exceeds the 10000 cap"
	}
	return true, ""
}

// STStockNote annotates special-treatment stocks, whose daily price band
// is narrowed to 5%.
func STStockNote(name string) string {
	if strings.Contains(name, "ST") {
		return "ST stock: daily price band limited to 5%"
	}
	return ""
}
