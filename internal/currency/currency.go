package currency

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/types"
)

// minRate floors any effective rate to keep reciprocals finite.
const minRate = 0.0001

// Service converts amounts between the market currencies and formats
// them for display. It holds immutable configuration and is a stateless
// read-only advisor: construct one and share it.
type Service struct {
	hkdToCNY float64
	usdToCNY float64
}

// NewService builds a Service from configured base rates. A rate at or
// below zero falls back to the documented default with a logged warning.
func NewService(cfg config.Config) *Service {
	return &Service{
		hkdToCNY: effectiveRate("hkd_to_cny", cfg.HKDToCNYRate, config.DefaultHKDToCNYRate),
		usdToCNY: effectiveRate("usd_to_cny", cfg.USDToCNYRate, config.DefaultUSDToCNYRate),
	}
}

func effectiveRate(name string, rate, fallback float64) float64 {
	if rate <= 0 {
		log.Warn().
			Str("rate", name).
			Float64("configured", rate).
			Float64("default", fallback).
			Msg("invalid exchange rate, using default")
		rate = fallback
	}
	if rate < minRate {
		rate = minRate
	}
	return rate
}

// Rate returns how many units of to one unit of from buys. Same-currency
// pairs are exactly 1. Reverse rates are exact reciprocals of the forward
// rate in effect. Unsupported pairs return 1 as an explicit no-op.
func (s *Service) Rate(from, to types.Currency) float64 {
	if from == to {
		return 1.0
	}

	switch {
	case from == types.HKD && to == types.CNY:
		return s.hkdToCNY
	case from == types.USD && to == types.CNY:
		return s.usdToCNY
	case from == types.CNY && to == types.HKD:
		return 1.0 / s.hkdToCNY
	case from == types.CNY && to == types.USD:
		return 1.0 / s.usdToCNY
	}

	log.Warn().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("unsupported currency pair, conversion is a no-op")
	return 1.0
}

// Convert converts amount from one currency to another.
func (s *Service) Convert(amount float64, from, to types.Currency) float64 {
	rate := decimal.NewFromFloat(s.Rate(from, to))
	return decimal.NewFromFloat(amount).Mul(rate).InexactFloat64()
}

// MarketCurrency maps a market to its native currency.
func MarketCurrency(market types.Market) types.Currency {
	switch market {
	case types.MarketHK:
		return types.HKD
	case types.MarketUS:
		return types.USD
	}
	return types.CNY
}

// ConvertToSettlement converts an amount in market's native currency to
// the settlement currency.
func (s *Service) ConvertToSettlement(amount float64, market types.Market) float64 {
	return s.Convert(amount, MarketCurrency(market), types.SettlementCurrency)
}

var symbols = map[types.Currency]string{
	types.CNY: "¥",
	types.HKD: "HK$",
	types.USD: "$",
}

// Format renders an amount with its currency symbol and thousands
// grouping. Precision shrinks as the amount grows: 4 decimals below 1,
// 2 decimals up to 10,000, none above.
func (s *Service) Format(amount float64, cur types.Currency) string {
	symbol, ok := symbols[cur]
	if !ok {
		symbol = string(cur)
	}

	abs := amount
	if abs < 0 {
		abs = -abs
	}
	places := int32(2)
	switch {
	case abs >= 10000:
		places = 0
	case abs < 1:
		places = 4
	}

	fixed := decimal.NewFromFloat(amount).StringFixed(places)
	return symbol + groupThousands(fixed)
}

// FormatByMarket formats an amount in the market's native currency.
func (s *Service) FormatByMarket(amount float64, market types.Market) string {
	return s.Format(amount, MarketCurrency(market))
}

// groupThousands inserts commas into the integer part of a fixed-point
// decimal string, preserving sign and fraction.
func groupThousands(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(fixed, ".")

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	out := sign + b.String()
	if hasFrac {
		out += "." + fracPart
	}
	return out
}
