package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/types"
)

func newTestService() *Service {
	return NewService(config.Config{
		HKDToCNYRate: 0.92,
		USDToCNYRate: 7.20,
	})
}

func TestRateIdentity(t *testing.T) {
	s := newTestService()
	for _, cur := range []types.Currency{types.CNY, types.HKD, types.USD} {
		assert.Equal(t, 1.0, s.Rate(cur, cur))
	}
}

func TestRateForwardAndReciprocal(t *testing.T) {
	s := newTestService()

	assert.InDelta(t, 0.92, s.Rate(types.HKD, types.CNY), 1e-12)
	assert.InDelta(t, 7.20, s.Rate(types.USD, types.CNY), 1e-12)

	// Reverse rates are exact reciprocals of the forward rate in effect.
	assert.InDelta(t, 1.0, s.Rate(types.HKD, types.CNY)*s.Rate(types.CNY, types.HKD), 1e-12)
	assert.InDelta(t, 1.0, s.Rate(types.USD, types.CNY)*s.Rate(types.CNY, types.USD), 1e-12)
}

func TestRateFallsBackOnInvalidConfig(t *testing.T) {
	s := NewService(config.Config{HKDToCNYRate: 0, USDToCNYRate: -1})

	assert.InDelta(t, config.DefaultHKDToCNYRate, s.Rate(types.HKD, types.CNY), 1e-12)
	assert.InDelta(t, config.DefaultUSDToCNYRate, s.Rate(types.USD, types.CNY), 1e-12)
}

func TestRateUnsupportedPairIsNoOp(t *testing.T) {
	s := newTestService()
	assert.Equal(t, 1.0, s.Rate(types.HKD, types.USD))
	assert.Equal(t, 1.0, s.Rate(types.USD, types.HKD))
}

func TestConvert(t *testing.T) {
	s := newTestService()

	assert.InDelta(t, 720.0, s.Convert(100, types.USD, types.CNY), 1e-9)
	assert.InDelta(t, 92.0, s.Convert(100, types.HKD, types.CNY), 1e-9)
	assert.InDelta(t, 100.0, s.Convert(s.Convert(100, types.CNY, types.USD), types.USD, types.CNY), 1e-9)
}

func TestMarketCurrency(t *testing.T) {
	assert.Equal(t, types.CNY, MarketCurrency(types.MarketCN))
	assert.Equal(t, types.HKD, MarketCurrency(types.MarketHK))
	assert.Equal(t, types.USD, MarketCurrency(types.MarketUS))
}

func TestConvertToSettlement(t *testing.T) {
	s := newTestService()

	assert.InDelta(t, 92.0, s.ConvertToSettlement(100, types.MarketHK), 1e-9)
	assert.InDelta(t, 720.0, s.ConvertToSettlement(100, types.MarketUS), 1e-9)
	assert.InDelta(t, 100.0, s.ConvertToSettlement(100, types.MarketCN), 1e-9)
}

// Precision shrinks as magnitude grows: 4 decimals below 1, 2 decimals
// up to 10,000, none above.
func TestFormat(t *testing.T) {
	s := newTestService()

	tests := []struct {
		amount float64
		cur    types.Currency
		want   string
	}{
		{1234.5, types.CNY, "¥1,234.50"},
		{-1234.5, types.CNY, "¥-1,234.50"},
		{12345.6, types.USD, "$12,346"},
		{1000000, types.CNY, "¥1,000,000"},
		{0.1234, types.HKD, "HK$0.1234"},
		{0.5, types.USD, "$0.5000"},
		{999.99, types.HKD, "HK$999.99"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Format(tt.amount, tt.cur))
		})
	}
}

func TestFormatByMarket(t *testing.T) {
	s := newTestService()

	assert.Equal(t, "¥100.00", s.FormatByMarket(100, types.MarketCN))
	assert.Equal(t, "HK$100.00", s.FormatByMarket(100, types.MarketHK))
	assert.Equal(t, "$100.00", s.FormatByMarket(100, types.MarketUS))
}
