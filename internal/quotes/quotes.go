package quotes

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/types"
)

// ErrUnknownSymbol is returned for codes outside the simulated universe.
var ErrUnknownSymbol = errors.New("unknown stock code")

// listing seeds one simulated instrument. Band is the daily price band as
// a fraction of the previous close; zero means no band (Hong Kong).
type listing struct {
	code      string
	name      string
	market    types.Market
	basePrice float64
	band      float64
	suspended bool
}

var universe = []listing{
	// A-shares: 10% band, 5% for special-treatment stocks.
	{code: "600519", name: "Kweichow Moutai", market: types.MarketCN, basePrice: 1680.00, band: 0.10},
	{code: "601318", name: "Ping An Insurance", market: types.MarketCN, basePrice: 45.30, band: 0.10},
	{code: "600036", name: "China Merchants Bank", market: types.MarketCN, basePrice: 34.20, band: 0.10},
	{code: "000001", name: "Ping An Bank", market: types.MarketCN, basePrice: 10.50, band: 0.10},
	{code: "000666", name: "ST Jingwei", market: types.MarketCN, basePrice: 6.80, band: 0.05},
	{code: "000099", name: "CITIC Offshore Helicopter", market: types.MarketCN, basePrice: 18.40, band: 0.10, suspended: true},
	// Hong Kong: no daily band.
	{code: "00700", name: "Tencent Holdings", market: types.MarketHK, basePrice: 320.00},
	{code: "09988", name: "Alibaba-W", market: types.MarketHK, basePrice: 75.50},
	{code: "03690", name: "Meituan-W", market: types.MarketHK, basePrice: 95.20},
	// US: simplified 10% band.
	{code: "AAPL", name: "Apple Inc", market: types.MarketUS, basePrice: 190.00, band: 0.10},
	{code: "TSLA", name: "Tesla Inc", market: types.MarketUS, basePrice: 250.00, band: 0.10},
	{code: "NVDA", name: "NVIDIA Corp", market: types.MarketUS, basePrice: 480.00, band: 0.10},
	{code: "MSFT", name: "Microsoft Corp", market: types.MarketUS, basePrice: 370.00, band: 0.10},
}

// Service is a simulated quote provider. Prices random-walk around each
// listing's seed, and the trading-session descriptor is resolved once per
// snapshot so downstream code never probes optional per-session fields.
type Service struct {
	mtime *markettime.Manager
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService builds a provider resolving sessions through mtime.
func NewService(mtime *markettime.Manager) *Service {
	return &Service{
		mtime: mtime,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetQuote returns a snapshot for code, or ErrUnknownSymbol.
func (s *Service) GetQuote(code string) (*types.StockQuote, error) {
	l, ok := find(code)
	if !ok {
		return nil, ErrUnknownSymbol
	}

	now := s.now()
	session := s.mtime.Resolve(now, l.market)

	s.mu.Lock()
	walk := s.rng.Float64()*0.06 - 0.03 // ±3% around the seed
	drift := s.rng.Float64()*0.02 - 0.01
	spread := s.rng.Float64() * 0.02
	volume := 50000 + s.rng.Int63n(5000000)
	s.mu.Unlock()

	prevClose := round2(l.basePrice * (1 + drift))
	open := round2(prevClose * (1 + drift/2))
	current := round2(l.basePrice * (1 + walk))
	high := round2(current * (1 + spread))
	low := round2(current * (1 - spread))

	var limitUp, limitDown float64
	if l.band > 0 {
		limitUp = round2(prevClose * (1 + l.band))
		limitDown = round2(prevClose * (1 - l.band))
		if current > limitUp {
			current = limitUp
		}
		if current < limitDown {
			current = limitDown
		}
	}

	quote := &types.StockQuote{
		Code:         l.code,
		Name:         l.name,
		Market:       l.market,
		CurrentPrice: current,
		Open:         open,
		PrevClose:    prevClose,
		High:         high,
		Low:          low,
		Volume:       volume,
		Turnover:     round2(float64(volume) * current),
		LimitUp:      limitUp,
		LimitDown:    limitDown,
		IsSuspended:  l.suspended,
		Session:      session,
		Timestamp:    now,
	}

	log.Debug().
		Str("code", quote.Code).
		Str("market", string(quote.Market)).
		Float64("price", quote.CurrentPrice).
		Str("session", string(session.Type)).
		Bool("use_prev_close", session.UsePrevClose).
		Msg("quote snapshot resolved")

	return quote, nil
}

// SearchStocks matches code or name substrings, case-insensitively.
func (s *Service) SearchStocks(keyword string) ([]types.StockListing, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return nil, nil
	}

	var results []types.StockListing
	for _, l := range universe {
		if strings.Contains(strings.ToLower(l.code), kw) ||
			strings.Contains(strings.ToLower(l.name), kw) {
			results = append(results, types.StockListing{
				Code:   l.code,
				Name:   l.name,
				Market: l.market,
			})
		}
	}
	return results, nil
}

func find(code string) (listing, bool) {
	for _, l := range universe {
		if strings.EqualFold(l.code, code) {
			return l, true
		}
	}
	return listing{}, false
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
