package quotes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mtime, err := markettime.NewManager(markettime.NewStaticCalendar())
	require.NoError(t, err)
	s := NewService(mtime)
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 5, 10, 0, 0, 0, loc) }
	return s
}

func TestGetQuoteUnknownSymbol(t *testing.T) {
	s := newTestService(t)
	_, err := s.GetQuote("XXXXXX")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestGetQuoteRespectsPriceBand(t *testing.T) {
	s := newTestService(t)

	for i := 0; i < 50; i++ {
		quote, err := s.GetQuote("600519")
		require.NoError(t, err)
		require.Greater(t, quote.LimitUp, quote.LimitDown)
		assert.LessOrEqual(t, quote.CurrentPrice, quote.LimitUp)
		assert.GreaterOrEqual(t, quote.CurrentPrice, quote.LimitDown)
	}
}

func TestGetQuoteHongKongHasNoBand(t *testing.T) {
	s := newTestService(t)

	quote, err := s.GetQuote("00700")
	require.NoError(t, err)
	assert.Zero(t, quote.LimitUp)
	assert.Zero(t, quote.LimitDown)
	assert.Equal(t, types.MarketHK, quote.Market)
}

func TestGetQuoteResolvesSession(t *testing.T) {
	s := newTestService(t)

	quote, err := s.GetQuote("600519")
	require.NoError(t, err)
	assert.Equal(t, types.SessionRegular, quote.Session.Type)
	assert.True(t, quote.Session.CanTrade)
}

func TestGetQuoteSuspendedFlag(t *testing.T) {
	s := newTestService(t)

	quote, err := s.GetQuote("000099")
	require.NoError(t, err)
	assert.True(t, quote.IsSuspended)
}

func TestGetQuoteCaseInsensitive(t *testing.T) {
	s := newTestService(t)

	quote, err := s.GetQuote("aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Code)
}

func TestSearchStocks(t *testing.T) {
	s := newTestService(t)

	byCode, err := s.SearchStocks("600")
	require.NoError(t, err)
	assert.NotEmpty(t, byCode)

	byName, err := s.SearchStocks("tencent")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "00700", byName[0].Code)

	empty, err := s.SearchStocks("   ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	none, err := s.SearchStocks("zzzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}
