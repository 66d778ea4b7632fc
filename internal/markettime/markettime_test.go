package markettime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/papertrade-api/internal/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(NewStaticCalendar())
	require.NoError(t, err)
	return m
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

// 2025-03-05 is a Wednesday with no holiday in any market.
func TestResolveSessions(t *testing.T) {
	m := newTestManager(t)
	shanghai := mustLoc(t, "Asia/Shanghai")
	newYork := mustLoc(t, "America/New_York")

	tests := []struct {
		name     string
		market   types.Market
		at       time.Time
		want     types.SessionType
		canTrade bool
	}{
		{"A-share morning session", types.MarketCN,
			time.Date(2025, 3, 5, 10, 0, 0, 0, shanghai), types.SessionRegular, true},
		{"A-share afternoon close inclusive", types.MarketCN,
			time.Date(2025, 3, 5, 15, 0, 0, 0, shanghai), types.SessionRegular, true},
		{"A-share opening auction", types.MarketCN,
			time.Date(2025, 3, 5, 9, 20, 0, 0, shanghai), types.SessionCallAuction, true},
		{"A-share lunch break", types.MarketCN,
			time.Date(2025, 3, 5, 12, 30, 0, 0, shanghai), types.SessionClosed, false},
		{"A-share pre-open pause", types.MarketCN,
			time.Date(2025, 3, 5, 9, 27, 0, 0, shanghai), types.SessionClosed, false},
		{"A-share after close", types.MarketCN,
			time.Date(2025, 3, 5, 18, 0, 0, 0, shanghai), types.SessionClosed, false},
		{"HK morning session", types.MarketHK,
			time.Date(2025, 3, 5, 10, 30, 0, 0, shanghai), types.SessionRegular, true},
		{"HK midday auction", types.MarketHK,
			time.Date(2025, 3, 5, 12, 30, 0, 0, shanghai), types.SessionCallAuction, true},
		{"US regular session", types.MarketUS,
			time.Date(2025, 3, 5, 10, 0, 0, 0, newYork), types.SessionRegular, true},
		{"US pre-market", types.MarketUS,
			time.Date(2025, 3, 5, 5, 0, 0, 0, newYork), types.SessionPreMarket, true},
		{"US after-hours", types.MarketUS,
			time.Date(2025, 3, 5, 17, 0, 0, 0, newYork), types.SessionAfterHours, true},
		{"US overnight evening half", types.MarketUS,
			time.Date(2025, 3, 5, 21, 0, 0, 0, newYork), types.SessionOvernight, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := m.Resolve(tt.at, tt.market)
			assert.Equal(t, tt.want, session.Type)
			assert.Equal(t, tt.canTrade, session.CanTrade)
			assert.NotEmpty(t, session.Reason)
		})
	}
}

func TestResolveUsesPrevCloseForExtendedSessions(t *testing.T) {
	m := newTestManager(t)
	newYork := mustLoc(t, "America/New_York")

	regular := m.Resolve(time.Date(2025, 3, 5, 10, 0, 0, 0, newYork), types.MarketUS)
	assert.False(t, regular.UsePrevClose)

	for _, at := range []time.Time{
		time.Date(2025, 3, 5, 5, 0, 0, 0, newYork),
		time.Date(2025, 3, 5, 17, 0, 0, 0, newYork),
		time.Date(2025, 3, 5, 21, 0, 0, 0, newYork),
	} {
		session := m.Resolve(at, types.MarketUS)
		assert.True(t, session.UsePrevClose, "at %s", at)
	}
}

func TestResolveWeekendAndHoliday(t *testing.T) {
	m := newTestManager(t)
	shanghai := mustLoc(t, "Asia/Shanghai")
	newYork := mustLoc(t, "America/New_York")

	// 2025-03-08 is a Saturday.
	weekend := m.Resolve(time.Date(2025, 3, 8, 10, 0, 0, 0, shanghai), types.MarketCN)
	assert.Equal(t, types.SessionClosed, weekend.Type)
	assert.Contains(t, weekend.Reason, "weekend")

	// National Day holiday falls on a Wednesday in 2025.
	holiday := m.Resolve(time.Date(2025, 10, 1, 10, 0, 0, 0, shanghai), types.MarketCN)
	assert.Equal(t, types.SessionClosed, holiday.Type)
	assert.Contains(t, holiday.Reason, "holiday")

	// Independence Day closes the US market but not Hong Kong.
	july4 := time.Date(2025, 7, 4, 10, 0, 0, 0, newYork)
	assert.Equal(t, types.SessionClosed, m.Resolve(july4, types.MarketUS).Type)
	assert.True(t, m.IsTradingDay(time.Date(2025, 7, 4, 10, 0, 0, 0, shanghai), types.MarketCN))
}

// The overnight session spans midnight. Its evening half is anchored to
// the current local date, the post-midnight half to the previous one.
func TestOvernightAnchoring(t *testing.T) {
	m := newTestManager(t)
	newYork := mustLoc(t, "America/New_York")

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"Friday evening half", time.Date(2025, 3, 7, 23, 30, 0, 0, newYork), true},
		{"Saturday small hours after Friday", time.Date(2025, 3, 8, 2, 0, 0, 0, newYork), true},
		{"Saturday evening half", time.Date(2025, 3, 8, 21, 0, 0, 0, newYork), false},
		{"Sunday small hours after Saturday", time.Date(2025, 3, 9, 2, 0, 0, 0, newYork), false},
		{"small hours after MLK holiday", time.Date(2025, 1, 21, 2, 0, 0, 0, newYork), false},
		{"midweek small hours", time.Date(2025, 3, 5, 2, 0, 0, 0, newYork), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := m.Resolve(tt.at, types.MarketUS)
			if tt.open {
				assert.Equal(t, types.SessionOvernight, session.Type)
				assert.True(t, session.CanTrade)
			} else {
				assert.Equal(t, types.SessionClosed, session.Type)
				assert.False(t, session.CanTrade)
			}
		})
	}
}

func TestNextTradingOpen(t *testing.T) {
	m := newTestManager(t)
	shanghai := mustLoc(t, "Asia/Shanghai")

	// Before the open on a trading day: same day 09:30.
	open, ok := m.NextTradingOpen(time.Date(2025, 3, 5, 8, 0, 0, 0, shanghai), types.MarketCN)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 5, 9, 30, 0, 0, shanghai), open)

	// Friday evening: next open is Monday morning.
	open, ok = m.NextTradingOpen(time.Date(2025, 3, 7, 17, 0, 0, 0, shanghai), types.MarketCN)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 30, 0, 0, shanghai), open)

	// Eve of the National Day week: skips all seven holiday dates.
	open, ok = m.NextTradingOpen(time.Date(2025, 9, 30, 16, 0, 0, 0, shanghai), types.MarketCN)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 10, 8, 9, 30, 0, 0, shanghai), open)
}

func TestSessionsInfo(t *testing.T) {
	m := newTestManager(t)
	newYork := mustLoc(t, "America/New_York")

	info := m.SessionsInfo(time.Date(2025, 3, 5, 12, 0, 0, 0, newYork), types.MarketUS)
	assert.Equal(t, "2025-03-05", info.Date)
	assert.Equal(t, "America/New_York", info.Timezone)
	assert.True(t, info.IsTradingDay)
	assert.Equal(t, []string{"09:30-16:00"}, info.Regular)
	assert.Equal(t, []string{"20:00-23:59", "00:00-04:00"}, info.Overnight)

	shanghai := mustLoc(t, "Asia/Shanghai")
	cn := m.SessionsInfo(time.Date(2025, 10, 1, 12, 0, 0, 0, shanghai), types.MarketCN)
	assert.False(t, cn.IsTradingDay)
	assert.True(t, cn.IsHoliday)
	assert.Equal(t, []string{"09:30-11:30", "13:00-15:00"}, cn.Regular)
}

func TestCanPlaceOrder(t *testing.T) {
	m := newTestManager(t)
	shanghai := mustLoc(t, "Asia/Shanghai")

	can, reason := m.CanPlaceOrder(time.Date(2025, 3, 5, 10, 0, 0, 0, shanghai), types.MarketCN)
	assert.True(t, can)
	assert.NotEmpty(t, reason)

	can, reason = m.CanPlaceOrder(time.Date(2025, 3, 5, 12, 30, 0, 0, shanghai), types.MarketCN)
	assert.False(t, can)
	assert.Contains(t, reason, "lunch")
}
