package markettime

import (
	"fmt"
	"time"

	"github.com/papertrade/papertrade-api/internal/types"
)

// Window is a local time-of-day range, inclusive on both ends, expressed
// in minutes since midnight.
type Window struct {
	Start int
	End   int
}

func hm(hour, minute int) int { return hour*60 + minute }

func (w Window) contains(minute int) bool { return minute >= w.Start && minute <= w.End }

// String renders the window as "HH:MM-HH:MM" for display.
func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// marketHours carries a market's timezone and session windows. Pre-market,
// after-hours and overnight windows exist only for the US market.
type marketHours struct {
	loc         *time.Location
	regular     []Window
	callAuction []Window
	preMarket   []Window
	afterHours  []Window
	// overnight holds exactly two windows when present: the evening half
	// anchored to the current local date and the post-midnight half
	// anchored to the previous local date.
	overnight []Window
}

// Manager resolves trading-session state for the A-share, Hong Kong and
// US markets at any instant. It holds immutable configuration and is safe
// for concurrent use.
type Manager struct {
	markets  map[types.Market]*marketHours
	calendar HolidayCalendar
}

// NewManager builds a Manager with the standard session windows for all
// three markets. Timezones come from the IANA database, so US sessions
// follow EST/EDT shifts.
func NewManager(calendar HolidayCalendar) (*Manager, error) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return nil, fmt.Errorf("load Asia/Shanghai: %w", err)
	}
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load America/New_York: %w", err)
	}

	return &Manager{
		calendar: calendar,
		markets: map[types.Market]*marketHours{
			types.MarketCN: {
				loc: shanghai,
				regular: []Window{
					{hm(9, 30), hm(11, 30)},
					{hm(13, 0), hm(15, 0)},
				},
				callAuction: []Window{
					{hm(9, 15), hm(9, 25)},
					{hm(14, 57), hm(15, 0)},
				},
			},
			types.MarketHK: {
				loc: shanghai,
				regular: []Window{
					{hm(9, 30), hm(12, 0)},
					{hm(13, 0), hm(16, 0)},
				},
				callAuction: []Window{
					{hm(9, 30), hm(10, 0)},
					{hm(12, 0), hm(13, 0)},
				},
			},
			types.MarketUS: {
				loc: newYork,
				regular: []Window{
					{hm(9, 30), hm(16, 0)},
				},
				preMarket: []Window{
					{hm(4, 0), hm(9, 30)},
				},
				afterHours: []Window{
					{hm(16, 0), hm(20, 0)},
				},
				overnight: []Window{
					{hm(20, 0), hm(23, 59)},
					{hm(0, 0), hm(4, 0)},
				},
			},
		},
	}, nil
}

// IsWeekday reports whether the local date falls on Monday through Friday.
func IsWeekday(local time.Time) bool {
	wd := local.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsHoliday reports whether the local date is a holiday for market.
func (m *Manager) IsHoliday(local time.Time, market types.Market) bool {
	holidays := m.calendar.Holidays(market, local.Year())
	_, ok := holidays[local.Format("2006-01-02")]
	return ok
}

// IsTradingDay reports whether the local date is a weekday and not a
// holiday for market.
func (m *Manager) IsTradingDay(local time.Time, market types.Market) bool {
	return IsWeekday(local) && !m.IsHoliday(local, market)
}

// ToMarketTime converts an instant to the market's local time.
func (m *Manager) ToMarketTime(at time.Time, market types.Market) time.Time {
	hours, ok := m.markets[market]
	if !ok {
		return at.UTC()
	}
	return at.In(hours.loc)
}

// Resolve classifies an instant into the market's session state.
// Window priority is REGULAR > CALL_AUCTION > PRE_MARKET > AFTER_HOURS >
// OVERNIGHT; the first match wins. The US overnight session spans
// midnight: its evening half requires the current local date to be a
// trading day, its post-midnight half requires the previous local date to
// have been one, so the small hours after a holiday eve stay closed.
func (m *Manager) Resolve(at time.Time, market types.Market) types.MarketSession {
	session := types.MarketSession{Market: market, Type: types.SessionClosed}

	hours, ok := m.markets[market]
	if !ok {
		session.Reason = fmt.Sprintf("unknown market %q", market)
		return session
	}

	local := at.In(hours.loc)
	minute := hm(local.Hour(), local.Minute())

	if m.IsTradingDay(local, market) {
		switch {
		case inAny(hours.regular, minute):
			session.Type = types.SessionRegular
			session.CanTrade = true
			session.Reason = fmt.Sprintf("%s market regular trading session", market.DisplayName())
			return session
		case inAny(hours.callAuction, minute):
			session.Type = types.SessionCallAuction
			session.CanTrade = true
			session.Reason = fmt.Sprintf("%s market call auction session", market.DisplayName())
			return session
		case inAny(hours.preMarket, minute):
			session.Type = types.SessionPreMarket
			session.CanTrade = true
			session.UsePrevClose = true
			session.Reason = "US market pre-market session"
			return session
		case inAny(hours.afterHours, minute):
			session.Type = types.SessionAfterHours
			session.CanTrade = true
			session.UsePrevClose = true
			session.Reason = "US market after-hours session"
			return session
		}
	}

	// The overnight windows carry their own trading-day anchors, so they
	// are tested even when the current date itself is not a trading day.
	if len(hours.overnight) == 2 {
		evening, morning := hours.overnight[0], hours.overnight[1]
		anchored := (evening.contains(minute) && m.IsTradingDay(local, market)) ||
			(morning.contains(minute) && m.IsTradingDay(local.AddDate(0, 0, -1), market))
		if anchored {
			session.Type = types.SessionOvernight
			session.CanTrade = true
			session.UsePrevClose = true
			session.Reason = "US market overnight session"
			return session
		}
	}

	session.Reason = m.closedReason(local, minute, market)
	return session
}

// CanPlaceOrder reports whether orders may be placed on market at the
// given instant, with a human-readable reason either way.
func (m *Manager) CanPlaceOrder(at time.Time, market types.Market) (bool, string) {
	session := m.Resolve(at, market)
	return session.CanTrade, session.Reason
}

func (m *Manager) closedReason(local time.Time, minute int, market types.Market) string {
	name := market.DisplayName()
	if !IsWeekday(local) {
		return fmt.Sprintf("%s market closed for the weekend", name)
	}
	if m.IsHoliday(local, market) {
		return fmt.Sprintf("%s market closed for a public holiday", name)
	}

	switch market {
	case types.MarketCN:
		switch {
		case minute < hm(9, 15):
			return "A-share market has not opened yet"
		case minute > hm(9, 25) && minute < hm(9, 30):
			return "A-share market pre-open pause"
		case minute > hm(11, 30) && minute < hm(13, 0):
			return "A-share market lunch break"
		case minute > hm(15, 0):
			return "A-share market already closed for the day"
		}
	case types.MarketHK:
		switch {
		case minute < hm(9, 30):
			return "Hong Kong market has not opened yet"
		case minute > hm(12, 0) && minute < hm(13, 0):
			return "Hong Kong market lunch break"
		case minute > hm(16, 0):
			return "Hong Kong market already closed for the day"
		}
	}

	return fmt.Sprintf("%s market outside trading hours", name)
}

// NextTradingOpen returns the next regular-session open at or after from,
// scanning up to 15 calendar days ahead. ok is false when no trading day
// is found in that range.
func (m *Manager) NextTradingOpen(from time.Time, market types.Market) (time.Time, bool) {
	hours, ok := m.markets[market]
	if !ok || len(hours.regular) == 0 {
		return time.Time{}, false
	}

	local := from.In(hours.loc)
	minute := hm(local.Hour(), local.Minute())

	if m.IsTradingDay(local, market) {
		for _, w := range hours.regular {
			if minute < w.Start {
				return atMinute(local, w.Start, hours.loc), true
			}
		}
	}

	for i := 1; i <= 15; i++ {
		day := local.AddDate(0, 0, i)
		if m.IsTradingDay(day, market) {
			return atMinute(day, hours.regular[0].Start, hours.loc), true
		}
	}
	return time.Time{}, false
}

// SessionsInfo describes a market's configured windows on a date.
type SessionsInfo struct {
	Date         string   `json:"date"`
	Market       types.Market `json:"market"`
	Timezone     string   `json:"timezone"`
	IsTradingDay bool     `json:"is_trading_day"`
	IsWeekday    bool     `json:"is_weekday"`
	IsHoliday    bool     `json:"is_holiday"`
	Regular      []string `json:"trading_sessions"`
	CallAuction  []string `json:"call_auction_sessions,omitempty"`
	PreMarket    []string `json:"pre_market_sessions,omitempty"`
	AfterHours   []string `json:"after_hours_sessions,omitempty"`
	Overnight    []string `json:"overnight_sessions,omitempty"`
}

// SessionsInfo returns the window listing for market on the date of at.
func (m *Manager) SessionsInfo(at time.Time, market types.Market) SessionsInfo {
	hours, ok := m.markets[market]
	if !ok {
		return SessionsInfo{Market: market}
	}
	local := at.In(hours.loc)
	return SessionsInfo{
		Date:         local.Format("2006-01-02"),
		Market:       market,
		Timezone:     hours.loc.String(),
		IsTradingDay: m.IsTradingDay(local, market),
		IsWeekday:    IsWeekday(local),
		IsHoliday:    m.IsHoliday(local, market),
		Regular:      windowStrings(hours.regular),
		CallAuction:  windowStrings(hours.callAuction),
		PreMarket:    windowStrings(hours.preMarket),
		AfterHours:   windowStrings(hours.afterHours),
		Overnight:    windowStrings(hours.overnight),
	}
}

func inAny(windows []Window, minute int) bool {
	for _, w := range windows {
		if w.contains(minute) {
			return true
		}
	}
	return false
}

func atMinute(day time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc)
}

func windowStrings(windows []Window) []string {
	if len(windows) == 0 {
		return nil
	}
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.String()
	}
	return out
}
