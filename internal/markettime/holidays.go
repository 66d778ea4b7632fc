package markettime

import (
	"time"

	"github.com/papertrade/papertrade-api/internal/types"
)

// HolidayCalendar supplies the non-trading dates for a market. Dates are
// keyed "2006-01-02" in the market's local calendar.
type HolidayCalendar interface {
	Holidays(market types.Market, year int) map[string]struct{}
}

// StaticCalendar is a fixed holiday calendar covering 2024 and 2025.
// Production deployments should replace it with a versioned provider;
// the Manager only sees the HolidayCalendar interface.
type StaticCalendar struct {
	byMarket map[types.Market]map[string]struct{}
}

// NewStaticCalendar builds the built-in 2024/2025 calendar for all three
// markets.
func NewStaticCalendar() *StaticCalendar {
	cn := dateSet(
		// New Year's Day
		"2024-01-01", "2025-01-01",
		// Chinese New Year
		"2024-02-10", "2024-02-11", "2024-02-12", "2024-02-13",
		"2024-02-14", "2024-02-15", "2024-02-16",
		"2025-01-29", "2025-01-30", "2025-01-31",
		"2025-02-01", "2025-02-02", "2025-02-03", "2025-02-04",
		// Qingming
		"2024-04-04", "2024-04-05", "2024-04-06",
		"2025-04-04", "2025-04-05", "2025-04-06",
		// Labour Day
		"2024-05-01", "2024-05-02", "2024-05-03",
		"2025-05-01", "2025-05-02", "2025-05-03",
		// Dragon Boat Festival
		"2024-06-10", "2025-06-10",
		// Mid-Autumn Festival
		"2024-09-15", "2024-09-16", "2024-09-17",
		"2025-09-15", "2025-09-16", "2025-09-17",
		// National Day
		"2024-10-01", "2024-10-02", "2024-10-03", "2024-10-04",
		"2024-10-05", "2024-10-06", "2024-10-07",
		"2025-10-01", "2025-10-02", "2025-10-03", "2025-10-04",
		"2025-10-05", "2025-10-06", "2025-10-07",
	)

	// Hong Kong shares the mainland holidays plus its own public holidays.
	hk := dateSet(
		"2024-04-01", "2024-04-02", "2025-04-01", "2025-04-02", // Easter
		"2024-07-01", "2025-07-01", // HKSAR Establishment Day
		"2024-12-25", "2024-12-26", "2025-12-25", "2025-12-26", // Christmas
	)
	for d := range cn {
		hk[d] = struct{}{}
	}

	us := dateSet(
		"2024-01-01", "2025-01-01", // New Year's Day
		"2024-01-15", "2025-01-20", // Martin Luther King Jr. Day
		"2024-02-19", "2025-02-17", // Presidents' Day
		"2024-05-27", "2025-05-26", // Memorial Day
		"2024-07-04", "2025-07-04", // Independence Day
		"2024-09-02", "2025-09-01", // Labor Day
		"2024-10-14", "2025-10-13", // Columbus Day
		"2024-11-11", "2025-11-11", // Veterans Day
		"2024-12-25", "2025-12-25", // Christmas Day
	)

	return &StaticCalendar{byMarket: map[types.Market]map[string]struct{}{
		types.MarketCN: cn,
		types.MarketHK: hk,
		types.MarketUS: us,
	}}
}

// Holidays returns the holiday dates of market that fall in year.
func (c *StaticCalendar) Holidays(market types.Market, year int) map[string]struct{} {
	all, ok := c.byMarket[market]
	if !ok {
		return nil
	}
	prefix := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")
	out := make(map[string]struct{})
	for d := range all {
		if d[:4] == prefix {
			out[d] = struct{}{}
		}
	}
	return out
}

func dateSet(dates ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}
