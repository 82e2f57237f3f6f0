package utils

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers trading-day questions for US-listed symbols
// using scmhub/calendar. Every ticker the relay acts on trades on a US
// exchange, so only the XNYS calendar is loaded.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

func NewTradingCalendar() *TradingCalendar {
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		log.Printf("WARNING: Failed to load calendar 'xnys'. Using simple fallback (Mon-Fri).")
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC // Worst case
		}
		return &TradingCalendar{Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	// Normalize to timezone if available
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		// Simple fallback: Mon-Fri
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	// Library handles IsHoliday / IsBusinessDay
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// PrevTradingDay returns the latest trading day at or before t.
func (tc *TradingCalendar) PrevTradingDay(t time.Time) time.Time {
	for !tc.IsTradingDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// -----------------------------------------------------------------------------

// BackTradingDays returns the n trading days ending at the latest
// trading day at or before end, in ascending order.
func (tc *TradingCalendar) BackTradingDays(end time.Time, n int) []time.Time {
	days := make([]time.Time, n)
	d := tc.PrevTradingDay(end)
	for i := n - 1; i >= 0; i-- {
		days[i] = d
		d = tc.PrevTradingDay(d.AddDate(0, 0, -1))
	}
	return days
}
