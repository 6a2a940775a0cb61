package pricing

import "time"

// Expiry arithmetic is timezone-naive: timestamps are reduced to their wall
// clock components before any comparison.

// Naive strips the location from a timestamp, keeping the wall clock.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// pastMarketClose reports whether t is at or past the 15:30 session close.
func pastMarketClose(t time.Time) bool {
	return t.Hour() > 15 || (t.Hour() == 15 && t.Minute() >= 30)
}

// NearestWeeklyExpiry returns the next weekly expiry (the given weekday at
// 15:30) on or after t, rolling a further 7 days when today's expiry has
// already passed market close.
func NearestWeeklyExpiry(t time.Time, weekday time.Weekday) time.Time {
	t = Naive(t)
	daysAhead := (int(weekday) - int(t.Weekday()) + 7) % 7
	if daysAhead == 0 && pastMarketClose(t) {
		daysAhead = 7
	}
	d := t.AddDate(0, 0, daysAhead)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, time.UTC)
}

// NearestMonthlyExpiry returns the last matching weekday of t's month at
// 15:30, rolling to the next month when already passed.
func NearestMonthlyExpiry(t time.Time, weekday time.Weekday) time.Time {
	t = Naive(t)
	exp := lastWeekdayOfMonth(t.Year(), t.Month(), weekday)
	if !exp.After(t) {
		next := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		exp = lastWeekdayOfMonth(next.Year(), next.Month(), weekday)
	}
	return exp
}

func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday) time.Time {
	lastDay := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	offset := (int(lastDay.Weekday()) - int(weekday) + 7) % 7
	d := lastDay.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, time.UTC)
}
