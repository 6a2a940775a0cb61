// Package marketdata loads and shapes historical candles for the replay
// engine: CSV files for ad-hoc runs, ClickHouse for the shared archive.
// Raw data is stored at one-minute resolution and resampled on read.
package marketdata

import (
	"sort"
	"time"

	"optionbt/internal/model"
)

// NSE session bounds, minutes from midnight of the exchange wall clock.
const (
	sessionOpenMinutes  = 9*60 + 15
	sessionCloseMinutes = 15*60 + 30
)

func inSession(ts time.Time) bool {
	m := ts.Hour()*60 + ts.Minute()
	return m >= sessionOpenMinutes && m <= sessionCloseMinutes
}

// SessionOnly drops candles outside exchange trading hours.
func SessionOnly(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if inSession(c.Time) {
			out = append(out, c)
		}
	}
	return out
}

// Resample aggregates one-minute candles into intervalMinutes buckets
// aligned to the wall clock. Open is the first bar's open, Close the last
// bar's close, High/Low the extremes, Volume the sum. Input order does not
// matter; output is chronological.
func Resample(candles []model.Candle, intervalMinutes int) []model.Candle {
	if intervalMinutes <= 1 || len(candles) == 0 {
		sorted := make([]model.Candle, len(candles))
		copy(sorted, candles)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		return sorted
	}

	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	interval := time.Duration(intervalMinutes) * time.Minute
	out := make([]model.Candle, 0, len(sorted)/intervalMinutes+1)

	var bucket time.Time
	var cur model.Candle
	open := false

	flush := func() {
		if open {
			out = append(out, cur)
			open = false
		}
	}

	for _, c := range sorted {
		b := c.Time.Truncate(interval)
		if !open || !b.Equal(bucket) {
			flush()
			bucket = b
			cur = model.Candle{Time: b, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			open = true
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	flush()
	return out
}
