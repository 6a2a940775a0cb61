package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbt/internal/model"
)

func minuteCandles(start time.Time, closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c - 1,
			High:   c + 2,
			Low:    c - 2,
			Close:  c,
			Volume: 100,
		}
	}
	return out
}

func TestResampleFiveMinutes(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	raw := minuteCandles(start, 100, 102, 101, 104, 103, 106, 105)

	bars := Resample(raw, 5)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, start, first.Time)
	assert.Equal(t, 99.0, first.Open)   // first bar's open
	assert.Equal(t, 106.0, first.High)  // max high (104+2)
	assert.Equal(t, 98.0, first.Low)    // min low (100-2)
	assert.Equal(t, 103.0, first.Close) // last bar's close
	assert.Equal(t, 500.0, first.Volume)

	second := bars[1]
	assert.Equal(t, start.Add(5*time.Minute), second.Time)
	assert.Equal(t, 105.0, second.Close)
	assert.Equal(t, 200.0, second.Volume)
}

func TestResampleUnsortedInput(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	raw := minuteCandles(start, 100, 102, 101, 104, 103)
	// Shuffle.
	raw[0], raw[3] = raw[3], raw[0]
	raw[1], raw[4] = raw[4], raw[1]

	bars := Resample(raw, 5)
	require.Len(t, bars, 1)
	assert.Equal(t, 99.0, bars[0].Open)
	assert.Equal(t, 103.0, bars[0].Close)
}

func TestResampleIntervalOnePassesThrough(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	raw := minuteCandles(start, 100, 102, 101)
	bars := Resample(raw, 1)
	assert.Equal(t, raw, bars)
}

func TestResampleSkipsEmptyBuckets(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	raw := append(minuteCandles(start, 100, 102),
		minuteCandles(start.Add(30*time.Minute), 110, 112)...)

	bars := Resample(raw, 5)
	require.Len(t, bars, 2)
	assert.Equal(t, start, bars[0].Time)
	assert.Equal(t, start.Add(30*time.Minute), bars[1].Time)
}

func TestSessionOnly(t *testing.T) {
	day := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		{Time: day.Add(9*time.Hour + 0*time.Minute), Close: 1},   // pre-open
		{Time: day.Add(9*time.Hour + 15*time.Minute), Close: 2},  // open
		{Time: day.Add(12 * time.Hour), Close: 3},                // midday
		{Time: day.Add(15*time.Hour + 30*time.Minute), Close: 4}, // close
		{Time: day.Add(15*time.Hour + 31*time.Minute), Close: 5}, // post-close
	}
	kept := SessionOnly(candles)
	require.Len(t, kept, 3)
	assert.Equal(t, 2.0, kept[0].Close)
	assert.Equal(t, 4.0, kept[2].Close)
}
