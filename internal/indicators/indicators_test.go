package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"optionbt/internal/model"
)

func candlesFromCloses(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	ts := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = model.Candle{Time: ts, Open: c, High: c + 1, Low: c - 1, Close: c}
		ts = ts.Add(5 * time.Minute)
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestRSIExtremes(t *testing.T) {
	// Monotonic gains push RSI to 100.
	assert.Equal(t, 100.0, RSI(candlesFromCloses(rising(30)), 14))

	// Monotonic losses push RSI towards 0.
	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	assert.Less(t, RSI(candlesFromCloses(falling), 14), 1.0)

	// Not enough data returns the neutral midpoint.
	assert.Equal(t, 50.0, RSI(candlesFromCloses(rising(5)), 14))
}

func TestRSIBounded(t *testing.T) {
	closes := []float64{100, 102, 101, 104, 103, 106, 104, 108, 107, 110, 108, 112, 111, 113, 112, 115, 114, 116}
	v := RSI(candlesFromCloses(closes), 14)
	assert.Greater(t, v, 50.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestSMA(t *testing.T) {
	assert.Equal(t, 103.0, SMA([]float64{100, 101, 102, 103, 104, 105, 106}, 7))
	assert.Equal(t, 105.0, SMA([]float64{100, 104, 106}, 2))
	// Insufficient data averages what exists.
	assert.Equal(t, 102.0, SMA([]float64{100, 104}, 10))
}

func TestEMAFromPrices(t *testing.T) {
	prices := rising(30)
	ema := EMAFromPrices(prices, 9)
	sma := SMA(prices, 9)
	// In an uptrend the EMA leans above the plain window average's floor
	// and stays below the latest price.
	assert.Greater(t, ema, prices[len(prices)-1]-9)
	assert.Less(t, ema, prices[len(prices)-1])
	assert.InDelta(t, sma, ema, 5)
}

func TestMACDTrendSign(t *testing.T) {
	macd, signalLine, hist := MACD(candlesFromCloses(rising(60)), 12, 26, 9)
	// A steady uptrend keeps the MACD line positive.
	assert.Greater(t, macd, 0.0)
	assert.InDelta(t, macd-signalLine, hist, 1e-9)
}

func TestATR(t *testing.T) {
	candles := candlesFromCloses(rising(30))
	atr := ATR(candles, 14)
	// High-low range is 2 with a 1-point drift, so true range stays small
	// but strictly positive.
	assert.Greater(t, atr, 0.0)
	assert.Less(t, atr, 5.0)

	assert.Equal(t, 0.0, ATR(candles[:1], 14))
}

func TestCloses(t *testing.T) {
	closes := Closes(candlesFromCloses([]float64{1, 2, 3}))
	assert.Equal(t, []float64{1, 2, 3}, closes)
}
