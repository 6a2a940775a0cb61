package indicators

import "optionbt/internal/model"

// RSI calculates the Relative Strength Index over the given period using
// Wilder smoothing for everything past the initial window.
func RSI(candles []model.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Default value if not enough data
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// EMAFromPrices calculates an exponential moving average seeded with the SMA
// of the first period values.
func EMAFromPrices(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return prices[len(prices)-1] // Return last price if not enough data
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	sma := sum / float64(period)

	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema
}

// SMA calculates a simple moving average over the last period prices.
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period <= 0 || len(prices) < period {
		period = len(prices)
	}
	var sum float64
	for _, v := range prices[len(prices)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// MACD returns the MACD line, signal line and histogram.
func MACD(candles []model.Candle, fastPeriod, slowPeriod, signalPeriod int) (float64, float64, float64) {
	closes := Closes(candles)

	if len(closes) < slowPeriod+signalPeriod {
		return 0, 0, 0
	}

	fastEMA := EMAFromPrices(closes, fastPeriod)
	slowEMA := EMAFromPrices(closes, slowPeriod)
	macdLine := fastEMA - slowEMA

	macdHistory := make([]float64, 0, len(closes)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(closes); i++ {
		window := closes[:i+1]
		macdHistory = append(macdHistory,
			EMAFromPrices(window, fastPeriod)-EMAFromPrices(window, slowPeriod))
	}

	signalLine := 0.0
	if len(macdHistory) >= signalPeriod {
		signalLine = EMAFromPrices(macdHistory, signalPeriod)
	}

	return macdLine, signalLine, macdLine - signalLine
}

// ATR calculates the Average True Range over the given period.
func ATR(candles []model.Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		if d := abs(candles[i].High - candles[i-1].Close); d > tr {
			tr = d
		}
		if d := abs(candles[i].Low - candles[i-1].Close); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}
	return SMA(trs, period)
}

// Closes extracts the close series from candles.
func Closes(candles []model.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
