// Package pricing resolves option OHLC bars for the backtest replay loop.
//
// Priority chain for each bar:
//  1. Real broker historical data (if present and non-zero)
//  2. Black-Scholes synthetic price (fallback)
//
// Each resolved bar carries a PriceSource tag so downstream consumers can
// attribute synthetic pricing and render a disclaimer.
package pricing

import (
	"math"
	"strings"
	"time"

	"optionbt/internal/model"
)

const (
	// RiskFreeRate approximates the India 91-day T-bill yield.
	RiskFreeRate = 0.065

	// DividendYield is zero for index options.
	DividendYield = 0.0

	// DefaultVIX is the fallback volatility (percent) when no data source
	// is available.
	DefaultVIX = 15.0

	// MinSigma floors the volatility estimate to avoid degenerate
	// near-zero pricing.
	MinSigma = 0.05

	// MaxSigma caps the rolling historical-volatility estimate.
	MaxSigma = 1.50

	// MinTimeToExpiry keeps at least 15 minutes on the clock to avoid the
	// Black-Scholes singularity at expiry.
	MinTimeToExpiry = 1.0 / (365 * 96)

	// MinPremium is the exchange tick floor for an option premium.
	MinPremium = 0.05

	tradingSecondsPerYear = 252 * 6.25 * 3600
	tradingMinutesPerYear = 252 * 375
)

// strikeStep maps derivative to its strike rounding step.
var strikeStep = map[string]float64{
	"NIFTY":      50,
	"BANKNIFTY":  100,
	"FINNIFTY":   50,
	"MIDCPNIFTY": 25,
	"SENSEX":     100,
}

const defaultStrikeStep = 50

// normCDF is the standard normal CDF via erfc for numerical stability.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// BlackScholesPrice computes the Black-Scholes-Merton premium.
//
// S is the spot price, K the strike, T the time to expiry in years, r the
// annualised risk-free rate, sigma the annualised volatility, optionType
// "CE" or "PE", q the continuous dividend yield. Degenerate inputs and math
// domain failures fall back to intrinsic value.
func BlackScholesPrice(S, K, T, r, sigma float64, optionType string, q float64) float64 {
	intrinsic := func() float64 {
		if optionType == "CE" {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	if T <= 0 || sigma <= 0 || S <= 0 || K <= 0 {
		return intrinsic()
	}

	T = math.Max(T, MinTimeToExpiry)

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	var price float64
	if optionType == "CE" {
		price = S*math.Exp(-q*T)*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	} else {
		price = K*math.Exp(-r*T)*normCDF(-d2) - S*math.Exp(-q*T)*normCDF(-d1)
	}

	if math.IsNaN(price) || math.IsInf(price, 0) {
		return intrinsic()
	}
	return math.Max(0, model.Round2(price))
}

// ATMStrike rounds spot to the nearest strike for the given derivative.
func ATMStrike(spot float64, derivative string) float64 {
	step, ok := strikeStep[strings.ToUpper(derivative)]
	if !ok {
		step = defaultStrikeStep
	}
	return math.Round(spot/step) * step
}

// TimeToExpiryYears converts a wall-clock delta into a trading-year
// fraction (252 days x 6.25 hours), floored at MinTimeToExpiry.
func TimeToExpiryYears(current, expiry time.Time) float64 {
	delta := expiry.Sub(current).Seconds()
	if delta <= 0 {
		return MinTimeToExpiry
	}
	return math.Max(delta/tradingSecondsPerYear, MinTimeToExpiry)
}
