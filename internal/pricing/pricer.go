package pricing

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/model"
)

// OptionBar is one resolved option candle.
type OptionBar struct {
	Timestamp time.Time         `json:"timestamp"`
	Open      float64           `json:"open"`
	High      float64           `json:"high"`
	Low       float64           `json:"low"`
	Close     float64           `json:"close"`
	Strike    float64           `json:"strike"`
	Expiry    time.Time         `json:"expiry"`
	Sigma     float64           `json:"sigma"`
	VIXReal   bool              `json:"vix_real"`
	Source    model.PriceSource `json:"source"`
}

// SymbolFormatter builds the broker-specific option symbol string.
type SymbolFormatter interface {
	Format(derivative string, expiry time.Time, strike float64, optionType string) (string, error)
}

// PricerOptions configures a Pricer.
type PricerOptions struct {
	Derivative    string
	ExpiryType    string       // "weekly" | "monthly"
	ExpiryWeekday time.Weekday // defaults to Thursday
	RiskFree      float64
	DividendYield float64

	// UseVIX selects the India VIX series for sigma; when false a rolling
	// historical-volatility estimate from spot closes is used instead.
	UseVIX      bool
	VolLookback int // rolling-vol lookback bars, default 20

	Broker  VIXBroker
	Symbols SymbolFormatter
}

// Pricer resolves option OHLC bars for a timestamp + spot bar.
type Pricer struct {
	derivative    string
	expiryType    string
	expiryWeekday time.Weekday
	riskFree      float64
	divYield      float64

	useVIX      bool
	volLookback int
	vix         *VixCache

	spotCloses []float64
	symbols    SymbolFormatter
	logger     zerolog.Logger
}

// NewPricer creates a pricer for one backtest run.
func NewPricer(opts PricerOptions) *Pricer {
	if opts.Derivative == "" {
		opts.Derivative = "NIFTY"
	}
	if opts.ExpiryType == "" {
		opts.ExpiryType = "weekly"
	}
	if opts.ExpiryWeekday == 0 {
		opts.ExpiryWeekday = time.Thursday
	}
	if opts.RiskFree == 0 {
		opts.RiskFree = RiskFreeRate
	}
	if opts.VolLookback <= 0 {
		opts.VolLookback = 20
	}
	if opts.Symbols == nil {
		opts.Symbols = PlainSymbols{}
	}
	return &Pricer{
		derivative:    strings.ToUpper(opts.Derivative),
		expiryType:    opts.ExpiryType,
		expiryWeekday: opts.ExpiryWeekday,
		riskFree:      opts.RiskFree,
		divYield:      opts.DividendYield,
		useVIX:        opts.UseVIX,
		volLookback:   opts.VolLookback,
		vix:           NewVixCache(opts.Broker, nil),
		symbols:       opts.Symbols,
		logger:        log.With().Str("component", "option_pricer").Logger(),
	}
}

// LoadVIX pre-fetches VIX data for the backtest date range. A no-op when
// the pricer runs in rolling-volatility mode.
func (p *Pricer) LoadVIX(ctx context.Context, start, end time.Time) {
	if p.useVIX {
		p.vix.EnsureLoaded(ctx, start, end)
	}
}

// Expiry returns the nearest contract expiry for the timestamp.
func (p *Pricer) Expiry(ts time.Time) time.Time {
	if p.expiryType == "monthly" {
		return NearestMonthlyExpiry(ts, p.expiryWeekday)
	}
	return NearestWeeklyExpiry(ts, p.expiryWeekday)
}

// ResolveBar produces the option OHLC bar for one spot candle.
//
// When real broker data is present with all four values strictly positive it
// is returned unchanged, tagged REAL. Otherwise the bar is Black-Scholes
// priced at four points: close at T, open at T plus one bar's time fraction
// (the open is earlier, so more time remains), and high/low at the bar
// midpoint using the opposite spot extreme for puts, since a put premium
// moves inversely to spot.
func (p *Pricer) ResolveBar(ts time.Time, spotOpen, spotHigh, spotLow, spotClose float64, optionType string, real *model.OHLC, minutesPerBar int) OptionBar {
	ts = Naive(ts)
	if minutesPerBar <= 0 {
		minutesPerBar = 5
	}

	strike := ATMStrike(spotClose, p.derivative)
	expiry := p.Expiry(ts)
	sigma, vixReal := p.sigma(ts, minutesPerBar)
	p.pushSpot(spotClose)

	if real != nil && real.Valid() {
		return OptionBar{
			Timestamp: ts,
			Open:      real.Open,
			High:      real.High,
			Low:       real.Low,
			Close:     real.Close,
			Strike:    strike,
			Expiry:    expiry,
			Sigma:     sigma,
			VIXReal:   vixReal,
			Source:    model.SourceReal,
		}
	}

	tClose := TimeToExpiryYears(ts, expiry)
	tOpen := tClose + float64(minutesPerBar)/tradingMinutesPerYear
	tMid := (tClose + tOpen) / 2

	hiSpot, loSpot := spotHigh, spotLow
	if optionType == "PE" {
		hiSpot, loSpot = spotLow, spotHigh
	}

	cClose := BlackScholesPrice(spotClose, strike, tClose, p.riskFree, sigma, optionType, p.divYield)
	cOpen := BlackScholesPrice(spotOpen, strike, tOpen, p.riskFree, sigma, optionType, p.divYield)
	cHigh := BlackScholesPrice(hiSpot, strike, tMid, p.riskFree, sigma, optionType, p.divYield)
	cLow := BlackScholesPrice(loSpot, strike, tMid, p.riskFree, sigma, optionType, p.divYield)

	return OptionBar{
		Timestamp: ts,
		Open:      math.Max(MinPremium, cOpen),
		High:      math.Max(cOpen, math.Max(cClose, cHigh)),
		Low:       math.Max(MinPremium, math.Min(cOpen, math.Min(cClose, cLow))),
		Close:     math.Max(MinPremium, cClose),
		Strike:    strike,
		Expiry:    expiry,
		Sigma:     sigma,
		VIXReal:   vixReal,
		Source:    model.SourceSynthetic,
	}
}

// OptionSymbol builds the symbol string for a contract; empty on failure.
func (p *Pricer) OptionSymbol(ts time.Time, strike float64, optionType string) string {
	sym, err := p.symbols.Format(p.derivative, p.Expiry(ts), strike, optionType)
	if err != nil {
		p.logger.Warn().Err(err).Float64("strike", strike).Msg("Option symbol build failed")
		return ""
	}
	return sym
}

// sigma resolves the volatility estimate for a bar. The result is always
// floored at MinSigma; the bool reports whether matched VIX data was found.
func (p *Pricer) sigma(ts time.Time, minutesPerBar int) (float64, bool) {
	if p.useVIX {
		v, real := p.vix.VIX(ts)
		return math.Max(v, MinSigma), real
	}
	return math.Max(p.rollingSigma(minutesPerBar), MinSigma), false
}

// rollingSigma estimates annualised volatility as the log-return standard
// deviation over the most recent volLookback spot closes.
func (p *Pricer) rollingSigma(minutesPerBar int) float64 {
	closes := p.spotCloses
	if len(closes) > p.volLookback+1 {
		closes = closes[len(closes)-p.volLookback-1:]
	}

	returns := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(returns) < 5 {
		return DefaultVIX / 100.0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)-1))

	barsPerYear := float64(tradingMinutesPerYear) / float64(minutesPerBar)
	annualised := std * math.Sqrt(barsPerYear)

	return math.Min(math.Max(annualised, MinSigma), MaxSigma)
}

func (p *Pricer) pushSpot(close float64) {
	p.spotCloses = append(p.spotCloses, close)
	if limit := p.volLookback + 5; len(p.spotCloses) > limit {
		p.spotCloses = p.spotCloses[len(p.spotCloses)-limit:]
	}
}
