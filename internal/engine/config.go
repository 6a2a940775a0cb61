package engine

import (
	"time"

	"optionbt/internal/signal"
)

// Market session bounds (NSE, IST wall clock).
var (
	MarketOpen  = TimeOfDay{9, 15}
	MarketClose = TimeOfDay{15, 30}
)

const (
	// autoExitBeforeCloseMinutes forces any open position closed this many
	// minutes before the session close.
	autoExitBeforeCloseMinutes = 5

	// warmupBars is the minimum history needed before indicators such as
	// RSI-14 are numerically stable.
	warmupBars = 15

	// historyCap bounds the rolling window handed to the signal engine.
	historyCap = 500

	// progressEvery throttles progress-callback emissions.
	progressEvery = 50
)

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Minutes returns the offset from midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// IsZero reports an unset value.
func (t TimeOfDay) IsZero() bool { return t.Hour == 0 && t.Minute == 0 }

func minutesOfDay(ts time.Time) int { return ts.Hour()*60 + ts.Minute() }

// Config holds all inputs needed to run one backtest. A zero value for any
// individual risk parameter means that rule is disabled. Created once per
// run and never mutated.
type Config struct {
	// Date range
	StartDate time.Time
	EndDate   time.Time

	// Instrument
	Derivative string // e.g. "NIFTY"
	ExpiryType string // "weekly" | "monthly"
	LotSize    int
	NumLots    int

	// Strategy: either a stored slug (resolved by the caller) or an inline
	// rule configuration.
	StrategySlug string
	SignalConfig *signal.Config

	// Risk management (% of entry price unless noted)
	TPPct       float64 // take profit, e.g. 0.30 → exit at +30%
	SLPct       float64 // stop loss, e.g. 0.25 → exit at -25%
	TrailingPct float64 // trailing stop drawdown from the high-water mark
	IndexSL     float64 // absolute spot-points stop
	MaxHoldBars int     // cap on bars in a trade

	// Execution frictions
	SlippagePct     float64 // e.g. 0.0025 → 0.25% per fill
	BrokeragePerLot float64 // per lot, round-trip charged as x2

	// Candle interval in minutes (spot history is resampled to this).
	IntervalMinutes int

	// Capital
	Capital float64

	// Sideways midday window during which entries are suppressed.
	SidewaysSkip bool
	SidewaysFrom TimeOfDay
	SidewaysTo   TimeOfDay

	// Optional per-bar debug capture.
	DebugMode bool
	DebugPath string
}

// withDefaults fills the conventional defaults without mutating the input.
func (c Config) withDefaults() Config {
	if c.Derivative == "" {
		c.Derivative = "NIFTY"
	}
	if c.ExpiryType == "" {
		c.ExpiryType = "weekly"
	}
	if c.LotSize <= 0 {
		c.LotSize = 50
	}
	if c.NumLots <= 0 {
		c.NumLots = 1
	}
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 5
	}
	if c.Capital <= 0 {
		c.Capital = 100_000
	}
	if c.SidewaysSkip && c.SidewaysFrom.IsZero() && c.SidewaysTo.IsZero() {
		c.SidewaysFrom = TimeOfDay{12, 0}
		c.SidewaysTo = TimeOfDay{14, 0}
	}
	return c
}

// inSidewaysWindow reports whether ts falls in the configured midday skip
// window.
func (c *Config) inSidewaysWindow(ts time.Time) bool {
	if !c.SidewaysSkip {
		return false
	}
	m := minutesOfDay(ts)
	return m >= c.SidewaysFrom.Minutes() && m <= c.SidewaysTo.Minutes()
}

// inMarketHours reports whether ts is inside the trading session.
func inMarketHours(ts time.Time) bool {
	m := minutesOfDay(ts)
	return m >= MarketOpen.Minutes() && m <= MarketClose.Minutes()
}

// pastAutoExit reports whether an open position must be force-closed.
func pastAutoExit(ts time.Time) bool {
	return minutesOfDay(ts) >= MarketClose.Minutes()-autoExitBeforeCloseMinutes
}
