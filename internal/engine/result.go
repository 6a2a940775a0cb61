package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"optionbt/internal/model"
)

// EquityPoint is one equity-curve sample; one per processed bar.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result is the output of one backtest run. Append-only during replay;
// aggregate statistics are computed once by Finalize.
type Result struct {
	Config Config  `json:"-"`
	Trades []Trade `json:"trades"`

	TotalTrades  int     `json:"total_trades"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	WinRate      float64 `json:"win_rate"`
	TotalNetPnL  float64 `json:"total_net_pnl"`
	AvgNetPnL    float64 `json:"avg_net_pnl"`
	BestTrade    float64 `json:"best_trade"`
	WorstTrade   float64 `json:"worst_trade"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	ProfitFactor float64 `json:"profit_factor"`
	Sharpe       float64 `json:"sharpe"`

	SyntheticBars int `json:"synthetic_bars"`
	RealBars      int `json:"real_bars"`

	ErrorMsg  string `json:"error_msg,omitempty"`
	Completed bool   `json:"completed"`

	EquityCurve []EquityPoint `json:"equity_curve"`
}

// NewResult creates an empty result for the given config.
func NewResult(cfg Config) *Result {
	return &Result{Config: cfg}
}

// Finalize computes aggregate statistics after all trades are recorded.
func (r *Result) Finalize() {
	r.TotalTrades = len(r.Trades)
	if r.TotalTrades == 0 {
		r.Completed = true
		return
	}

	pnls := make([]float64, len(r.Trades))
	var total, grossProfit, grossLoss float64
	best, worst := math.Inf(-1), math.Inf(1)
	for i, t := range r.Trades {
		pnls[i] = t.NetPnL
		total += t.NetPnL
		if t.NetPnL > 0 {
			r.Winners++
			grossProfit += t.NetPnL
		} else {
			r.Losers++
			grossLoss += -t.NetPnL
		}
		best = math.Max(best, t.NetPnL)
		worst = math.Min(worst, t.NetPnL)
	}

	r.TotalNetPnL = model.Round2(total)
	r.WinRate = float64(r.Winners) / float64(r.TotalTrades) * 100
	r.AvgNetPnL = model.Round2(total / float64(r.TotalTrades))
	r.BestTrade = model.Round2(best)
	r.WorstTrade = model.Round2(worst)

	if grossLoss > 0 {
		r.ProfitFactor = model.Round2(grossProfit / grossLoss)
	} else {
		r.ProfitFactor = math.Inf(1)
	}

	// Max drawdown from the equity curve's running peak.
	if len(r.EquityCurve) > 0 {
		peak := r.EquityCurve[0].Equity
		dd := 0.0
		for _, p := range r.EquityCurve {
			if p.Equity > peak {
				peak = p.Equity
			}
			dd = math.Min(dd, p.Equity-peak)
		}
		r.MaxDrawdown = model.Round2(dd)
	}

	// Simplified annualised Sharpe from per-trade P&L (risk-free = 0).
	if len(pnls) > 1 {
		mean := total / float64(len(pnls))
		var sq float64
		for _, p := range pnls {
			d := p - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(len(pnls)-1))
		if std > 0 {
			r.Sharpe = model.Round2(mean / std * math.Sqrt(252))
		}
	}

	r.Completed = true
}

// Format creates a human-readable summary of the run.
func (r *Result) Format() string {
	var b strings.Builder
	b.WriteString("\n===== BACKTEST RESULTS =====\n")
	if r.ErrorMsg != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.ErrorMsg)
	}
	fmt.Fprintf(&b, "Total trades: %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "Winners: %d (%.2f%%)  Losers: %d\n", r.Winners, r.WinRate, r.Losers)
	fmt.Fprintf(&b, "Net P&L: %.2f  (avg %.2f per trade)\n", r.TotalNetPnL, r.AvgNetPnL)
	fmt.Fprintf(&b, "Best trade: %.2f  Worst trade: %.2f\n", r.BestTrade, r.WorstTrade)
	if math.IsInf(r.ProfitFactor, 1) {
		b.WriteString("Profit factor: inf\n")
	} else {
		fmt.Fprintf(&b, "Profit factor: %.2f\n", r.ProfitFactor)
	}
	fmt.Fprintf(&b, "Max drawdown: %.2f\n", r.MaxDrawdown)
	fmt.Fprintf(&b, "Sharpe (annualised): %.2f\n", r.Sharpe)
	fmt.Fprintf(&b, "Priced trades: %d real / %d synthetic\n", r.RealBars, r.SyntheticBars)
	if n := len(r.EquityCurve); n > 0 {
		fmt.Fprintf(&b, "Final equity: %.2f over %d bars\n", r.EquityCurve[n-1].Equity, n)
	}
	return b.String()
}
