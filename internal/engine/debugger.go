package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/signal"
)

// debuggerMaxCandles caps recorded entries to bound memory on very long
// replays; oldest entries are dropped past the cap.
const debuggerMaxCandles = 50_000

// SpotDebug mirrors the spot OHLC of one bar.
type SpotDebug struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// OptionDebug is the resolved option bar; nil when no position context.
type OptionDebug struct {
	Symbol      string  `json:"symbol"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	PriceSource string  `json:"price_source"`
}

// GroupDebug is one signal group's evaluation breakdown.
type GroupDebug struct {
	Confidence float64             `json:"confidence"`
	Threshold  float64             `json:"threshold"`
	Fired      bool                `json:"fired"`
	Rules      []signal.RuleResult `json:"rules"`
}

// PositionDebug snapshots the open-position state after the bar.
type PositionDebug struct {
	Current      string  `json:"current,omitempty"` // "CALL" | "PUT" | ""
	EntryTime    string  `json:"entry_time,omitempty"`
	EntrySpot    float64 `json:"entry_spot,omitempty"`
	EntryOption  float64 `json:"entry_option,omitempty"`
	Strike       float64 `json:"strike,omitempty"`
	BarsInTrade  int     `json:"bars_in_trade"`
	BuyPrice     float64 `json:"buy_price,omitempty"`
	TrailingHigh float64 `json:"trailing_high,omitempty"`
}

// TPSLDebug captures the exit-rule context evaluated on the bar.
type TPSLDebug struct {
	TPPrice            float64 `json:"tp_price,omitempty"`
	SLPrice            float64 `json:"sl_price,omitempty"`
	TrailingSLPrice    float64 `json:"trailing_sl_price,omitempty"`
	IndexSLLevel       float64 `json:"index_sl_level,omitempty"`
	CurrentOptionPrice float64 `json:"current_option_price,omitempty"`
	TPHit              bool    `json:"tp_hit"`
	SLHit              bool    `json:"sl_hit"`
	TrailingSLHit      bool    `json:"trailing_sl_hit"`
	IndexSLHit         bool    `json:"index_sl_hit"`
}

// DebugEntry is one bar's full evaluation snapshot. The schema is flat so
// the JSON can be loaded into any viewer or spreadsheet.
type DebugEntry struct {
	BarIndex       int                   `json:"bar_index"`
	Time           string                `json:"time"`
	Spot           SpotDebug             `json:"spot"`
	Option         *OptionDebug          `json:"option"`
	Indicators     map[string]float64    `json:"indicators,omitempty"`
	SignalGroups   map[string]GroupDebug `json:"signal_groups,omitempty"`
	ResolvedSignal string                `json:"resolved_signal"`
	Override       string                `json:"bt_override"`
	Explanation    string                `json:"explanation"`
	Action         string                `json:"action"`
	Position       PositionDebug         `json:"position"`
	SkipReason     string                `json:"skip_reason,omitempty"`
	TPSL           TPSLDebug             `json:"tp_sl"`
}

// Debugger collects per-candle evaluation data during a replay. All calls
// are no-ops when disabled, so a production run pays nothing for it.
type Debugger struct {
	enabled  bool
	entries  []DebugEntry
	barIndex int
	logger   zerolog.Logger
}

// NewDebugger creates a collector; pass false for a zero-cost no-op.
func NewDebugger(enabled bool) *Debugger {
	return &Debugger{
		enabled: enabled,
		logger:  log.With().Str("component", "candle_debugger").Logger(),
	}
}

// Enabled lets callers skip building an entry entirely when disabled.
func (d *Debugger) Enabled() bool { return d != nil && d.enabled }

// Record stores one candle's snapshot.
func (d *Debugger) Record(entry DebugEntry) {
	if !d.Enabled() {
		return
	}
	if len(d.entries) >= debuggerMaxCandles {
		d.entries = d.entries[len(d.entries)-(debuggerMaxCandles-1):]
	}
	entry.BarIndex = d.barIndex
	d.entries = append(d.entries, entry)
	d.barIndex++
}

// Len returns the number of recorded entries.
func (d *Debugger) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Entries returns a shallow copy of all recorded entries.
func (d *Debugger) Entries() []DebugEntry {
	if d == nil {
		return nil
	}
	out := make([]DebugEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

type debugDocument struct {
	Meta struct {
		TotalCandles int    `json:"total_candles"`
		GeneratedAt  string `json:"generated_at"`
	} `json:"meta"`
	Candles []DebugEntry `json:"candles"`
}

// Save writes all recorded entries as one JSON document, creating the
// target directory when needed. Best-effort; returns the write error.
func (d *Debugger) Save(path string) error {
	if !d.Enabled() {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	var doc debugDocument
	doc.Meta.TotalCandles = len(d.entries)
	doc.Meta.GeneratedAt = time.Now().Format("2006-01-02T15:04:05")
	doc.Candles = d.entries

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		d.logger.Error().Err(err).Str("path", abs).Msg("Failed to write debug JSON")
		return err
	}
	d.logger.Info().Int("candles", len(d.entries)).Str("path", abs).Msg("Saved candle debug records")
	return nil
}
