package engine

import (
	"time"

	"optionbt/internal/model"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ReasonTP          ExitReason = "TP"
	ReasonSL          ExitReason = "SL"
	ReasonTrailingSL  ExitReason = "TRAILING_SL"
	ReasonIndexSL     ExitReason = "INDEX_SL"
	ReasonMaxHold     ExitReason = "MAX_HOLD"
	ReasonSignal      ExitReason = "SIGNAL"
	ReasonMarketClose ExitReason = "MARKET_CLOSE"
)

// Trade is a single completed round-trip. Immutable once appended to the
// result's trade list.
type Trade struct {
	TradeNo   int             `json:"trade_no"`
	Direction model.Direction `json:"direction"`

	EntryTime time.Time `json:"entry_time"`
	ExitTime  time.Time `json:"exit_time"`

	SpotEntry float64 `json:"spot_entry"`
	SpotExit  float64 `json:"spot_exit"`
	Strike    float64 `json:"strike"`

	OptionEntry float64 `json:"option_entry"`
	OptionExit  float64 `json:"option_exit"`

	Lots    int `json:"lots"`
	LotSize int `json:"lot_size"`

	GrossPnL     float64 `json:"gross_pnl"`
	SlippageCost float64 `json:"slippage_cost"`
	Brokerage    float64 `json:"brokerage"`
	NetPnL       float64 `json:"net_pnl"`

	EntrySource model.PriceSource `json:"entry_source"`
	ExitSource  model.PriceSource `json:"exit_source"`

	ExitReason ExitReason `json:"exit_reason"`
	SignalName string     `json:"signal_name"`
}

// Position is the open-trade state owned by the replay loop. Constructed
// fresh on entry and discarded on close; the loop never holds two at once.
type Position struct {
	Direction  model.Direction
	EntryTime  time.Time
	EntrySpot  float64
	EntryPrice float64 // buy price with slippage applied
	Strike     float64
	Source     model.PriceSource
	SignalName string
}
