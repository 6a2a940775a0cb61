package engine

import "optionbt/internal/model"

// action is what the replay loop decided to do on a bar after conditioning
// the resolved signal on the current position.
type action string

const (
	actionBuyCall  action = "BUY_CALL"
	actionBuyPut   action = "BUY_PUT"
	actionExitCall action = "EXIT_CALL"
	actionExitPut  action = "EXIT_PUT"
	actionWait     action = "WAIT"
)

// exitState is everything an exit predicate may consult on one bar.
type exitState struct {
	cfg          *Config
	pos          *Position
	price        float64 // current option price for this bar
	spot         float64 // current spot close
	trailingHigh float64 // option-price high-water mark since entry
	barsInTrade  int
	action       action
}

type exitCheck struct {
	reason ExitReason
	hit    func(s exitState) bool
}

// exitChecks is the declared exit priority order. The replay loop walks it
// top to bottom and closes the position on the first hit.
var exitChecks = []exitCheck{
	{ReasonTP, func(s exitState) bool {
		return s.cfg.TPPct > 0 && s.pos.EntryPrice > 0 &&
			s.price >= s.pos.EntryPrice*(1+s.cfg.TPPct)
	}},
	{ReasonSL, func(s exitState) bool {
		return s.cfg.SLPct > 0 && s.pos.EntryPrice > 0 &&
			s.price <= s.pos.EntryPrice*(1-s.cfg.SLPct)
	}},
	{ReasonTrailingSL, func(s exitState) bool {
		return s.cfg.TrailingPct > 0 && s.trailingHigh > 0 &&
			s.price <= s.trailingHigh*(1-s.cfg.TrailingPct)
	}},
	{ReasonIndexSL, func(s exitState) bool {
		if s.cfg.IndexSL <= 0 {
			return false
		}
		if s.pos.Direction == model.DirectionCall {
			return s.spot <= s.pos.EntrySpot-s.cfg.IndexSL
		}
		return s.spot >= s.pos.EntrySpot+s.cfg.IndexSL
	}},
	{ReasonMaxHold, func(s exitState) bool {
		return s.cfg.MaxHoldBars > 0 && s.barsInTrade >= s.cfg.MaxHoldBars
	}},
	{ReasonSignal, func(s exitState) bool {
		if s.pos.Direction == model.DirectionCall {
			return s.action == actionExitCall
		}
		return s.action == actionExitPut
	}},
}

// firstExit returns the highest-priority exit condition met on this bar.
func firstExit(s exitState) (ExitReason, bool) {
	for _, check := range exitChecks {
		if check.hit(s) {
			return check.reason, true
		}
	}
	return "", false
}
