package engine

import (
	"time"

	"optionbt/internal/model"
	"optionbt/internal/pricing"
	"optionbt/internal/signal"
)

// recordSkip stores a minimal debug entry for a bar the replay loop
// short-circuited before signal evaluation.
func (e *Engine) recordSkip(barTime time.Time, bar model.Candle, reason string, pos *Position, barsInTrade int, trailingHigh float64) {
	if !e.debugger.Enabled() {
		return
	}
	e.debugger.Record(DebugEntry{
		Time:           barTime.Format("2006-01-02 15:04:05"),
		Spot:           SpotDebug{Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close},
		ResolvedSignal: string(signal.Wait),
		Action:         string(actionWait),
		SkipReason:     reason,
		Position:       positionDebug(pos, barsInTrade, trailingHigh),
	})
}

// recordBar stores a full debug entry for a bar that reached signal
// evaluation. obar may be nil when no option bar was resolved.
func (e *Engine) recordBar(barTime time.Time, bar model.Candle, res *signal.Result,
	resolved signal.Signal, override string, act action, pos *Position,
	st exitState, obar *pricing.OptionBar, symbol, skip string) {

	if !e.debugger.Enabled() {
		return
	}

	entry := DebugEntry{
		Time:           barTime.Format("2006-01-02 15:04:05"),
		Spot:           SpotDebug{Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close},
		ResolvedSignal: string(resolved),
		Override:       override,
		Action:         string(act),
		SkipReason:     skip,
		Position:       positionDebug(pos, st.barsInTrade, st.trailingHigh),
	}

	if res != nil {
		entry.Indicators = res.IndicatorValues
		entry.Explanation = res.Explanation
		entry.SignalGroups = make(map[string]GroupDebug, len(res.Confidence))
		for sig, conf := range res.Confidence {
			entry.SignalGroups[string(sig)] = GroupDebug{
				Confidence: conf,
				Threshold:  res.Threshold,
				Fired:      res.Fired[sig],
				Rules:      res.RuleResults[sig],
			}
		}
	}

	if obar != nil {
		entry.Option = &OptionDebug{
			Symbol:      symbol,
			Open:        obar.Open,
			High:        obar.High,
			Low:         obar.Low,
			Close:       obar.Close,
			PriceSource: string(obar.Source),
		}
	}

	if pos != nil && st.pos != nil {
		entry.TPSL = tpslDebug(st)
	}

	e.debugger.Record(entry)
}

func positionDebug(pos *Position, barsInTrade int, trailingHigh float64) PositionDebug {
	if pos == nil {
		return PositionDebug{}
	}
	return PositionDebug{
		Current:      string(pos.Direction),
		EntryTime:    pos.EntryTime.Format("2006-01-02 15:04:05"),
		EntrySpot:    pos.EntrySpot,
		EntryOption:  pos.EntryPrice,
		Strike:       pos.Strike,
		BarsInTrade:  barsInTrade,
		BuyPrice:     pos.EntryPrice,
		TrailingHigh: trailingHigh,
	}
}

// tpslDebug re-derives the exit levels the predicates compared against so
// the JSON shows the exact thresholds in force on the bar.
func tpslDebug(st exitState) TPSLDebug {
	cfg, pos := st.cfg, st.pos
	d := TPSLDebug{CurrentOptionPrice: st.price}

	if cfg.TPPct > 0 {
		d.TPPrice = model.Round2(pos.EntryPrice * (1 + cfg.TPPct))
		d.TPHit = st.price >= pos.EntryPrice*(1+cfg.TPPct)
	}
	if cfg.SLPct > 0 {
		d.SLPrice = model.Round2(pos.EntryPrice * (1 - cfg.SLPct))
		d.SLHit = st.price <= pos.EntryPrice*(1-cfg.SLPct)
	}
	if cfg.TrailingPct > 0 && st.trailingHigh > 0 {
		d.TrailingSLPrice = model.Round2(st.trailingHigh * (1 - cfg.TrailingPct))
		d.TrailingSLHit = st.price <= st.trailingHigh*(1-cfg.TrailingPct)
	}
	if cfg.IndexSL > 0 {
		if pos.Direction == model.DirectionCall {
			d.IndexSLLevel = model.Round2(pos.EntrySpot - cfg.IndexSL)
			d.IndexSLHit = st.spot <= pos.EntrySpot-cfg.IndexSL
		} else {
			d.IndexSLLevel = model.Round2(pos.EntrySpot + cfg.IndexSL)
			d.IndexSLHit = st.spot >= pos.EntrySpot+cfg.IndexSL
		}
	}
	return d
}
