// Package engine implements the bar-by-bar backtest replay loop: it feeds
// historical spot candles through a rule-based signal engine, manages a
// single open position's lifecycle and accumulates trade and equity
// statistics into a Result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/model"
	"optionbt/internal/pricing"
	"optionbt/internal/signal"
)

// SpotSource supplies spot candles resampled to the requested interval.
// Implementations pre-filter rows to market hours.
type SpotSource interface {
	SpotHistory(ctx context.Context, symbol string, start, end time.Time, intervalMinutes int) ([]model.Candle, error)
}

// OptionHistory supplies real option candles for a contract symbol.
// Empty results are not an error; they trigger synthetic pricing.
type OptionHistory interface {
	OptionBars(ctx context.Context, symbol string, start, end time.Time, intervalMinutes int) ([]model.Candle, error)
}

// Progress receives periodic replay updates. It must be non-blocking; the
// engine swallows panics raised by the callback.
type Progress func(pct float64, msg string)

// Engine runs the full backtest. Designed to run on a background worker so
// a host application's event loop is not blocked.
type Engine struct {
	cfg     Config
	spot    SpotSource
	options OptionHistory // optional
	signals signal.Engine
	pricer  *pricing.Pricer

	progress Progress
	debugger *Debugger
	logger   zerolog.Logger
	stopped  atomic.Bool

	optionCache map[string][]model.Candle
}

// New creates an engine for one run. options may be nil, in which case all
// option pricing is synthetic.
func New(cfg Config, spot SpotSource, options OptionHistory, signals signal.Engine, pricer *pricing.Pricer) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:         cfg,
		spot:        spot,
		options:     options,
		signals:     signals,
		pricer:      pricer,
		debugger:    NewDebugger(cfg.DebugMode),
		logger:      log.With().Str("component", "backtest_engine").Logger(),
		optionCache: map[string][]model.Candle{},
	}
}

// SetProgress installs the progress callback.
func (e *Engine) SetProgress(cb Progress) { e.progress = cb }

// Debugger exposes the per-candle debug collector.
func (e *Engine) Debugger() *Debugger { return e.debugger }

// Stop requests cooperative cancellation; it is polled once per bar, so
// latency is bounded by one bar's processing time.
func (e *Engine) Stop() { e.stopped.Store(true) }

func (e *Engine) emit(pct float64, msg string) {
	if e.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug().Interface("panic", r).Msg("Progress callback panicked")
		}
	}()
	e.progress(pct, msg)
}

// Run executes the backtest. It never returns an error: all failure modes
// resolve to a populated Result with ErrorMsg set when the run could not
// produce meaningful results.
func (e *Engine) Run(ctx context.Context) *Result {
	result := NewResult(e.cfg)

	e.emit(0, "Fetching spot history…")
	spot, berr := e.fetchSpot(ctx)
	if berr != nil {
		e.logger.Error().Err(berr).Msg("Spot history fetch failed")
		result.ErrorMsg = berr.Err.Error()
		return result
	}

	e.emit(5, fmt.Sprintf("Loaded %d spot candles. Fetching VIX…", len(spot)))
	e.pricer.LoadVIX(ctx, e.cfg.StartDate, e.cfg.EndDate)

	e.emit(12, "Starting bar-by-bar replay…")
	if berr := e.replay(ctx, result, spot); berr != nil && berr.Kind.Fatal() {
		e.logger.Warn().Err(berr).Msg("Replay aborted")
		result.ErrorMsg = berr.Err.Error()
	}

	e.emit(98, "Finalising statistics…")
	result.Finalize()
	if result.TotalTrades == 0 && result.ErrorMsg == "" {
		e.logger.Warn().Msg("Replay produced no trades — check strategy rules and date range")
	}
	e.emit(100, fmt.Sprintf("Complete — %d trades | Net P&L %.0f", result.TotalTrades, result.TotalNetPnL))
	return result
}

// fetchSpot loads the spot history, filters it to the configured range and
// session, and sorts it chronologically.
func (e *Engine) fetchSpot(ctx context.Context) ([]model.Candle, *BacktestError) {
	candles, err := e.spot.SpotHistory(ctx, e.cfg.Derivative, e.cfg.StartDate, e.cfg.EndDate, e.cfg.IntervalMinutes)
	if err != nil {
		return nil, newError(KindFetch, fmt.Errorf("could not fetch spot history: %w", err))
	}

	filtered := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		ts := pricing.Naive(c.Time)
		if ts.Before(e.cfg.StartDate) || ts.After(e.cfg.EndDate.AddDate(0, 0, 1)) {
			continue
		}
		c.Time = ts
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return nil, newError(KindFetch, fmt.Errorf("could not fetch spot history: no candles in range"))
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Time.Before(filtered[j].Time) })

	e.logger.Info().
		Int("bars", len(filtered)).
		Int("interval_min", e.cfg.IntervalMinutes).
		Str("derivative", e.cfg.Derivative).
		Msg("Spot history loaded")
	return filtered, nil
}

// replay is the bar-by-bar state machine. Per-bar checks run in a fixed
// order; the first match short-circuits the bar. A non-nil return is a
// phase error; the caller aborts the run only when its kind is fatal.
func (e *Engine) replay(ctx context.Context, result *Result, spot []model.Candle) *BacktestError {
	cfg := &e.cfg

	equity := cfg.Capital
	tradeNo := 0
	var pos *Position
	trailingHigh := 0.0
	barsInTrade := 0
	history := make([]model.Candle, 0, historyCap+1)
	total := len(spot)

	appendEquity := func(ts time.Time) {
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: ts, Equity: model.Round2(equity)})
	}
	resetPosition := func() {
		pos = nil
		trailingHigh = 0
		barsInTrade = 0
	}

	var abort *BacktestError
	for i, bar := range spot {
		if e.stopped.Load() {
			abort = newError(KindCancelled, errors.New("backtest cancelled by user"))
			break
		}

		barTime := pricing.Naive(bar.Time)

		if i%progressEvery == 0 {
			pct := 12 + float64(i)/float64(total)*85
			e.emit(pct, fmt.Sprintf("Bar %d/%d | %s | Equity %.0f | Trades: %d",
				i, total, barTime.Format("02-Jan 15:04"), equity, tradeNo))
		}

		// 1. Sideways-hours skip
		if cfg.inSidewaysWindow(barTime) {
			e.recordSkip(barTime, bar, "SIDEWAY", pos, barsInTrade, trailingHigh)
			continue
		}

		// 2. Non-market-hours skip
		if !inMarketHours(barTime) {
			e.recordSkip(barTime, bar, "MARKET_CLOSED", pos, barsInTrade, trailingHigh)
			continue
		}

		// 3. Auto-exit before close
		if pos != nil && pastAutoExit(barTime) {
			e.closeTrade(result, pos, barTime, bar.Close, &equity, &tradeNo, ReasonMarketClose, 0, "")
			resetPosition()
			appendEquity(barTime)
			e.recordSkip(barTime, bar, string(ReasonMarketClose), pos, barsInTrade, trailingHigh)
			continue
		}

		// 4. Warmup
		history = append(history, model.Candle{Time: barTime, Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume})
		if len(history) > historyCap {
			history = history[len(history)-historyCap:]
		}
		if len(history) < warmupBars {
			e.recordSkip(barTime, bar, fmt.Sprintf("WARMUP(%d/%d)", len(history), warmupBars), pos, barsInTrade, trailingHigh)
			continue
		}

		// 5. Signal evaluation
		var posDir model.Direction
		if pos != nil {
			posDir = pos.Direction
		}
		sigRes, serr := e.signals.Evaluate(history, posDir)
		if serr != nil {
			berr := newError(KindSignal, serr)
			e.logger.Debug().Err(berr).Time("bar", barTime).Msg("Signal engine error — treating bar as WAIT")
			sigRes = signal.Neutral()
		}
		if sigRes == nil {
			sigRes = signal.Neutral()
		}

		// 6. Position-aware override: an exit-type signal is meaningless
		// while flat, so re-resolve from entry confidences.
		resolved := sigRes.Signal
		override := ""
		if pos == nil && resolved.IsExitType() {
			resolved, override = overrideFlat(sigRes)
		}

		// 7. Action resolution
		act := resolveAction(resolved, pos)

		// 8. Open-position management
		if pos != nil {
			obar, symbol := e.resolveOptionBar(ctx, barTime, bar, pos.Direction.OptionType())
			price := obar.Close
			if price > trailingHigh {
				trailingHigh = price
			}
			barsInTrade++

			st := exitState{
				cfg:          cfg,
				pos:          pos,
				price:        price,
				spot:         bar.Close,
				trailingHigh: trailingHigh,
				barsInTrade:  barsInTrade,
				action:       act,
			}
			if reason, hit := firstExit(st); hit {
				e.closeTrade(result, pos, barTime, bar.Close, &equity, &tradeNo, reason, price, obar.Source)
				e.recordBar(barTime, bar, sigRes, resolved, override, act, pos, st, &obar, symbol, "")
				resetPosition()
				appendEquity(barTime)
				continue
			}

			appendEquity(barTime)
			e.recordBar(barTime, bar, sigRes, resolved, override, act, pos, st, &obar, symbol, "")
			continue
		}

		// 9. Entry
		if act == actionBuyCall || act == actionBuyPut {
			dir := model.DirectionCall
			if act == actionBuyPut {
				dir = model.DirectionPut
			}
			obar, symbol := e.resolveOptionBar(ctx, barTime, bar, dir.OptionType())
			entryPrice := model.Round2(obar.Close * (1 + cfg.SlippagePct))

			pos = &Position{
				Direction:  dir,
				EntryTime:  barTime,
				EntrySpot:  bar.Close,
				EntryPrice: entryPrice,
				Strike:     obar.Strike,
				Source:     obar.Source,
				SignalName: string(resolved),
			}
			trailingHigh = entryPrice
			barsInTrade = 0

			appendEquity(barTime)
			e.recordBar(barTime, bar, sigRes, resolved, override, act, pos,
				exitState{cfg: cfg, pos: pos, price: entryPrice, spot: bar.Close, trailingHigh: trailingHigh, action: act},
				&obar, symbol, "")
			continue
		}

		// 10. Flat, no action.
		appendEquity(barTime)
		e.recordBar(barTime, bar, sigRes, resolved, override, act, pos, exitState{cfg: cfg}, nil, "", "")
	}

	// Force-close any position still open at the last bar.
	if pos != nil && len(spot) > 0 {
		last := spot[len(spot)-1]
		e.closeTrade(result, pos, pricing.Naive(last.Time), last.Close, &equity, &tradeNo, ReasonMarketClose, 0, "")
	}
	return abort
}

// overrideFlat re-resolves an exit-type signal seen while flat using the
// entry-group confidences against the engine threshold.
func overrideFlat(res *signal.Result) (signal.Signal, string) {
	callConf := res.Confidence[signal.BuyCall]
	putConf := res.Confidence[signal.BuyPut]
	thr := res.Threshold

	chosen := signal.Wait
	switch {
	case callConf > thr && putConf > thr:
		if callConf > putConf {
			chosen = signal.BuyCall
		} else if putConf > callConf {
			chosen = signal.BuyPut
		}
	case callConf > thr:
		chosen = signal.BuyCall
	case putConf > thr:
		chosen = signal.BuyPut
	}

	if chosen == signal.Wait {
		return signal.Wait, "flat:exit→WAIT"
	}
	conf := callConf
	if chosen == signal.BuyPut {
		conf = putConf
	}
	return chosen, fmt.Sprintf("flat:exit→%s(conf=%.0f%%)", chosen, conf*100)
}

// resolveAction maps the resolved signal onto an action conditioned on the
// current position: entries only fire while flat, and an opposing entry
// signal counts as an exit.
func resolveAction(resolved signal.Signal, pos *Position) action {
	if pos == nil {
		switch resolved {
		case signal.BuyCall:
			return actionBuyCall
		case signal.BuyPut:
			return actionBuyPut
		}
		return actionWait
	}
	if pos.Direction == model.DirectionCall {
		if resolved == signal.ExitCall || resolved == signal.BuyPut {
			return actionExitCall
		}
		return actionWait
	}
	if resolved == signal.ExitPut || resolved == signal.BuyCall {
		return actionExitPut
	}
	return actionWait
}

// resolveOptionBar prices the ATM contract for one spot bar, preferring
// real broker history when available.
func (e *Engine) resolveOptionBar(ctx context.Context, barTime time.Time, bar model.Candle, optType string) (pricing.OptionBar, string) {
	strike := pricing.ATMStrike(bar.Close, e.cfg.Derivative)
	symbol := e.pricer.OptionSymbol(barTime, strike, optType)

	var real *model.OHLC
	if symbol != "" && e.options != nil {
		real = e.lookupRealBar(ctx, symbol, barTime)
	}
	obar := e.pricer.ResolveBar(barTime, bar.Open, bar.High, bar.Low, bar.Close, optType, real, e.cfg.IntervalMinutes)
	return obar, symbol
}

// lookupRealBar finds the real option bar nearest to barTime within two
// bar intervals. Contract history is fetched lazily and cached per symbol;
// a failed fetch caches the miss so the broker is asked only once.
func (e *Engine) lookupRealBar(ctx context.Context, symbol string, barTime time.Time) *model.OHLC {
	bars, ok := e.optionCache[symbol]
	if !ok {
		fetched, err := e.options.OptionBars(ctx, symbol, e.cfg.StartDate, e.cfg.EndDate, e.cfg.IntervalMinutes)
		if err != nil {
			e.logger.Debug().Err(newError(KindPricing, err)).Str("symbol", symbol).Msg("Option history unavailable")
			fetched = nil
		}
		sort.Slice(fetched, func(i, j int) bool { return fetched[i].Time.Before(fetched[j].Time) })
		e.optionCache[symbol] = fetched
		bars = fetched
	}
	if len(bars) == 0 {
		return nil
	}

	idx := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(barTime) })
	best := -1
	bestDiff := time.Duration(math.MaxInt64)
	for _, j := range []int{idx - 1, idx} {
		if j < 0 || j >= len(bars) {
			continue
		}
		diff := bars[j].Time.Sub(barTime)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = j
		}
	}
	if best < 0 || bestDiff > 2*time.Duration(e.cfg.IntervalMinutes)*time.Minute {
		return nil
	}
	b := bars[best]
	return &model.OHLC{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
}

// closeTrade books one completed round-trip. When forcedPrice is zero the
// exit is re-priced from a bar collapsed to the exit spot, since a terminal
// close has no bar of its own to reference.
func (e *Engine) closeTrade(result *Result, pos *Position, exitTime time.Time, spotExit float64,
	equity *float64, tradeNo *int, reason ExitReason, forcedPrice float64, forcedSource model.PriceSource) {

	cfg := &e.cfg
	optType := pos.Direction.OptionType()

	var exitPrice float64
	var exitSource model.PriceSource
	if forcedPrice > 0 {
		exitPrice = forcedPrice * (1 - cfg.SlippagePct)
		exitSource = forcedSource
		if exitSource == "" {
			exitSource = model.SourceSynthetic
		}
	} else {
		obar := e.pricer.ResolveBar(exitTime, spotExit, spotExit, spotExit, spotExit, optType, nil, cfg.IntervalMinutes)
		exitPrice = obar.Close * (1 - cfg.SlippagePct)
		exitSource = obar.Source
	}
	exitPrice = math.Max(pricing.MinPremium, model.Round2(exitPrice))

	lots := cfg.NumLots
	lotSize := cfg.LotSize
	gross := (exitPrice - pos.EntryPrice) * float64(lots) * float64(lotSize)

	// Slippage is already baked into both recorded prices, so the separate
	// cost column carries nothing extra.
	slippageCost := 0.0
	brokerage := cfg.BrokeragePerLot * float64(lots) * 2 // entry + exit
	net := model.Round2(gross - slippageCost - brokerage)

	*tradeNo++
	*equity += net

	trade := Trade{
		TradeNo:      *tradeNo,
		Direction:    pos.Direction,
		EntryTime:    pos.EntryTime,
		ExitTime:     exitTime,
		SpotEntry:    pos.EntrySpot,
		SpotExit:     spotExit,
		Strike:       pos.Strike,
		OptionEntry:  pos.EntryPrice,
		OptionExit:   exitPrice,
		Lots:         lots,
		LotSize:      lotSize,
		GrossPnL:     model.Round2(gross),
		SlippageCost: model.Round2(slippageCost),
		Brokerage:    model.Round2(brokerage),
		NetPnL:       net,
		EntrySource:  pos.Source,
		ExitSource:   exitSource,
		ExitReason:   reason,
		SignalName:   pos.SignalName,
	}
	result.Trades = append(result.Trades, trade)

	if trade.EntrySource == model.SourceSynthetic || trade.ExitSource == model.SourceSynthetic {
		result.SyntheticBars++
	} else {
		result.RealBars++
	}

	e.logger.Debug().
		Int("trade_no", trade.TradeNo).
		Str("direction", string(trade.Direction)).
		Str("reason", string(reason)).
		Float64("net_pnl", trade.NetPnL).
		Msg("Trade closed")
}
