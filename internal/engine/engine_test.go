package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbt/internal/model"
	"optionbt/internal/pricing"
	"optionbt/internal/signal"
)

// fakeSpot serves a fixed candle slice.
type fakeSpot struct {
	candles []model.Candle
	err     error
}

func (f *fakeSpot) SpotHistory(_ context.Context, _ string, _, _ time.Time, _ int) ([]model.Candle, error) {
	return f.candles, f.err
}

// scriptEngine returns a scripted signal per evaluation call; unscripted
// calls yield WAIT.
type scriptEngine struct {
	script map[int]signal.Signal // 1-based evaluation index
	errAt  int
	calls  int
}

func (s *scriptEngine) Evaluate(_ []model.Candle, _ model.Direction) (*signal.Result, error) {
	s.calls++
	if s.errAt != 0 && s.calls == s.errAt {
		return nil, errors.New("indicator failure")
	}
	res := signal.Neutral()
	res.Available = true
	if sig, ok := s.script[s.calls]; ok {
		res.Signal = sig
	}
	return res, nil
}

// sessionCandles builds n five-minute bars for one trading day starting at
// 09:15, with a gently rising spot.
func sessionCandles(day time.Time, n int) []model.Candle {
	out := make([]model.Candle, 0, n)
	ts := time.Date(day.Year(), day.Month(), day.Day(), 9, 15, 0, 0, time.UTC)
	spot := 21500.0
	for i := 0; i < n; i++ {
		out = append(out, model.Candle{
			Time:   ts,
			Open:   spot,
			High:   spot + 10,
			Low:    spot - 10,
			Close:  spot + 5,
			Volume: 1000,
		})
		ts = ts.Add(5 * time.Minute)
		spot += 5
	}
	return out
}

func testConfig(day time.Time) Config {
	return Config{
		StartDate:       day,
		EndDate:         day,
		Derivative:      "NIFTY",
		LotSize:         50,
		NumLots:         1,
		BrokeragePerLot: 20,
		IntervalMinutes: 5,
		Capital:         100_000,
	}
}

func testPricer() *pricing.Pricer {
	// Rolling-volatility mode keeps tests offline.
	return pricing.NewPricer(pricing.PricerOptions{Derivative: "NIFTY", UseVIX: false})
}

var testDay = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

func TestRunNoSpotData(t *testing.T) {
	eng := New(testConfig(testDay), &fakeSpot{err: errors.New("connection refused")}, nil, &scriptEngine{}, testPricer())
	result := eng.Run(context.Background())

	assert.Contains(t, result.ErrorMsg, "could not fetch spot history")
	assert.Empty(t, result.Trades)
	assert.False(t, result.Completed)
}

func TestRunNoEntriesMeansNoTrades(t *testing.T) {
	candles := sessionCandles(testDay, 30)
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, &scriptEngine{}, testPricer())
	result := eng.Run(context.Background())

	assert.Empty(t, result.ErrorMsg)
	assert.True(t, result.Completed)
	assert.Equal(t, 0, result.TotalTrades)
	// Warmup skips the first 14 bars; each processed bar adds one equity point.
	assert.Len(t, result.EquityCurve, 30-warmupBars+1)
	for _, p := range result.EquityCurve {
		assert.Equal(t, 100_000.0, p.Equity)
	}
}

func TestRunSignalRoundTrip(t *testing.T) {
	candles := sessionCandles(testDay, 30)
	script := &scriptEngine{script: map[int]signal.Signal{
		3: signal.BuyCall,
		6: signal.ExitCall,
	}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, model.DirectionCall, trade.Direction)
	assert.Equal(t, ReasonSignal, trade.ExitReason)
	assert.Equal(t, "BUY_CALL", trade.SignalName)
	assert.True(t, trade.ExitTime.After(trade.EntryTime))
	assert.Equal(t, model.SourceSynthetic, trade.EntrySource)
	assert.Equal(t, 1, result.SyntheticBars)
}

func TestRunOpposingEntryClosesPosition(t *testing.T) {
	candles := sessionCandles(testDay, 40)
	script := &scriptEngine{script: map[int]signal.Signal{
		3: signal.BuyCall,
		8: signal.BuyPut, // opposing entry acts as an exit for the call
	}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.NotEmpty(t, result.Trades)
	assert.Equal(t, ReasonSignal, result.Trades[0].ExitReason)
	assert.Equal(t, model.DirectionCall, result.Trades[0].Direction)
}

func TestRunMaxHoldExit(t *testing.T) {
	cfg := testConfig(testDay)
	cfg.MaxHoldBars = 3
	candles := sessionCandles(testDay, 30)
	script := &scriptEngine{script: map[int]signal.Signal{3: signal.BuyCall}}
	eng := New(cfg, &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	assert.Equal(t, ReasonMaxHold, result.Trades[0].ExitReason)
	assert.Equal(t, 15*time.Minute, result.Trades[0].ExitTime.Sub(result.Trades[0].EntryTime))
}

func TestRunIndexStopUsesClose(t *testing.T) {
	cfg := testConfig(testDay)
	cfg.IndexSL = 50
	candles := sessionCandles(testDay, 20)
	// Entry fires on the third evaluation (bar 16, spot close 21585).
	// Bar 17 dips 85 points intra-bar but closes above the stop level;
	// bar 18 closes through it.
	candles[17].Low = 21500
	candles[18].Low = 21520
	candles[18].Close = 21530
	script := &scriptEngine{script: map[int]signal.Signal{3: signal.BuyCall}}
	eng := New(cfg, &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, ReasonIndexSL, trade.ExitReason)
	assert.Equal(t, candles[18].Time, trade.ExitTime)
	assert.Equal(t, 21530.0, trade.SpotExit)
}

func TestRunForceCloseAtEnd(t *testing.T) {
	candles := sessionCandles(testDay, 20)
	// Entry on the 4th processed bar, never exited by signal.
	script := &scriptEngine{script: map[int]signal.Signal{4: signal.BuyCall}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	assert.Equal(t, ReasonMarketClose, result.Trades[0].ExitReason)
	assert.Equal(t, candles[len(candles)-1].Time, result.Trades[0].ExitTime)
}

func TestRunAutoExitBeforeClose(t *testing.T) {
	// A session long enough to cross 15:25 (bar 74 from 09:15 at 5 min).
	candles := sessionCandles(testDay, 75)
	script := &scriptEngine{script: map[int]signal.Signal{40: signal.BuyCall}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, ReasonMarketClose, trade.ExitReason)
	exitMinutes := trade.ExitTime.Hour()*60 + trade.ExitTime.Minute()
	assert.GreaterOrEqual(t, exitMinutes, 15*60+25)
}

func TestRunPnLConsistency(t *testing.T) {
	cfg := testConfig(testDay)
	cfg.SlippagePct = 0.0025
	cfg.NumLots = 2
	candles := sessionCandles(testDay, 30)
	script := &scriptEngine{script: map[int]signal.Signal{
		2: signal.BuyCall,
		5: signal.ExitCall,
	}}
	eng := New(cfg, &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]

	expectedGross := (trade.OptionExit - trade.OptionEntry) * float64(trade.Lots) * float64(trade.LotSize)
	assert.InDelta(t, expectedGross, trade.GrossPnL, 0.01)

	// Slippage lives in the recorded prices, not in a separate charge.
	assert.Equal(t, 0.0, trade.SlippageCost)
	assert.Equal(t, 80.0, trade.Brokerage) // 20 per lot x 2 lots x 2 legs
	assert.InDelta(t, trade.GrossPnL-trade.Brokerage, trade.NetPnL, 0.01)

	// Final equity reconciles with capital plus total net P&L.
	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	assert.InDelta(t, cfg.Capital+result.TotalNetPnL, final, 0.01)
}

func TestRunSinglePositionInvariant(t *testing.T) {
	candles := sessionCandles(testDay, 40)
	// Repeated BUY_CALL while already long must not stack positions.
	script := &scriptEngine{script: map[int]signal.Signal{
		2: signal.BuyCall,
		3: signal.BuyCall,
		4: signal.BuyCall,
		9: signal.ExitCall,
	}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	require.Len(t, result.Trades, 1)
	// No overlap: next trade (the force-closed remainder, if any) starts
	// after the previous exit.
	for i := 1; i < len(result.Trades); i++ {
		assert.False(t, result.Trades[i].EntryTime.Before(result.Trades[i-1].ExitTime))
	}
}

func TestRunSignalErrorTreatedAsWait(t *testing.T) {
	candles := sessionCandles(testDay, 30)
	script := &scriptEngine{errAt: 3, script: map[int]signal.Signal{5: signal.BuyCall, 8: signal.ExitCall}}
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, script, testPricer())
	result := eng.Run(context.Background())

	// The failing bar is ridden through; the later entry still happens.
	assert.Empty(t, result.ErrorMsg)
	require.Len(t, result.Trades, 1)
}

func TestRunCancellation(t *testing.T) {
	candles := sessionCandles(testDay, 30)
	eng := New(testConfig(testDay), &fakeSpot{candles: candles}, nil, &scriptEngine{}, testPricer())
	eng.Stop()
	result := eng.Run(context.Background())

	assert.Equal(t, "backtest cancelled by user", result.ErrorMsg)
	assert.Empty(t, result.Trades)
}

func TestRunSidewaysWindowSkipsBars(t *testing.T) {
	cfg := testConfig(testDay)
	cfg.SidewaysSkip = true // defaults to 12:00-14:00
	candles := sessionCandles(testDay, 75)
	eng := New(cfg, &fakeSpot{candles: candles}, nil, &scriptEngine{}, testPricer())
	result := eng.Run(context.Background())

	for _, p := range result.EquityCurve {
		m := p.Timestamp.Hour()*60 + p.Timestamp.Minute()
		assert.False(t, m >= 12*60 && m <= 14*60, "bar %s inside sideways window", p.Timestamp)
	}
}

func TestRunDebuggerCapture(t *testing.T) {
	cfg := testConfig(testDay)
	candles := sessionCandles(testDay, 20)

	eng := New(cfg, &fakeSpot{candles: candles}, nil, &scriptEngine{}, testPricer())
	eng.Run(context.Background())
	assert.Equal(t, 0, eng.Debugger().Len())

	cfg.DebugMode = true
	engDbg := New(cfg, &fakeSpot{candles: candles}, nil, &scriptEngine{}, testPricer())
	engDbg.Run(context.Background())
	assert.Equal(t, len(candles), engDbg.Debugger().Len())

	entries := engDbg.Debugger().Entries()
	assert.Equal(t, "WARMUP(1/15)", entries[0].SkipReason)
	assert.Empty(t, entries[len(entries)-1].SkipReason)
}

func TestOverrideFlat(t *testing.T) {
	mk := func(call, put float64) *signal.Result {
		res := signal.Neutral()
		res.Available = true
		res.Signal = signal.ExitCall
		res.Threshold = 0.6
		res.Confidence[signal.BuyCall] = call
		res.Confidence[signal.BuyPut] = put
		return res
	}

	sig, reason := overrideFlat(mk(0.67, 0.2))
	assert.Equal(t, signal.BuyCall, sig)
	assert.Equal(t, "flat:exit→BUY_CALL(conf=67%)", reason)

	sig, _ = overrideFlat(mk(0.3, 0.75))
	assert.Equal(t, signal.BuyPut, sig)

	// Both above threshold: the stronger side wins.
	sig, _ = overrideFlat(mk(0.8, 0.7))
	assert.Equal(t, signal.BuyCall, sig)

	// Exact tie above threshold resolves to WAIT.
	sig, reason = overrideFlat(mk(0.8, 0.8))
	assert.Equal(t, signal.Wait, sig)
	assert.Equal(t, "flat:exit→WAIT", reason)

	// Nothing above threshold stays flat.
	sig, _ = overrideFlat(mk(0.5, 0.4))
	assert.Equal(t, signal.Wait, sig)
}

func TestResolveAction(t *testing.T) {
	callPos := &Position{Direction: model.DirectionCall}
	putPos := &Position{Direction: model.DirectionPut}

	tests := []struct {
		name     string
		resolved signal.Signal
		pos      *Position
		expected action
	}{
		{"flat buy call", signal.BuyCall, nil, actionBuyCall},
		{"flat buy put", signal.BuyPut, nil, actionBuyPut},
		{"flat exit ignored", signal.ExitCall, nil, actionWait},
		{"flat hold waits", signal.Hold, nil, actionWait},
		{"long call exit", signal.ExitCall, callPos, actionExitCall},
		{"long call reversal exits", signal.BuyPut, callPos, actionExitCall},
		{"long call repeat entry waits", signal.BuyCall, callPos, actionWait},
		{"long put exit", signal.ExitPut, putPos, actionExitPut},
		{"long put reversal exits", signal.BuyCall, putPos, actionExitPut},
		{"long put wrong exit waits", signal.ExitCall, putPos, actionWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveAction(tt.resolved, tt.pos))
		})
	}
}
