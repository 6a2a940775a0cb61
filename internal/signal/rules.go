package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/indicators"
	"optionbt/internal/model"
)

// DefaultThreshold is the minimum group confidence needed to fire.
const DefaultThreshold = 0.6

// Rule compares one indicator against a constant or another indicator.
type Rule struct {
	Indicator string  `json:"indicator"`       // e.g. "RSI_14", "EMA_9", "MACD_12_26_9", "CLOSE"
	Op        string  `json:"op"`              // ">", "<", ">=", "<="
	Value     float64 `json:"value,omitempty"` // RHS constant, ignored when Ref is set
	Ref       string  `json:"ref,omitempty"`   // RHS indicator
	Weight    float64 `json:"weight,omitempty"`
}

// Config is the JSON shape stored per strategy slug.
type Config struct {
	Threshold float64           `json:"threshold"`
	Groups    map[Signal][]Rule `json:"groups"`
}

// ParseConfig decodes a stored strategy configuration.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing signal config: %w", err)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return cfg, nil
}

// DefaultConfig is a simple RSI/EMA momentum strategy usable out of the
// box: buy calls on oversold + uptrend, buy puts on overbought + downtrend.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Groups: map[Signal][]Rule{
			BuyCall: {
				{Indicator: "RSI_14", Op: "<", Value: 35},
				{Indicator: "CLOSE", Op: ">", Ref: "EMA_20"},
			},
			BuyPut: {
				{Indicator: "RSI_14", Op: ">", Value: 65},
				{Indicator: "CLOSE", Op: "<", Ref: "EMA_20"},
			},
			ExitCall: {
				{Indicator: "RSI_14", Op: ">", Value: 70},
			},
			ExitPut: {
				{Indicator: "RSI_14", Op: "<", Value: 30},
			},
		},
	}
}

// RuleEngine is a weighted-rule implementation of Engine.
type RuleEngine struct {
	cfg    Config
	logger zerolog.Logger
}

// NewRuleEngine creates an engine from a parsed configuration.
func NewRuleEngine(cfg Config) *RuleEngine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &RuleEngine{
		cfg:    cfg,
		logger: log.With().Str("component", "signal_engine").Logger(),
	}
}

// Evaluate implements Engine.
func (e *RuleEngine) Evaluate(history []model.Candle, position model.Direction) (*Result, error) {
	res := Neutral()
	res.Threshold = e.cfg.Threshold

	if len(history) < 2 || len(e.cfg.Groups) == 0 {
		return res, nil
	}

	cache := map[string]float64{}
	groups := []Signal{BuyCall, BuyPut, ExitCall, ExitPut}
	for _, group := range groups {
		fired, conf, details := e.evaluateGroup(group, history, cache)
		res.Fired[group] = fired
		res.Confidence[group] = conf
		res.RuleResults[group] = details
	}
	res.Available = true
	res.IndicatorValues = cache

	res.Signal = e.resolve(res, position)
	res.Conflict = res.Fired[BuyCall] && res.Fired[BuyPut]
	res.Explanation = explain(res)
	return res, nil
}

func (e *RuleEngine) evaluateGroup(group Signal, history []model.Candle, cache map[string]float64) (bool, float64, []RuleResult) {
	rules := e.cfg.Groups[group]
	if len(rules) == 0 {
		return false, 0, nil
	}

	details := make([]RuleResult, 0, len(rules))
	var total, passed float64
	for i, r := range rules {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}
		total += weight

		rr := RuleResult{Index: i, Weight: weight}
		lhs, err := indicatorValue(r.Indicator, history, cache)
		if err != nil {
			rr.Error = err.Error()
			rr.Rule = r.Indicator
			details = append(details, rr)
			continue
		}
		rhs := r.Value
		rhsName := strconv.FormatFloat(r.Value, 'f', -1, 64)
		if r.Ref != "" {
			rhs, err = indicatorValue(r.Ref, history, cache)
			if err != nil {
				rr.Error = err.Error()
				rr.Rule = fmt.Sprintf("%s %s %s", r.Indicator, r.Op, r.Ref)
				details = append(details, rr)
				continue
			}
			rhsName = r.Ref
		}

		rr.Rule = fmt.Sprintf("%s %s %s", r.Indicator, r.Op, rhsName)
		rr.LHS = lhs
		rr.RHS = rhs
		rr.Passed = compare(lhs, r.Op, rhs)
		rr.Detail = fmt.Sprintf("%.4f %s %.4f", lhs, r.Op, rhs)
		if rr.Passed {
			passed += weight
		}
		details = append(details, rr)
	}

	conf := 0.0
	if total > 0 {
		conf = passed / total
	}
	return conf >= e.cfg.Threshold && conf > 0, conf, details
}

// resolve prioritises EXIT signals for the open side, then entries.
func (e *RuleEngine) resolve(res *Result, position model.Direction) Signal {
	switch position {
	case model.DirectionCall:
		if res.Fired[ExitCall] {
			return ExitCall
		}
		if res.Fired[BuyPut] {
			return BuyPut
		}
		return Hold
	case model.DirectionPut:
		if res.Fired[ExitPut] {
			return ExitPut
		}
		if res.Fired[BuyCall] {
			return BuyCall
		}
		return Hold
	}

	callFired, putFired := res.Fired[BuyCall], res.Fired[BuyPut]
	switch {
	case callFired && putFired:
		if res.Confidence[BuyCall] > res.Confidence[BuyPut] {
			return BuyCall
		}
		if res.Confidence[BuyPut] > res.Confidence[BuyCall] {
			return BuyPut
		}
		return Wait
	case callFired:
		return BuyCall
	case putFired:
		return BuyPut
	}
	return Wait
}

func explain(res *Result) string {
	if res.Signal == Wait || res.Signal == Hold {
		return string(res.Signal)
	}
	return fmt.Sprintf("%s fired with %.0f%% confidence", res.Signal, res.Confidence[res.Signal]*100)
}

func compare(lhs float64, op string, rhs float64) bool {
	switch op {
	case ">":
		return lhs > rhs
	case "<":
		return lhs < rhs
	case ">=":
		return lhs >= rhs
	case "<=":
		return lhs <= rhs
	}
	return false
}

// indicatorValue computes (and caches) one indicator referenced by a rule.
// Names follow the column convention used in stored strategies:
// RSI_14, EMA_9, SMA_20, MACD_12_26_9, MACD_SIGNAL_12_26_9, ATR_14, CLOSE.
func indicatorValue(name string, history []model.Candle, cache map[string]float64) (float64, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if v, ok := cache[key]; ok {
		return v, nil
	}

	var v float64
	parts := strings.Split(key, "_")
	switch parts[0] {
	case "CLOSE":
		v = history[len(history)-1].Close
	case "RSI":
		p, err := periodArg(parts, 1, 14)
		if err != nil {
			return 0, err
		}
		v = indicators.RSI(history, p)
	case "EMA":
		p, err := periodArg(parts, 1, 20)
		if err != nil {
			return 0, err
		}
		v = indicators.EMAFromPrices(indicators.Closes(history), p)
	case "SMA":
		p, err := periodArg(parts, 1, 20)
		if err != nil {
			return 0, err
		}
		v = indicators.SMA(indicators.Closes(history), p)
	case "ATR":
		p, err := periodArg(parts, 1, 14)
		if err != nil {
			return 0, err
		}
		v = indicators.ATR(history, p)
	case "MACD":
		fastIdx := 1
		wantSignal := false
		if len(parts) > 1 && parts[1] == "SIGNAL" {
			wantSignal = true
			fastIdx = 2
		}
		fast, err := periodArg(parts, fastIdx, 12)
		if err != nil {
			return 0, err
		}
		slow, err := periodArg(parts, fastIdx+1, 26)
		if err != nil {
			return 0, err
		}
		sig, err := periodArg(parts, fastIdx+2, 9)
		if err != nil {
			return 0, err
		}
		line, signalLine, _ := indicators.MACD(history, fast, slow, sig)
		if wantSignal {
			v = signalLine
		} else {
			v = line
		}
	default:
		return 0, fmt.Errorf("unknown indicator %q", name)
	}

	cache[key] = v
	return v, nil
}

func periodArg(parts []string, idx, def int) (int, error) {
	if idx >= len(parts) {
		return def, nil
	}
	p, err := strconv.Atoi(parts[idx])
	if err != nil || p <= 0 {
		return 0, fmt.Errorf("bad indicator period %q", parts[idx])
	}
	return p, nil
}
