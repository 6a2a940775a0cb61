// Package signal defines the contract between the backtest replay loop and
// the rule-based signal engine, plus a compact JSON-configured
// implementation of that contract.
package signal

import "optionbt/internal/model"

// Signal is the resolved trading signal for one bar.
type Signal string

const (
	BuyCall  Signal = "BUY_CALL"
	BuyPut   Signal = "BUY_PUT"
	ExitCall Signal = "EXIT_CALL"
	ExitPut  Signal = "EXIT_PUT"
	Hold     Signal = "HOLD"
	Wait     Signal = "WAIT"
)

// IsExitType reports whether the signal is meaningless while flat.
func (s Signal) IsExitType() bool {
	return s == ExitCall || s == ExitPut || s == Hold
}

// RuleResult is the evaluation detail for one rule inside a group.
type RuleResult struct {
	Index  int     `json:"index"`
	Rule   string  `json:"rule"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
	LHS    float64 `json:"lhs"`
	RHS    float64 `json:"rhs"`
	Detail string  `json:"detail"`
	Error  string  `json:"error,omitempty"`
}

// Result is one bar's full evaluation outcome.
type Result struct {
	Available       bool                    `json:"available"`
	Signal          Signal                  `json:"signal_value"`
	Confidence      map[Signal]float64      `json:"confidence"`
	Threshold       float64                 `json:"threshold"`
	Fired           map[Signal]bool         `json:"fired"`
	RuleResults     map[Signal][]RuleResult `json:"rule_results"`
	IndicatorValues map[string]float64      `json:"indicator_values"`
	Conflict        bool                    `json:"conflict"`
	Explanation     string                  `json:"explanation"`
}

// Engine evaluates the rolling candle history against the configured rule
// groups. The position parameter lets implementations prioritise EXIT
// signals while a trade is open.
type Engine interface {
	Evaluate(history []model.Candle, position model.Direction) (*Result, error)
}

// Neutral returns the result used when evaluation was not possible.
func Neutral() *Result {
	return &Result{
		Available:       false,
		Signal:          Wait,
		Confidence:      map[Signal]float64{},
		Fired:           map[Signal]bool{},
		RuleResults:     map[Signal][]RuleResult{},
		IndicatorValues: map[string]float64{},
	}
}
