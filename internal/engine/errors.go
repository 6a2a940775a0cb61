package engine

import "fmt"

// ErrorKind classifies a replay-phase failure so the loop can decide
// between skipping the bar and aborting the run.
type ErrorKind int

const (
	// KindFetch — historical data unavailable; fatal to the run.
	KindFetch ErrorKind = iota
	// KindCancelled — cooperative stop requested; fatal to the run.
	KindCancelled
	// KindSignal — signal-engine failure; the bar is treated as WAIT.
	KindSignal
	// KindPricing — option-price resolution failure; the bar is skipped.
	KindPricing
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindCancelled:
		return "cancelled"
	case KindSignal:
		return "signal"
	case KindPricing:
		return "pricing"
	}
	return "unknown"
}

// Fatal reports whether the run cannot continue past this error.
func (k ErrorKind) Fatal() bool {
	return k == KindFetch || k == KindCancelled
}

// BacktestError is a typed replay failure.
type BacktestError struct {
	Kind ErrorKind
	Err  error
}

func (e *BacktestError) Error() string {
	return fmt.Sprintf("backtest %s error: %v", e.Kind, e.Err)
}

func (e *BacktestError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *BacktestError {
	return &BacktestError{Kind: kind, Err: err}
}
