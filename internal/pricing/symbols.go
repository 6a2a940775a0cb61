package pricing

import (
	"fmt"
	"strings"
	"time"
)

// PlainSymbols formats contracts as DERIVATIVE + strike + type, e.g.
// "NIFTY21500CE". This matches the internal candle-store keying; brokers
// with their own contract notation provide their own SymbolFormatter.
type PlainSymbols struct{}

func (PlainSymbols) Format(derivative string, _ time.Time, strike float64, optionType string) (string, error) {
	if strike <= 0 {
		return "", fmt.Errorf("invalid strike %.2f", strike)
	}
	return fmt.Sprintf("%s%d%s", strings.ToUpper(derivative), int(strike), strings.ToUpper(optionType)), nil
}

// NSESymbols formats contracts in NSE trading-symbol notation:
// weekly  NIFTY24807<strike>CE  (YY + M + DD, month O/N/D for Oct-Dec)
// monthly NIFTY24AUG<strike>CE
type NSESymbols struct {
	Monthly bool
}

func (s NSESymbols) Format(derivative string, expiry time.Time, strike float64, optionType string) (string, error) {
	if strike <= 0 {
		return "", fmt.Errorf("invalid strike %.2f", strike)
	}
	derivative = strings.ToUpper(derivative)
	optionType = strings.ToUpper(optionType)

	if s.Monthly {
		return fmt.Sprintf("%s%s%s%d%s",
			derivative, expiry.Format("06"), strings.ToUpper(expiry.Format("Jan")),
			int(strike), optionType), nil
	}

	month := fmt.Sprintf("%d", int(expiry.Month()))
	switch expiry.Month() {
	case time.October:
		month = "O"
	case time.November:
		month = "N"
	case time.December:
		month = "D"
	}
	return fmt.Sprintf("%s%s%s%02d%d%s",
		derivative, expiry.Format("06"), month, expiry.Day(),
		int(strike), optionType), nil
}
