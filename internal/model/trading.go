package model

import "math"

// Direction of an open option position.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// OptionType returns the NSE option-type code ("CE"/"PE") for the direction.
func (d Direction) OptionType() string {
	if d == DirectionPut {
		return "PE"
	}
	return "CE"
}

// PriceSource tracks whether an option bar price came from real broker data
// or from the Black-Scholes model.
type PriceSource string

const (
	SourceReal      PriceSource = "REAL"
	SourceSynthetic PriceSource = "SYNTHETIC"
)

// Round2 rounds a price to 2 decimal places.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
