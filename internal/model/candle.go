package model

import "time"

// Candle represents a single price candle
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

// OHLC is a bare price bar without a timestamp, used when passing
// broker-provided option data into the pricer.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Valid reports whether all four values are present and strictly positive.
func (o OHLC) Valid() bool {
	return o.Open > 0 && o.High > 0 && o.Low > 0 && o.Close > 0
}
