package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV bar for a single symbol and timeframe.
// Prices are in KRW as float64; TS is the bar close time (tz-aware).
type Candle struct {
	Symbol string    `json:"symbol"`
	TF     string    `json:"tf"` // normalized timeframe, e.g. "5m", "30m", "1d"
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Key returns a unique key for this candle's series: "symbol:tf".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.TF
}

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndicatorPoint is one computed MACD point at a candle close.
// Hist is MACD minus its signal line.
type IndicatorPoint struct {
	TS     time.Time `json:"ts"`
	MACD   float64   `json:"macd"`
	Signal float64   `json:"signal"`
	Hist   float64   `json:"hist"`
}

// JSON returns the JSON-encoded point.
func (p *IndicatorPoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
