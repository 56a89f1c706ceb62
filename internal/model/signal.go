package model

import (
	"encoding/json"
	"time"
)

// Side represents the direction of a trade signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeSignal is an entry/exit decision emitted by the monitor.
// TS is the close time of the bar the signal is based on.
// Immutable once created.
type TradeSignal struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Reason string    `json:"reason"`
}

// Key returns the deduplication identity of this signal.
func (s *TradeSignal) Key() TriggerKey {
	return TriggerKey{Symbol: s.Symbol, Side: s.Side, TS: s.TS.UnixNano()}
}

// JSON returns the JSON-encoded signal.
func (s *TradeSignal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// TriggerKey identifies a signal for deduplication: at most one signal
// is emitted per key for the monitor's lifetime. TS is UnixNano so the
// key is comparable and usable as a map key.
type TriggerKey struct {
	Symbol string
	Side   Side
	TS     int64
}

// Fill represents an executed (simulated or live) order fill.
type Fill struct {
	OrderID  string      `json:"order_id"`
	Signal   TradeSignal `json:"signal"`
	FillQty  int64       `json:"fill_qty"`
	Price    float64     `json:"price"`
	Fee      float64     `json:"fee"`
	Realized float64     `json:"realized"` // realized P&L for sells, 0 for buys
	FilledAt time.Time   `json:"filled_at"`
}
