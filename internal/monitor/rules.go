package monitor

import (
	"fmt"

	"exitpro-engine/internal/model"
)

// Rule is a pure predicate over a candle window (ascending by TS).
// Rules never read or mutate monitor state, so variants can be unit-tested
// and swapped independently.
type Rule interface {
	// Name returns a short identifier used in signal reasons and logs.
	Name() string

	// Eval reports whether the rule fires on the window. Implementations
	// look at the last two bars; windows shorter than 2 never fire.
	Eval(window []model.Candle) bool

	// Reason describes why the rule fired on the window, for the signal.
	Reason(window []model.Candle) string
}

// BelowPrevOpenSell fires when the current close is at or below the
// previous bar's open.
type BelowPrevOpenSell struct{}

func (BelowPrevOpenSell) Name() string { return "below_prev_open" }

func (BelowPrevOpenSell) Eval(w []model.Candle) bool {
	n := len(w)
	if n < 2 {
		return false
	}
	return w[n-1].Close <= w[n-2].Open
}

func (BelowPrevOpenSell) Reason(w []model.Candle) string {
	n := len(w)
	return fmt.Sprintf("SELL: close %.2f <= prev open %.2f", w[n-1].Close, w[n-2].Open)
}

// BreakoutBuy fires when the previous bar is bearish, the current bar is
// bullish, and the current high breaks the previous high.
type BreakoutBuy struct{}

func (BreakoutBuy) Name() string { return "breakout_prev_bear_high" }

func (BreakoutBuy) Eval(w []model.Candle) bool {
	n := len(w)
	if n < 2 {
		return false
	}
	prev, last := w[n-2], w[n-1]
	return prev.Bearish() && last.Bullish() && last.High > prev.High
}

func (BreakoutBuy) Reason(w []model.Candle) string {
	n := len(w)
	return fmt.Sprintf("BUY: bull breaks prev bear high %.2f (high %.2f)", w[n-2].High, w[n-1].High)
}
