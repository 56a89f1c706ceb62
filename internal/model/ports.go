package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the monitor and executor from concrete
// collaborators (Redis stores, websocket feeds, JSONL recorders). Each
// implementation satisfies one or more of these interfaces.

// BarSource supplies recent candles for a symbol/timeframe.
type BarSource interface {
	// Bars returns up to count most recent candles, ascending by TS.
	// "No data" is an empty slice, not an error; errors are transport-level only.
	Bars(ctx context.Context, symbol, tf string, count int) ([]Candle, error)
}

// IndicatorFeed supplies the latest MACD point for a symbol/timeframe.
type IndicatorFeed interface {
	// LatestPoint returns the most recent point and true, or ok=false if the
	// series has never been computed.
	LatestPoint(ctx context.Context, symbol, tf string) (IndicatorPoint, bool, error)
}

// Recorder durably records emitted signals. Record must tolerate repeated
// calls for the same TriggerKey without producing duplicate entries.
type Recorder interface {
	Record(sig TradeSignal, outcome string) error
}

// FillJournal records executed fills for audit.
type FillJournal interface {
	RecordFill(fill Fill) error
}
