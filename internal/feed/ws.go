// Package feed streams closed candles from an upstream websocket publisher
// into the MACD calculator and the Redis candle store. It is the single
// writer driving the indicator cache.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"exitpro-engine/internal/macd"
	"exitpro-engine/internal/metrics"
	"exitpro-engine/internal/model"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Sink receives every accepted candle and every computed MACD point.
// The Redis store satisfies this; a nil Sink disables mirroring.
type Sink interface {
	PushCandle(ctx context.Context, c model.Candle) error
	MirrorPoint(ctx context.Context, symbol, tf string, pt model.IndicatorPoint) error
}

// Config holds websocket feed settings.
type Config struct {
	URL     string
	Symbols []string
	TFs     []string // timeframes to subscribe, e.g. ["5m", "30m"]

	// WarmupBars is how much history to backfill when a series has no state
	// yet. Must be at least the slow MACD period.
	WarmupBars int
}

// Ingest connects to the upstream candle stream and applies each closed
// candle incrementally, reseeding a series from the bar source when it has
// no state yet (fresh start or explicit reset).
type Ingest struct {
	cfg  Config
	calc *macd.Calculator
	bars model.BarSource // backfill source for reseeding
	sink Sink
	m    *metrics.Metrics
	log  *slog.Logger
}

// New creates an Ingest. bars may be nil to disable reseeding; m may be nil.
func New(cfg Config, calc *macd.Calculator, bars model.BarSource, sink Sink, m *metrics.Metrics) *Ingest {
	if cfg.WarmupBars < calc.Params().Slow {
		cfg.WarmupBars = 4 * calc.Params().Slow
	}
	return &Ingest{
		cfg:  cfg,
		calc: calc,
		bars: bars,
		sink: sink,
		m:    m,
		log:  slog.Default().With(slog.String("component", "feed")),
	}
}

type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
	TFs     []string `json:"tfs"`
}

// Run connects and consumes candles until ctx is cancelled, reconnecting
// with exponential backoff on any transport failure.
func (ing *Ingest) Run(ctx context.Context) {
	wait := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := ing.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		ing.log.Warn("feed disconnected", slog.Any("err", err), slog.Duration("retry_in", wait))
		if ing.m != nil {
			ing.m.FeedReconnects.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

func (ing *Ingest) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed dial %s: %w", ing.cfg.URL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeMsg{Op: "subscribe", Symbols: ing.cfg.Symbols, TFs: ing.cfg.TFs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed subscribe: %w", err)
	}
	ing.log.Info("feed connected",
		slog.String("url", ing.cfg.URL),
		slog.Int("symbols", len(ing.cfg.Symbols)))

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read: %w", err)
		}

		var c model.Candle
		if err := json.Unmarshal(msg, &c); err != nil {
			ing.log.Warn("malformed candle", slog.Any("err", err))
			if ing.m != nil {
				ing.m.FeedDropped.Inc()
			}
			continue
		}
		c.Symbol = model.NormalizeSymbol(c.Symbol)
		c.TF = model.NormalizeTF(c.TF)
		if ing.m != nil {
			ing.m.FeedCandles.Inc()
		}

		ing.apply(ctx, c)
	}
}

// apply routes one closed candle: persist, then extend the MACD series.
func (ing *Ingest) apply(ctx context.Context, c model.Candle) {
	if ing.sink != nil {
		if err := ing.sink.PushCandle(ctx, c); err != nil {
			ing.log.Warn("candle store write failed", slog.String("symbol", c.Symbol), slog.Any("err", err))
		}
	}

	pt, err := ing.calc.AppendOne(c.Symbol, c.TF, c)
	switch {
	case err == nil:
		if ing.m != nil {
			ing.m.MACDAppends.Inc()
		}
	case errors.Is(err, macd.ErrOutOfOrder):
		// Late or duplicate bar: dropped, never fatal.
		ing.log.Debug("out-of-order candle dropped",
			slog.String("symbol", c.Symbol), slog.Time("ts", c.TS))
		if ing.m != nil {
			ing.m.MACDOutOfOrder.Inc()
		}
		return
	case errors.Is(err, macd.ErrSeriesNotComputed):
		pt, err = ing.reseed(ctx, c)
		if err != nil {
			ing.log.Warn("series reseed failed", slog.String("symbol", c.Symbol), slog.Any("err", err))
			return
		}
	default:
		ing.log.Warn("append failed", slog.String("symbol", c.Symbol), slog.Any("err", err))
		return
	}

	if ing.sink != nil {
		if err := ing.sink.MirrorPoint(ctx, c.Symbol, c.TF, pt); err != nil {
			ing.log.Warn("point mirror failed", slog.String("symbol", c.Symbol), slog.Any("err", err))
		}
	}
}

// reseed performs a full recomputation from backfilled history, then folds
// in the triggering candle if the backfill didn't already include it.
func (ing *Ingest) reseed(ctx context.Context, c model.Candle) (model.IndicatorPoint, error) {
	if ing.bars == nil {
		return model.IndicatorPoint{}, fmt.Errorf("no backfill source for %s %s", c.Symbol, c.TF)
	}

	history, err := ing.bars.Bars(ctx, c.Symbol, c.TF, ing.cfg.WarmupBars)
	if err != nil {
		return model.IndicatorPoint{}, fmt.Errorf("backfill: %w", err)
	}

	pts, err := ing.calc.ComputeFull(c.Symbol, c.TF, history)
	if err != nil {
		return model.IndicatorPoint{}, fmt.Errorf("compute full: %w", err)
	}
	if ing.m != nil {
		ing.m.MACDFullComputes.Inc()
	}
	ing.log.Info("series reseeded",
		slog.String("symbol", c.Symbol),
		slog.String("tf", c.TF),
		slog.Int("points", len(pts)))

	if last, ok := ing.calc.LastTS(c.Symbol, c.TF); ok && c.TS.After(last) {
		return ing.calc.AppendOne(c.Symbol, c.TF, c)
	}
	return pts[len(pts)-1], nil
}
