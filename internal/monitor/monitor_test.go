package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"exitpro-engine/internal/logger"
	"exitpro-engine/internal/model"
)

type fakeBars struct {
	mu    sync.Mutex
	bars  map[string][]model.Candle
	errs  map[string]error
	calls int
}

func (f *fakeBars) Bars(_ context.Context, symbol, _ string, _ int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

type fakeFeed struct {
	pt  model.IndicatorPoint
	ok  bool
	err error
}

func (f *fakeFeed) LatestPoint(_ context.Context, _, _ string) (model.IndicatorPoint, bool, error) {
	return f.pt, f.ok, f.err
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []model.TradeSignal
}

func (c *captureRecorder) Record(sig model.TradeSignal, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, sig)
	return nil
}

// inWindow is a clock pinned inside the 5m bar-close window.
var inWindow = time.Date(2026, 3, 2, 10, 10, 12, 0, kst)

// sellWindow is a two-bar window where only the SELL rule fires.
func sellWindow() []model.Candle {
	return []model.Candle{bar(0, 100, 101, 94, 95), bar(5, 95, 96, 89, 90)}
}

// bothWindow fires SELL (95 <= 100) and BUY (bear→bull, 108 > 105) together.
func bothWindow() []model.Candle {
	return []model.Candle{bar(0, 100, 105, 92, 93), bar(5, 94, 108, 93, 95)}
}

func newTestMonitor(t *testing.T, cfg Config, bars model.BarSource, feed model.IndicatorFeed) (*Monitor, *captureRecorder, *[]model.TradeSignal) {
	t.Helper()
	rec := &captureRecorder{}
	var emitted []model.TradeSignal
	var mu sync.Mutex
	mon := New(cfg, bars, feed, rec, func(sig model.TradeSignal) {
		mu.Lock()
		emitted = append(emitted, sig)
		mu.Unlock()
	}, WithClock(func() time.Time { return inWindow }))
	return mon, rec, &emitted
}

func baseConfig(symbols ...string) Config {
	return Config{
		Symbols:      symbols,
		TF:           "5m",
		MasterEnable: true,
		AutoBuy:      true,
		AutoSell:     true,
	}
}

func TestMonitor_EmitsOncePerTriggerKey(t *testing.T) {
	bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()}}
	mon, rec, emitted := newTestMonitor(t, baseConfig("005930"), bars, &fakeFeed{})

	// Same bar evaluated across several poll cycles: exactly one delivery.
	for i := 0; i < 4; i++ {
		mon.Tick(context.Background())
	}

	if len(*emitted) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(*emitted))
	}
	got := (*emitted)[0]
	if got.Side != model.SideSell || got.Symbol != "005930" || got.Price != 90 {
		t.Errorf("unexpected signal: %+v", got)
	}
	if len(rec.recs) != 1 {
		t.Errorf("recorder got %d records, want 1", len(rec.recs))
	}
}

func TestMonitor_BuyAndSellMayFireSameCycle(t *testing.T) {
	bars := &fakeBars{bars: map[string][]model.Candle{"005930": bothWindow()}}
	mon, _, emitted := newTestMonitor(t, baseConfig("005930"), bars, &fakeFeed{})

	mon.Tick(context.Background())

	if len(*emitted) != 2 {
		t.Fatalf("expected BUY and SELL, got %d signals", len(*emitted))
	}
	sides := map[model.Side]bool{}
	for _, s := range *emitted {
		sides[s.Side] = true
	}
	if !sides[model.SideBuy] || !sides[model.SideSell] {
		t.Errorf("expected both sides, got %v", sides)
	}
}

func TestMonitor_OutsideWindowNoEvaluation(t *testing.T) {
	bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()}}
	rec := &captureRecorder{}
	outside := time.Date(2026, 3, 2, 10, 12, 12, 0, kst) // minute 12: unaligned
	mon := New(baseConfig("005930"), bars, &fakeFeed{}, rec, nil,
		WithClock(func() time.Time { return outside }))

	mon.Tick(context.Background())

	if bars.calls != 0 {
		t.Errorf("expected no bar fetches outside window, got %d", bars.calls)
	}
	if mon.State() != StateWaitingForWindow {
		t.Errorf("state = %s, want WAITING_FOR_WINDOW", mon.State())
	}
}

func TestMonitor_ErrorIsolationAcrossSymbols(t *testing.T) {
	bars := &fakeBars{
		bars: map[string][]model.Candle{"000660": sellWindow()},
		errs: map[string]error{"005930": errors.New("transport down")},
	}
	mon, _, emitted := newTestMonitor(t, baseConfig("005930", "000660"), bars, &fakeFeed{})

	mon.Tick(context.Background())

	if len(*emitted) != 1 {
		t.Fatalf("healthy symbol should still emit, got %d signals", len(*emitted))
	}
	if (*emitted)[0].Symbol != "000660" {
		t.Errorf("signal from wrong symbol: %+v", (*emitted)[0])
	}
}

func TestMonitor_ShortWindowSoftSkip(t *testing.T) {
	bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()[:1]}}
	mon, _, emitted := newTestMonitor(t, baseConfig("005930"), bars, &fakeFeed{})

	mon.Tick(context.Background())

	if len(*emitted) != 0 {
		t.Fatalf("single-bar fetch must be a soft skip, got %d signals", len(*emitted))
	}
}

func TestMonitor_MACDFilter(t *testing.T) {
	freshTS := inWindow.Add(-10 * time.Minute)
	staleTS := inWindow.Add(-2 * time.Hour)

	cases := []struct {
		name string
		feed *fakeFeed
		want int
	}{
		{"fresh positive hist passes", &fakeFeed{pt: model.IndicatorPoint{TS: freshTS, Hist: 1.5}, ok: true}, 1},
		{"fresh zero hist passes", &fakeFeed{pt: model.IndicatorPoint{TS: freshTS, Hist: 0}, ok: true}, 1},
		{"fresh negative hist blocks", &fakeFeed{pt: model.IndicatorPoint{TS: freshTS, Hist: -0.1}, ok: true}, 0},
		{"stale point blocks even with positive hist", &fakeFeed{pt: model.IndicatorPoint{TS: staleTS, Hist: 5}, ok: true}, 0},
		{"missing point blocks", &fakeFeed{ok: false}, 0},
		{"feed error blocks", &fakeFeed{err: errors.New("redis down")}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig("005930")
			cfg.UseMACDFilter = true
			cfg.Freshness = 30 * time.Minute
			bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()}}
			mon, _, emitted := newTestMonitor(t, cfg, bars, tc.feed)

			mon.Tick(context.Background())

			if len(*emitted) != tc.want {
				t.Fatalf("got %d signals, want %d", len(*emitted), tc.want)
			}
		})
	}
}

func TestMonitor_EvaluationLogsCarryTraceID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()}}
	mon, _, emitted := newTestMonitor(t, baseConfig("005930"), bars, &fakeFeed{})

	mon.Tick(context.Background())

	if len(*emitted) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(*emitted))
	}
	want := logger.EvalTraceID("005930", inWindow)
	if !strings.Contains(buf.String(), `"trace_id":"`+want+`"`) {
		t.Errorf("signal log missing trace id %q:\n%s", want, buf.String())
	}
}

func TestMonitor_GracefulStop(t *testing.T) {
	bars := &fakeBars{bars: map[string][]model.Candle{"005930": sellWindow()}}
	cfg := baseConfig("005930")
	cfg.PollInterval = 5 * time.Millisecond
	mon, _, _ := newTestMonitor(t, cfg, bars, &fakeFeed{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
	if mon.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", mon.State())
	}
}
