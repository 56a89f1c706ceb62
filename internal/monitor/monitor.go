// Package monitor runs the time-gated polling loop that evaluates entry/exit
// rules at bar close, filters on secondary-timeframe MACD freshness,
// deduplicates signals per trigger key, and emits them downstream.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"exitpro-engine/internal/logger"
	"exitpro-engine/internal/markethours"
	"exitpro-engine/internal/metrics"
	"exitpro-engine/internal/model"
)

// State is the monitor's current phase, for introspection and health.
type State int32

const (
	StateIdle State = iota
	StateWaitingForWindow
	StateEvaluating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitingForWindow:
		return "WAITING_FOR_WINDOW"
	case StateEvaluating:
		return "EVALUATING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Config holds monitor tuning. Zero values are filled with defaults by New.
type Config struct {
	Symbols        []string
	TF             string // primary timeframe, e.g. "5m"
	SecondaryTF    string // MACD filter timeframe, e.g. "30m"
	BarCount       int    // bars fetched per evaluation
	PollInterval   time.Duration
	WindowOpenSec  int // seconds-within-minute window start
	WindowCloseSec int // seconds-within-minute window end

	UseMACDFilter bool
	Freshness     time.Duration // max age of the filter point

	MasterEnable bool
	AutoBuy      bool
	AutoSell     bool

	// SessionGate skips evaluation outside KRX trading hours.
	SessionGate    bool
	DedupRetention time.Duration
	Location       *time.Location
}

func (c *Config) applyDefaults() {
	if c.TF == "" {
		c.TF = "5m"
	}
	c.TF = model.NormalizeTF(c.TF)
	if c.SecondaryTF == "" {
		c.SecondaryTF = "30m"
	}
	c.SecondaryTF = model.NormalizeTF(c.SecondaryTF)
	if c.BarCount <= 0 {
		c.BarCount = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Second
	}
	if c.WindowCloseSec == 0 {
		c.WindowOpenSec, c.WindowCloseSec = 5, 30
	}
	if c.Freshness <= 0 {
		c.Freshness = 30 * time.Minute
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = 3 * 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = markethours.KST
	}
	norm := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		norm[i] = model.NormalizeSymbol(s)
	}
	c.Symbols = norm
}

// Monitor drives the rule-evaluation loop.
type Monitor struct {
	cfg      Config
	bars     model.BarSource
	feed     model.IndicatorFeed
	recorder model.Recorder
	onSignal func(model.TradeSignal)

	sellRule Rule
	buyRule  Rule

	dedup *dedupSet
	state atomic.Int32
	m     *metrics.Metrics
	log   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithRules replaces the default sell/buy rules.
func WithRules(sell, buy Rule) Option {
	return func(mo *Monitor) {
		mo.sellRule = sell
		mo.buyRule = buy
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mo *Monitor) { mo.m = m }
}

// WithClock replaces the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(mo *Monitor) { mo.now = now }
}

// New creates a Monitor. onSignal may be nil; recorder may be nil.
func New(cfg Config, bars model.BarSource, feed model.IndicatorFeed,
	recorder model.Recorder, onSignal func(model.TradeSignal), opts ...Option) *Monitor {

	cfg.applyDefaults()
	mo := &Monitor{
		cfg:      cfg,
		bars:     bars,
		feed:     feed,
		recorder: recorder,
		onSignal: onSignal,
		sellRule: BelowPrevOpenSell{},
		buyRule:  BreakoutBuy{},
		dedup:    newDedupSet(),
		log:      slog.Default().With(slog.String("component", "monitor")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(mo)
	}
	return mo
}

// State returns the monitor's current phase.
func (mo *Monitor) State() State {
	return State(mo.state.Load())
}

// SetSymbols replaces the monitored symbol set. Not safe to call while Run
// is active; intended for drivers that call Tick directly.
func (mo *Monitor) SetSymbols(symbols []string) {
	norm := make([]string, len(symbols))
	for i, s := range symbols {
		norm[i] = model.NormalizeSymbol(s)
	}
	mo.cfg.Symbols = norm
}

// Run polls on the configured cadence and evaluates all symbols whenever the
// wake-up lands inside the bar-close window. Blocks until ctx is cancelled;
// any in-flight per-symbol evaluation completes before Run returns.
func (mo *Monitor) Run(ctx context.Context) {
	mo.log.Info("monitor started",
		slog.Any("symbols", mo.cfg.Symbols),
		slog.String("tf", mo.cfg.TF),
		slog.Bool("macd_filter", mo.cfg.UseMACDFilter),
		slog.Duration("poll_interval", mo.cfg.PollInterval))

	ticker := time.NewTicker(mo.cfg.PollInterval)
	defer ticker.Stop()

	mo.state.Store(int32(StateIdle))
	for {
		select {
		case <-ctx.Done():
			mo.state.Store(int32(StateStopped))
			mo.log.Info("monitor stopped")
			return
		case <-ticker.C:
			mo.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle against the current clock. Exposed so the replay
// runner can drive the monitor without the wall-clock ticker.
func (mo *Monitor) Tick(ctx context.Context) {
	if mo.m != nil {
		mo.m.PollCycles.Inc()
	}
	now := mo.now().In(mo.cfg.Location)

	if mo.cfg.SessionGate && !markethours.IsMarketOpen(now) {
		mo.state.Store(int32(StateIdle))
		return
	}
	if !InCloseWindow(now, model.TFDuration(mo.cfg.TF), mo.cfg.WindowOpenSec, mo.cfg.WindowCloseSec) {
		mo.state.Store(int32(StateWaitingForWindow))
		return
	}

	mo.state.Store(int32(StateEvaluating))
	if mo.m != nil {
		mo.m.WindowsEntered.Inc()
	}
	mo.evaluateAll(ctx, now)
	mo.dedup.Prune(now.Add(-mo.cfg.DedupRetention))
	mo.state.Store(int32(StateIdle))
}

// evaluateAll fans evaluation out across symbols. Symbols are independent:
// one failure never aborts the others, and all goroutines are joined before
// returning so cancellation leaves nothing dangling.
func (mo *Monitor) evaluateAll(ctx context.Context, now time.Time) {
	var wg sync.WaitGroup
	for _, sym := range mo.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			mo.evaluateSymbol(ctx, symbol, now)
		}(sym)
	}
	wg.Wait()
}

func (mo *Monitor) evaluateSymbol(ctx context.Context, symbol string, now time.Time) {
	start := time.Now()
	defer func() {
		if mo.m != nil {
			mo.m.EvalDuration.Observe(time.Since(start).Seconds())
		}
	}()
	if mo.m != nil {
		mo.m.Evaluations.WithLabelValues(symbol).Inc()
	}

	ctx = logger.WithTraceID(ctx, logger.EvalTraceID(symbol, now))
	log := mo.log.With(logger.Trace(ctx)...)

	window, err := mo.bars.Bars(ctx, symbol, mo.cfg.TF, mo.cfg.BarCount)
	if err != nil {
		log.Warn("bar fetch failed", slog.String("symbol", symbol), slog.Any("err", err))
		if mo.m != nil {
			mo.m.EvalErrors.WithLabelValues(symbol).Inc()
		}
		return
	}
	if len(window) < 2 {
		// Soft skip: not enough closed bars yet this cycle.
		if mo.m != nil {
			mo.m.SymbolsSkipped.Inc()
		}
		return
	}

	last := window[len(window)-1]
	refTS := last.TS

	if mo.cfg.UseMACDFilter && !mo.macdFilterPass(ctx, log, symbol, now) {
		if mo.m != nil {
			mo.m.SignalsFiltered.Inc()
		}
		return
	}

	if mo.cfg.MasterEnable && mo.cfg.AutoSell && mo.sellRule.Eval(window) {
		mo.emit(log, model.SideSell, symbol, refTS, last.Close, mo.sellRule.Reason(window))
	}
	if mo.cfg.MasterEnable && mo.cfg.AutoBuy && mo.buyRule.Eval(window) {
		mo.emit(log, model.SideBuy, symbol, refTS, last.Close, mo.buyRule.Reason(window))
	}
}

// macdFilterPass applies the secondary-timeframe MACD filter. Any ambiguity
// (transport error, missing point, stale point) blocks emission; only a
// fresh point with a non-negative histogram passes.
func (mo *Monitor) macdFilterPass(ctx context.Context, log *slog.Logger, symbol string, now time.Time) bool {
	pt, ok, err := mo.feed.LatestPoint(ctx, symbol, mo.cfg.SecondaryTF)
	if err != nil {
		log.Warn("macd feed error", slog.String("symbol", symbol), slog.Any("err", err))
		return false
	}
	if !ok {
		log.Debug("macd filter not ready", slog.String("symbol", symbol))
		return false
	}
	age := now.Sub(pt.TS)
	if age > mo.cfg.Freshness {
		log.Debug("macd point too old",
			slog.String("symbol", symbol),
			slog.Duration("age", age),
			slog.Duration("max", mo.cfg.Freshness))
		return false
	}
	return pt.Hist >= 0
}

func (mo *Monitor) emit(log *slog.Logger, side model.Side, symbol string, ts time.Time, price float64, reason string) {
	sig := model.TradeSignal{Symbol: symbol, Side: side, TS: ts, Price: price, Reason: reason}

	if !mo.dedup.Mark(sig.Key(), ts) {
		if mo.m != nil {
			mo.m.SignalsDeduped.Inc()
		}
		return
	}

	log.Info("signal",
		slog.String("side", string(side)),
		slog.String("symbol", symbol),
		slog.Float64("price", price),
		slog.Time("bar_ts", ts),
		slog.String("reason", reason))

	if mo.onSignal != nil {
		mo.onSignal(sig)
	}
	if mo.recorder != nil {
		if err := mo.recorder.Record(sig, "emitted"); err != nil {
			log.Error("record failed", slog.String("symbol", symbol), slog.Any("err", err))
		}
	}
	if mo.m != nil {
		mo.m.SignalsEmitted.WithLabelValues(string(side)).Inc()
	}
}
