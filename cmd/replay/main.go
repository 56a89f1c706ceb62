// Command replay feeds a JSONL candle file through the MACD pipeline and the
// signal monitor, simulating fills against a throwaway ledger. It reports the
// signals and realized P&L a live run over the same candles would produce.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"exitpro-engine/internal/execution"
	"exitpro-engine/internal/ledger"
	"exitpro-engine/internal/logger"
	"exitpro-engine/internal/macd"
	"exitpro-engine/internal/model"
	"exitpro-engine/internal/monitor"
)

// memBars is an in-memory BarSource filled as the replay advances, so the
// monitor only ever sees candles that had already closed.
type memBars struct {
	mu   sync.Mutex
	bars map[string][]model.Candle // key symbol|tf
}

func newMemBars() *memBars {
	return &memBars{bars: make(map[string][]model.Candle)}
}

func (m *memBars) add(c model.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := c.Symbol + "|" + c.TF
	m.bars[k] = append(m.bars[k], c)
}

func (m *memBars) Bars(ctx context.Context, symbol, tf string, count int) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.bars[symbol+"|"+tf]
	if len(all) > count {
		all = all[len(all)-count:]
	}
	out := make([]model.Candle, len(all))
	copy(out, all)
	return out, nil
}

// nullRecorder discards outcomes; replay reports to stdout instead.
type nullRecorder struct{}

func (nullRecorder) Record(sig model.TradeSignal, outcome string) error { return nil }

func main() {
	var (
		path     = flag.String("candles", "", "JSONL candle file, one candle per line, time-ordered")
		tf       = flag.String("tf", "5m", "primary timeframe to evaluate")
		orderQty = flag.Int64("qty", 1, "quantity per buy")
		fee      = flag.Float64("fee", 0, "flat fee per fill, KRW")
		useMACD  = flag.Bool("macd-filter", true, "apply the secondary-timeframe MACD filter")
	)
	flag.Parse()
	if *path == "" {
		log.Fatal("[replay] -candles is required")
	}

	logger.Init("replay", slog.LevelWarn)

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("[replay] open candles: %v", err)
	}
	defer f.Close()

	bars := newMemBars()
	cache := macd.NewCache(macd.DefaultMaxPoints)
	calc := macd.NewCalculator(macd.DefaultParams, cache)

	book, err := ledger.Open(tmpLedgerPath())
	if err != nil {
		log.Fatalf("[replay] ledger: %v", err)
	}

	ctx := context.Background()

	exec := execution.New(execution.Config{
		OrderQty: *orderQty,
		Fee:      *fee,
		AutoBuy:  true,
		AutoSell: true,
	}, book, nil, nil, nil)

	var (
		sigMu   sync.Mutex
		signals []model.TradeSignal
	)
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{}

	primaryTF := model.NormalizeTF(*tf)

	mon := monitor.New(monitor.Config{
		TF:            primaryTF,
		UseMACDFilter: *useMACD,
		MasterEnable:  true,
		AutoBuy:       true,
		AutoSell:      true,
		SessionGate:   false,
	}, bars, cache, nullRecorder{}, func(sig model.TradeSignal) {
		sigMu.Lock()
		defer sigMu.Unlock()
		signals = append(signals, sig)
		exec.Execute(ctx, sig)
	}, monitor.WithClock(func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	}))

	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c model.Candle
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Printf("[replay] line %d: skipping malformed candle: %v", line, err)
			continue
		}
		c.Symbol = model.NormalizeSymbol(c.Symbol)
		c.TF = model.NormalizeTF(c.TF)

		bars.add(c)
		applyIndicator(calc, bars, c)

		if c.TF != primaryTF {
			continue
		}
		seen[c.Symbol] = true

		// Candle TS is the bar close; wake the monitor just inside the
		// close window of the bar that just ended.
		clock.mu.Lock()
		clock.now = c.TS.Add(10 * time.Second)
		clock.mu.Unlock()

		monRun(ctx, mon, seen)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("[replay] read candles: %v", err)
	}

	fmt.Printf("replayed %d lines, %d signals\n", line, len(signals))
	for _, sig := range signals {
		fmt.Printf("  %s  %-4s %s @ %.0f  (%s)\n",
			sig.TS.Format("2006-01-02 15:04"), sig.Side, sig.Symbol, sig.Price, sig.Reason)
	}
	fmt.Printf("realized P&L: %.0f KRW\n", book.RealizedPnL())
	for sym, pos := range book.Positions() {
		if pos.Qty != 0 {
			fmt.Printf("open position: %s qty %d avg %.1f\n", sym, pos.Qty, pos.AvgPrice)
		}
	}
}

// applyIndicator extends the MACD series with c, reseeding from accumulated
// history the first time a series is touched.
func applyIndicator(calc *macd.Calculator, bars *memBars, c model.Candle) {
	_, err := calc.AppendOne(c.Symbol, c.TF, c)
	if err == nil || errors.Is(err, macd.ErrOutOfOrder) {
		return
	}
	history, _ := bars.Bars(context.Background(), c.Symbol, c.TF, 4*calc.Params().Slow)
	if _, err := calc.ComputeFull(c.Symbol, c.TF, history); err != nil {
		// Not enough candles yet for this series.
		return
	}
}

// monRun reconfigures the monitor's symbol set as new symbols appear in the
// file, then runs one evaluation pass.
func monRun(ctx context.Context, mon *monitor.Monitor, seen map[string]bool) {
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	mon.SetSymbols(symbols)
	mon.Tick(ctx)
}

func tmpLedgerPath() string {
	dir, err := os.MkdirTemp("", "replay-ledger-")
	if err != nil {
		log.Fatalf("[replay] temp dir: %v", err)
	}
	return dir + "/positions.json"
}
