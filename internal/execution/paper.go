// Package execution fills trade signals against the position ledger without
// touching a broker. Fills are simulated with configurable slippage and a
// flat fee, journaled to the fill store, and reflected in realized P&L.
package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"exitpro-engine/internal/ledger"
	"exitpro-engine/internal/metrics"
	"exitpro-engine/internal/model"
	"exitpro-engine/internal/notification"
)

// Config holds paper trading parameters.
type Config struct {
	// OrderQty is the quantity bought per BUY signal.
	OrderQty int64

	// SlippageBps shifts the fill price against the order in basis points.
	SlippageBps float64

	// Fee is the flat fee charged per fill, in KRW.
	Fee float64

	// AutoBuy and AutoSell gate each side independently.
	AutoBuy  bool
	AutoSell bool
}

// Paper consumes trade signals and applies simulated fills to the ledger.
type Paper struct {
	cfg      Config
	book     *ledger.Ledger
	journal  model.FillJournal
	m        *metrics.Metrics
	notifier notification.Notifier
	log      *slog.Logger

	signals <-chan model.TradeSignal
}

// Option configures optional executor collaborators.
type Option func(*Paper)

// WithNotifier sends a fill alert through n after every applied fill.
func WithNotifier(n notification.Notifier) Option {
	return func(p *Paper) { p.notifier = n }
}

// New creates a paper executor reading from signals. journal and m may be nil.
func New(cfg Config, book *ledger.Ledger, journal model.FillJournal, signals <-chan model.TradeSignal, m *metrics.Metrics, opts ...Option) *Paper {
	if cfg.OrderQty <= 0 {
		cfg.OrderQty = 1
	}
	p := &Paper{
		cfg:     cfg,
		book:    book,
		journal: journal,
		m:       m,
		log:     slog.Default().With(slog.String("component", "execution")),
		signals: signals,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains the signal channel until ctx is cancelled or the channel closes.
func (p *Paper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.Execute(ctx, sig)
		}
	}
}

// Execute applies one signal synchronously. Exported for the replay tool.
func (p *Paper) Execute(ctx context.Context, sig model.TradeSignal) {
	switch sig.Side {
	case model.SideBuy:
		if !p.cfg.AutoBuy {
			p.log.Info("buy suppressed", slog.String("symbol", sig.Symbol))
			return
		}
		p.buy(ctx, sig)
	case model.SideSell:
		if !p.cfg.AutoSell {
			p.log.Info("sell suppressed", slog.String("symbol", sig.Symbol))
			return
		}
		p.sell(ctx, sig)
	}
}

// fillPrice applies slippage against the order direction.
func (p *Paper) fillPrice(sig model.TradeSignal) float64 {
	adj := sig.Price * p.cfg.SlippageBps / 10000.0
	if sig.Side == model.SideBuy {
		return sig.Price + adj
	}
	return sig.Price - adj
}

func (p *Paper) buy(ctx context.Context, sig model.TradeSignal) {
	qty := p.cfg.OrderQty
	price := p.fillPrice(sig)

	if err := p.book.ReserveBuy(sig.Symbol, qty); err != nil {
		p.log.Warn("buy reservation failed", slog.String("symbol", sig.Symbol), slog.Any("err", err))
	}
	if err := p.book.ApplyBuyFill(sig.Symbol, qty, price, p.cfg.Fee); err != nil {
		_ = p.book.ReleaseBuy(sig.Symbol, qty)
		p.log.Error("buy fill rejected", slog.String("symbol", sig.Symbol), slog.Any("err", err))
		if p.m != nil {
			p.m.LedgerErrors.Inc()
		}
		return
	}
	p.record(ctx, sig, qty, price, 0)
}

func (p *Paper) sell(ctx context.Context, sig model.TradeSignal) {
	qty := p.book.Quantity(sig.Symbol)
	if qty <= 0 {
		p.log.Info("sell skipped, flat", slog.String("symbol", sig.Symbol))
		return
	}
	price := p.fillPrice(sig)

	if err := p.book.ReserveSell(sig.Symbol, qty); err != nil {
		p.log.Warn("sell reservation failed", slog.String("symbol", sig.Symbol), slog.Any("err", err))
	}
	realized, err := p.book.ApplySellFill(sig.Symbol, qty, price, p.cfg.Fee)
	if err != nil {
		_ = p.book.ReleaseSell(sig.Symbol, qty)
		p.log.Error("sell fill rejected", slog.String("symbol", sig.Symbol), slog.Any("err", err))
		if p.m != nil {
			p.m.LedgerErrors.Inc()
		}
		return
	}
	if p.m != nil {
		p.m.RealizedPnL.Add(realized)
	}
	p.record(ctx, sig, qty, price, realized)
}

func (p *Paper) record(ctx context.Context, sig model.TradeSignal, qty int64, price, realized float64) {
	fill := model.Fill{
		OrderID:  uuid.NewString(),
		Signal:   sig,
		FillQty:  qty,
		Price:    price,
		Fee:      p.cfg.Fee,
		Realized: realized,
		FilledAt: time.Now(),
	}
	if p.m != nil {
		p.m.FillsApplied.WithLabelValues(string(sig.Side)).Inc()
	}
	p.log.Info("fill applied",
		slog.String("order_id", fill.OrderID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.Int64("qty", qty),
		slog.Float64("price", price),
		slog.Float64("realized", realized))

	if p.notifier != nil {
		if err := p.notifier.Send(ctx, notification.FillAlert(fill)); err != nil {
			p.log.Warn("fill alert failed", slog.String("order_id", fill.OrderID), slog.Any("err", err))
		}
	}

	if p.journal == nil {
		return
	}
	if err := p.journal.RecordFill(fill); err != nil {
		p.log.Error("fill journal write failed", slog.String("order_id", fill.OrderID), slog.Any("err", err))
	}
}
