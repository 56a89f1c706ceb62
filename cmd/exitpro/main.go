package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"exitpro-engine/config"
	"exitpro-engine/internal/execution"
	"exitpro-engine/internal/feed"
	"exitpro-engine/internal/ledger"
	"exitpro-engine/internal/logger"
	"exitpro-engine/internal/macd"
	"exitpro-engine/internal/markethours"
	"exitpro-engine/internal/metrics"
	"exitpro-engine/internal/model"
	"exitpro-engine/internal/monitor"
	"exitpro-engine/internal/notification"
	"exitpro-engine/internal/recorder"
	redisstore "exitpro-engine/internal/store/redis"
	sqlitestore "exitpro-engine/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[exitpro] starting...")

	// ---- Load config from env ----
	cfg := config.Load()
	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatalf("[exitpro] no symbols configured")
	}
	log.Printf("[exitpro] monitoring %d symbols on %s (filter %s)", len(symbols), cfg.TF, cfg.SecondaryTF)

	slogger := logger.Init("exitpro", slog.LevelInfo)

	// ---- Setup metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Data dirs ----
	for _, p := range []string{cfg.SQLitePath, cfg.LedgerPath} {
		os.MkdirAll(filepath.Dir(p), 0o755)
	}
	os.MkdirAll(cfg.ResultsDir, 0o755)

	// ---- Redis candle/indicator store ----
	store, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[exitpro] redis init failed: %v", err)
	}
	defer store.Close()
	health.Set("redis", true)
	log.Println("[exitpro] redis store ready")

	// ---- SQLite fill journal ----
	journal, err := sqlitestore.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[exitpro] sqlite init failed: %v", err)
	}
	defer journal.Close()
	health.Set("sqlite", true)
	log.Println("[exitpro] fill journal ready")

	// ---- Position ledger ----
	book, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("[exitpro] ledger open failed: %v", err)
	}
	log.Printf("[exitpro] ledger loaded, realized so far %.0f KRW", book.RealizedPnL())

	// ---- Results recorder ----
	rec, err := recorder.NewDaily(cfg.ResultsDir, markethours.KST)
	if err != nil {
		log.Fatalf("[exitpro] recorder init failed: %v", err)
	}

	// ---- MACD pipeline ----
	cache := macd.NewCache(macd.DefaultMaxPoints)
	calc := macd.NewCalculator(macd.Params{
		Fast:   cfg.MACDFast,
		Slow:   cfg.MACDSlow,
		Signal: cfg.MACDSignal,
	}, cache)

	// ---- Candle feed ----
	ingest := feed.New(feed.Config{
		URL:     cfg.FeedWSURL,
		Symbols: symbols,
		TFs:     []string{cfg.TF, cfg.SecondaryTF},
	}, calc, store, store, prom)
	go ingest.Run(ctx)
	health.Set("feed", true)

	// ---- Notifications ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[exitpro] webhook notifier enabled")
	}

	// ---- Paper execution ----
	signalCh := make(chan model.TradeSignal, 64)
	exec := execution.New(execution.Config{
		OrderQty:    cfg.OrderQty,
		SlippageBps: cfg.SlippageBps,
		Fee:         cfg.Fee,
		AutoBuy:     cfg.AutoBuy,
		AutoSell:    cfg.AutoSell,
	}, book, journal, signalCh, prom, execution.WithNotifier(notifier))
	go exec.Run(ctx)

	// ---- Signal monitor ----
	mon := monitor.New(monitor.Config{
		Symbols:        symbols,
		TF:             cfg.TF,
		SecondaryTF:    cfg.SecondaryTF,
		BarCount:       cfg.BarCount,
		PollInterval:   time.Duration(cfg.PollIntervalSeconds) * time.Second,
		WindowOpenSec:  cfg.WindowOpenSeconds,
		WindowCloseSec: cfg.WindowCloseSeconds,
		UseMACDFilter:  cfg.UseMACDFilter,
		Freshness:      time.Duration(cfg.FreshnessSeconds) * time.Second,
		MasterEnable:   cfg.MasterEnable,
		AutoBuy:        cfg.AutoBuy,
		AutoSell:       cfg.AutoSell,
		SessionGate:    true,
		DedupRetention: time.Duration(cfg.DedupRetentionDays) * 24 * time.Hour,
	}, store, store, rec, func(sig model.TradeSignal) {
		select {
		case signalCh <- sig:
		default:
			slogger.Warn("signal channel full, dropping", slog.String("symbol", sig.Symbol))
		}
		if err := notifier.Send(ctx, notification.SignalAlert(sig)); err != nil {
			slogger.Warn("alert delivery failed", slog.Any("err", err))
		}
	}, monitor.WithMetrics(prom))

	monDone := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(monDone)
	}()
	log.Printf("[exitpro] monitor running, market %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[exitpro] shutdown signal received")
	cancel()

	select {
	case <-monDone:
	case <-time.After(5 * time.Second):
		log.Println("[exitpro] monitor stop timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Printf("[exitpro] stopped, realized P&L %.0f KRW", book.RealizedPnL())
}
