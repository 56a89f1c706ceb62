// Package metrics exposes Prometheus instrumentation and a /metrics + /healthz
// HTTP server for the signal engine.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Monitor loop
	PollCycles     prometheus.Counter
	WindowsEntered prometheus.Counter
	Evaluations    *prometheus.CounterVec // labels: symbol
	EvalDuration   prometheus.Histogram
	EvalErrors     *prometheus.CounterVec // labels: symbol
	SymbolsSkipped prometheus.Counter

	// Signals
	SignalsEmitted  *prometheus.CounterVec // labels: side
	SignalsDeduped  prometheus.Counter
	SignalsFiltered prometheus.Counter // suppressed by MACD filter (stale/negative/missing)

	// Indicator pipeline
	MACDAppends      prometheus.Counter
	MACDOutOfOrder   prometheus.Counter
	MACDFullComputes prometheus.Counter

	// Feed
	FeedCandles    prometheus.Counter
	FeedReconnects prometheus.Counter
	FeedDropped    prometheus.Counter

	// Execution / ledger
	FillsApplied *prometheus.CounterVec // labels: side
	LedgerErrors prometheus.Counter
	RealizedPnL  prometheus.Gauge
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_poll_cycles_total",
			Help: "Total monitor poll wake-ups",
		}),
		WindowsEntered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_windows_entered_total",
			Help: "Poll cycles that fell inside a bar-close evaluation window",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitpro_evaluations_total",
			Help: "Per-symbol rule evaluations",
		}, []string{"symbol"}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitpro_evaluation_duration_seconds",
			Help:    "Per-symbol evaluation latency (bar fetch + rules)",
			Buckets: prometheus.DefBuckets,
		}),
		EvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitpro_evaluation_errors_total",
			Help: "Per-symbol evaluation failures (bar source, malformed data)",
		}, []string{"symbol"}),
		SymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_symbols_skipped_total",
			Help: "Symbol evaluations skipped this cycle (no data, <2 bars)",
		}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitpro_signals_emitted_total",
			Help: "Trade signals delivered to the callback",
		}, []string{"side"}),
		SignalsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_signals_deduped_total",
			Help: "Signals suppressed because the trigger key already fired",
		}),
		SignalsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_signals_filtered_total",
			Help: "Evaluations suppressed by the secondary MACD filter",
		}),
		MACDAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_macd_appends_total",
			Help: "Incremental MACD points appended",
		}),
		MACDOutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_macd_out_of_order_total",
			Help: "Candles rejected by the monotonic timestamp guard",
		}),
		MACDFullComputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_macd_full_computes_total",
			Help: "Full MACD series recomputations",
		}),
		FeedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_feed_candles_total",
			Help: "Candles received from the upstream websocket feed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_feed_reconnects_total",
			Help: "Websocket feed reconnection attempts",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_feed_dropped_total",
			Help: "Feed candles dropped (malformed or channel full)",
		}),
		FillsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitpro_fills_applied_total",
			Help: "Fills applied to the position ledger",
		}, []string{"side"}),
		LedgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitpro_ledger_errors_total",
			Help: "Ledger fill rejections (invalid qty, insufficient position)",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitpro_realized_pnl",
			Help: "Cumulative realized P&L in KRW",
		}),
	}

	prometheus.MustRegister(
		m.PollCycles,
		m.WindowsEntered,
		m.Evaluations,
		m.EvalDuration,
		m.EvalErrors,
		m.SymbolsSkipped,
		m.SignalsEmitted,
		m.SignalsDeduped,
		m.SignalsFiltered,
		m.MACDAppends,
		m.MACDOutOfOrder,
		m.MACDFullComputes,
		m.FeedCandles,
		m.FeedReconnects,
		m.FeedDropped,
		m.FillsApplied,
		m.LedgerErrors,
		m.RealizedPnL,
	)

	return m
}

// HealthStatus tracks per-component health for the /healthz endpoint.
type HealthStatus struct {
	mu         sync.RWMutex
	components map[string]bool
	startedAt  time.Time
}

// NewHealthStatus creates an empty health tracker.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		components: make(map[string]bool),
		startedAt:  time.Now(),
	}
}

// Set marks a component healthy or unhealthy.
func (h *HealthStatus) Set(component string, healthy bool) {
	h.mu.Lock()
	h.components[component] = healthy
	h.mu.Unlock()
}

// Healthy reports true when every registered component is healthy.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.components {
		if !ok {
			return false
		}
	}
	return true
}

// ServeHTTP renders a JSON health summary; 503 if any component is down.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	status := struct {
		Status     string          `json:"status"`
		UptimeSec  int64           `json:"uptime_sec"`
		Components map[string]bool `json:"components"`
	}{
		Status:     "ok",
		UptimeSec:  int64(time.Since(h.startedAt).Seconds()),
		Components: make(map[string]bool, len(h.components)),
	}
	healthy := true
	for k, v := range h.components {
		status.Components[k] = v
		if !v {
			healthy = false
		}
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		status.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
