// Package config loads all engine configuration from environment variables,
// with a .env file autoloaded when present.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"exitpro-engine/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Universe
	Symbols     string // comma-separated KRX codes, e.g. "005930,000660"
	TF          string // primary timeframe
	SecondaryTF string // MACD filter timeframe

	// MACD periods
	MACDFast   int
	MACDSlow   int
	MACDSignal int

	// Monitor
	PollIntervalSeconds int
	WindowOpenSeconds   int
	WindowCloseSeconds  int
	BarCount            int
	UseMACDFilter       bool
	FreshnessSeconds    int
	DedupRetentionDays  int

	// Trading gates
	MasterEnable bool
	AutoBuy      bool
	AutoSell     bool

	// Execution
	OrderQty    int64
	SlippageBps float64
	Fee         float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	LedgerPath    string
	ResultsDir    string
	MetricsAddr   string
	FeedWSURL     string
	WebhookURL    string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		Symbols:     mustEnv("SYMBOLS"),
		TF:          getEnv("TF", "5m"),
		SecondaryTF: getEnv("SECONDARY_TF", "30m"),

		MACDFast:   getEnvInt("MACD_FAST", 12),
		MACDSlow:   getEnvInt("MACD_SLOW", 26),
		MACDSignal: getEnvInt("MACD_SIGNAL", 9),

		PollIntervalSeconds: getEnvInt("POLL_INTERVAL_SECONDS", 20),
		WindowOpenSeconds:   getEnvInt("WINDOW_OPEN_SECONDS", 5),
		WindowCloseSeconds:  getEnvInt("WINDOW_CLOSE_SECONDS", 30),
		BarCount:            getEnvInt("BAR_COUNT", 10),
		UseMACDFilter:       getEnvBool("USE_MACD_FILTER", true),
		FreshnessSeconds:    getEnvInt("INDICATOR_FRESHNESS_SECONDS", 1800),
		DedupRetentionDays:  getEnvInt("DEDUP_RETENTION_DAYS", 3),

		MasterEnable: getEnvBool("MASTER_ENABLE", false),
		AutoBuy:      getEnvBool("AUTO_BUY", false),
		AutoSell:     getEnvBool("AUTO_SELL", false),

		OrderQty:    int64(getEnvInt("ORDER_QTY", 1)),
		SlippageBps: getEnvFloat("SLIPPAGE_BPS", 0),
		Fee:         getEnvFloat("FEE", 0),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/fills.db"),
		LedgerPath:    getEnv("LEDGER_PATH", "data/positions.json"),
		ResultsDir:    getEnv("RESULTS_DIR", "data/results"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		FeedWSURL:     getEnv("FEED_WS_URL", "ws://localhost:8090/stream"),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits and normalizes the comma-separated symbol list,
// dropping empty entries.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		syms = append(syms, model.NormalizeSymbol(p))
	}
	return syms
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
