// Package redis provides Redis-backed implementations of the BarSource and
// IndicatorFeed ports, plus the writer used by the ingest side. Candles live
// in per-(tf, symbol) lists trimmed to a fixed depth; the latest MACD point
// per series lives in a hash.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"exitpro-engine/internal/model"
)

const (
	// barsMaxLen bounds each candle list (~2 trading days of 5m bars).
	barsMaxLen = 200

	opTimeout = 5 * time.Second
)

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store implements model.BarSource and model.IndicatorFeed over Redis.
type Store struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

func barsKey(symbol, tf string) string {
	return "bars:" + model.NormalizeTF(tf) + ":" + model.NormalizeSymbol(symbol)
}

func macdKey(symbol, tf string) string {
	return "macd:" + model.NormalizeTF(tf) + ":" + model.NormalizeSymbol(symbol)
}

// PushCandle appends a candle to its series list and trims to barsMaxLen.
func (s *Store) PushCandle(ctx context.Context, c model.Candle) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := barsKey(c.Symbol, c.TF)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, string(c.JSON()))
	pipe.LTrim(ctx, key, -barsMaxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push candle %s: %w", key, err)
	}
	return nil
}

// Bars implements model.BarSource: up to count most recent candles,
// ascending by TS. Missing series yields an empty slice, not an error.
func (s *Store) Bars(ctx context.Context, symbol, tf string, count int) ([]model.Candle, error) {
	if count < 1 {
		count = 1
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, barsKey(symbol, tf), int64(-count), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", barsKey(symbol, tf), err)
	}

	out := make([]model.Candle, 0, len(raw))
	for _, item := range raw {
		var c model.Candle
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			// Damaged entry: skip rather than poison the whole window.
			log.Printf("[redis] skipping malformed candle in %s: %v", barsKey(symbol, tf), err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// MirrorPoint publishes the latest MACD point for (symbol, tf) so other
// processes (and the monitor's secondary-TF filter) can read it.
func (s *Store) MirrorPoint(ctx context.Context, symbol, tf string, pt model.IndicatorPoint) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := macdKey(symbol, tf)
	err := s.client.HSet(ctx, key, map[string]interface{}{
		"ts":     pt.TS.UnixNano(),
		"macd":   pt.MACD,
		"signal": pt.Signal,
		"hist":   pt.Hist,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

// LatestPoint implements model.IndicatorFeed. A missing hash is ok=false,
// not an error.
func (s *Store) LatestPoint(ctx context.Context, symbol, tf string) (model.IndicatorPoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := macdKey(symbol, tf)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return model.IndicatorPoint{}, false, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return model.IndicatorPoint{}, false, nil
	}

	pt, err := parsePoint(fields)
	if err != nil {
		return model.IndicatorPoint{}, false, fmt.Errorf("redis parse point %s: %w", key, err)
	}
	return pt, true, nil
}

func parsePoint(fields map[string]string) (model.IndicatorPoint, error) {
	var pt model.IndicatorPoint

	nanos, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return pt, fmt.Errorf("ts field: %w", err)
	}
	pt.TS = time.Unix(0, nanos)

	for name, dst := range map[string]*float64{
		"macd":   &pt.MACD,
		"signal": &pt.Signal,
		"hist":   &pt.Hist,
	} {
		v, err := strconv.ParseFloat(fields[name], 64)
		if err != nil {
			return pt, fmt.Errorf("%s field: %w", name, err)
		}
		*dst = v
	}
	return pt, nil
}
