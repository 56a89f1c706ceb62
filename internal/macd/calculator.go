// Package macd computes MACD/signal/histogram series from candle closes,
// supporting full recomputation and O(1) incremental append, and caches the
// most recent points per (symbol, timeframe) for concurrent readers.
package macd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"exitpro-engine/internal/model"
)

var (
	// ErrInsufficientData means fewer candles than the slow period were supplied.
	ErrInsufficientData = errors.New("macd: insufficient candles to seed series")

	// ErrSeriesNotComputed means AppendOne was called before ComputeFull.
	ErrSeriesNotComputed = errors.New("macd: series not computed")

	// ErrOutOfOrder means a candle's timestamp is not after the last processed one.
	ErrOutOfOrder = errors.New("macd: out-of-order candle")
)

// Params holds the three MACD periods.
type Params struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultParams is the conventional 12/26/9 configuration.
var DefaultParams = Params{Fast: 12, Slow: 26, Signal: 9}

// seriesState is the per-(symbol, tf) EMA state. Owned exclusively by the
// Calculator; mutated only through ComputeFull/AppendOne. sigSum/sigCount
// track the signal EMA's SMA seed so an append continues the seed average
// exactly where a full recompute would.
type seriesState struct {
	emaFast   float64
	emaSlow   float64
	emaSignal float64
	sigSum    float64
	sigCount  int
	lastTS    time.Time
}

type seriesKey struct {
	Symbol string
	TF     string
}

// Calculator computes MACD series and maintains per-series EMA state so new
// candles update in O(1) instead of recomputing the whole series.
type Calculator struct {
	params     Params
	alphaFast  float64
	alphaSlow  float64
	alphaSig   float64

	mu     sync.Mutex
	states map[seriesKey]*seriesState

	cache *Cache
}

// NewCalculator creates a Calculator writing into cache.
func NewCalculator(p Params, cache *Cache) *Calculator {
	return &Calculator{
		params:    p,
		alphaFast: 2.0 / float64(p.Fast+1),
		alphaSlow: 2.0 / float64(p.Slow+1),
		alphaSig:  2.0 / float64(p.Signal+1),
		states:    make(map[seriesKey]*seriesState),
		cache:     cache,
	}
}

// Params returns the configured periods.
func (c *Calculator) Params() Params { return c.params }

// ComputeFull recomputes the MACD series over the entire candle sequence,
// replacing any existing state and cached series for (symbol, tf).
//
// EMAs are seeded with a simple average over the first period values, then
// smoothed recursively with alpha = 2/(period+1). One IndicatorPoint is
// produced per candle from the first index where the slow EMA is seeded.
func (c *Calculator) ComputeFull(symbol, tf string, candles []model.Candle) ([]model.IndicatorPoint, error) {
	symbol = model.NormalizeSymbol(symbol)
	tf = model.NormalizeTF(tf)

	if len(candles) < c.params.Slow {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), c.params.Slow)
	}

	var (
		fastSum, slowSum, sigSum float64
		emaFast, emaSlow, emaSig float64
		points                   []model.IndicatorPoint
		sigCount                 int
	)

	for i, cd := range candles {
		price := cd.Close

		// Fast EMA
		if i < c.params.Fast {
			fastSum += price
			emaFast = fastSum / float64(i+1)
		} else {
			emaFast += c.alphaFast * (price - emaFast)
		}

		// Slow EMA
		if i < c.params.Slow {
			slowSum += price
			emaSlow = slowSum / float64(i+1)
		} else {
			emaSlow += c.alphaSlow * (price - emaSlow)
		}

		// MACD line exists once the slow EMA is seeded
		if i < c.params.Slow-1 {
			continue
		}
		macdVal := emaFast - emaSlow

		// Signal EMA over the MACD line, seeded the same way
		if sigCount < c.params.Signal {
			sigSum += macdVal
			sigCount++
			emaSig = sigSum / float64(sigCount)
		} else {
			emaSig += c.alphaSig * (macdVal - emaSig)
		}

		points = append(points, model.IndicatorPoint{
			TS:     cd.TS,
			MACD:   macdVal,
			Signal: emaSig,
			Hist:   macdVal - emaSig,
		})
	}

	key := seriesKey{Symbol: symbol, TF: tf}
	c.mu.Lock()
	c.states[key] = &seriesState{
		emaFast:   emaFast,
		emaSlow:   emaSlow,
		emaSignal: emaSig,
		sigSum:    sigSum,
		sigCount:  sigCount,
		lastTS:    candles[len(candles)-1].TS,
	}
	c.mu.Unlock()

	c.cache.ReplaceSeries(symbol, tf, points)
	return points, nil
}

// AppendOne incrementally extends the series with one candle, updating the
// three EMAs in O(1) and appending exactly one point to the cache.
//
// Requires a prior ComputeFull for the series (ErrSeriesNotComputed) and a
// timestamp strictly after the last processed one (ErrOutOfOrder — state is
// untouched in both cases).
func (c *Calculator) AppendOne(symbol, tf string, candle model.Candle) (model.IndicatorPoint, error) {
	symbol = model.NormalizeSymbol(symbol)
	tf = model.NormalizeTF(tf)
	key := seriesKey{Symbol: symbol, TF: tf}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[key]
	if !ok {
		return model.IndicatorPoint{}, fmt.Errorf("%w: %s %s", ErrSeriesNotComputed, symbol, tf)
	}
	if !candle.TS.After(st.lastTS) {
		return model.IndicatorPoint{}, fmt.Errorf("%w: %s %s ts=%s last=%s",
			ErrOutOfOrder, symbol, tf, candle.TS.Format(time.RFC3339), st.lastTS.Format(time.RFC3339))
	}

	st.emaFast += c.alphaFast * (candle.Close - st.emaFast)
	st.emaSlow += c.alphaSlow * (candle.Close - st.emaSlow)
	macdVal := st.emaFast - st.emaSlow
	if st.sigCount < c.params.Signal {
		st.sigSum += macdVal
		st.sigCount++
		st.emaSignal = st.sigSum / float64(st.sigCount)
	} else {
		st.emaSignal += c.alphaSig * (macdVal - st.emaSignal)
	}
	st.lastTS = candle.TS

	pt := model.IndicatorPoint{
		TS:     candle.TS,
		MACD:   macdVal,
		Signal: st.emaSignal,
		Hist:   macdVal - st.emaSignal,
	}
	c.cache.Append(symbol, tf, pt)
	return pt, nil
}

// Reset discards the EMA state and cached series for (symbol, tf).
// The next ComputeFull reseeds from scratch.
func (c *Calculator) Reset(symbol, tf string) {
	symbol = model.NormalizeSymbol(symbol)
	tf = model.NormalizeTF(tf)

	c.mu.Lock()
	delete(c.states, seriesKey{Symbol: symbol, TF: tf})
	c.mu.Unlock()

	c.cache.ReplaceSeries(symbol, tf, nil)
}

// LastTS returns the last processed timestamp for a series, or ok=false if
// the series was never computed.
func (c *Calculator) LastTS(symbol, tf string) (time.Time, bool) {
	key := seriesKey{Symbol: model.NormalizeSymbol(symbol), TF: model.NormalizeTF(tf)}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		return time.Time{}, false
	}
	return st.lastTS, true
}
